package vm

import (
	"fmt"
	"time"

	"github.com/netesy/limitly/internal/config"
)

// registerCoreNatives installs the built-in host functions every program
// can reach. Domain modules (yaml, db, term, grpc) register theirs
// through RegisterNative at startup.
func (vm *VM) registerCoreNatives() {
	vm.natives["len"] = nativeLen
	vm.natives["typeOf"] = nativeTypeOf
	vm.natives["str"] = nativeStr
	vm.natives["int"] = nativeInt
	vm.natives["float"] = nativeFloat
	vm.natives["clock"] = nativeClock
	vm.natives["sleep"] = nativeSleep
	vm.natives["channel"] = nativeChannel
	vm.natives["send"] = nativeSend
	vm.natives["receive"] = nativeReceive
	vm.natives["close"] = nativeClose
	vm.natives["append"] = nativeAppend
	vm.natives["keys"] = nativeKeys
	vm.natives["values"] = nativeValues
}

func arityError(name string, want, got int) error {
	return fmt.Errorf("%s expects %d argument(s), got %d", name, want, got)
}

func nativeLen(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("len", 1, len(args))
	}
	switch obj := args[0].Obj.(type) {
	case *String:
		return IntVal(int64(len([]rune(obj.Val)))), nil
	case *List:
		return IntVal(int64(len(obj.Elements))), nil
	case *Tuple:
		return IntVal(int64(len(obj.Elements))), nil
	case *Dict:
		return IntVal(int64(obj.Len())), nil
	case *Range:
		return IntVal(int64(len(obj.Elements()))), nil
	case *ChannelObject:
		return IntVal(int64(obj.Ch.Len())), nil
	}
	return NilVal(), fmt.Errorf("len of %s", args[0].TypeName())
}

func nativeTypeOf(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("typeOf", 1, len(args))
	}
	return StringVal(args[0].TypeName()), nil
}

func nativeStr(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("str", 1, len(args))
	}
	return StringVal(args[0].Inspect()), nil
}

// nativeInt converts to int. A malformed string yields a TypeConversion
// error value rather than a host failure.
func nativeInt(vm *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("int", 1, len(args))
	}
	v, err := vm.types.Convert(args[0], IntType)
	if err != nil {
		return conversionError(vm, err), nil
	}
	return v, nil
}

func nativeFloat(vm *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("float", 1, len(args))
	}
	v, err := vm.types.Convert(args[0], FloatType)
	if err != nil {
		return conversionError(vm, err), nil
	}
	return v, nil
}

func conversionError(vm *VM, err error) Value {
	return Value{
		Type: vm.types.MakeErrorUnion(NilType, []string{config.TypeConversionError}),
		Obj:  &ErrorObject{ErrType: config.TypeConversionError, Message: err.Error()},
	}
}

func nativeClock(_ *VM, args []Value) (Value, error) {
	return FloatVal(float64(time.Now().UnixNano()) / 1e9), nil
}

func nativeSleep(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("sleep", 1, len(args))
	}
	ms := args[0]
	switch {
	case ms.IsInt():
		time.Sleep(time.Duration(ms.AsInt()) * time.Millisecond)
	case ms.IsFloat():
		time.Sleep(time.Duration(ms.AsFloat() * float64(time.Millisecond)))
	default:
		return NilVal(), fmt.Errorf("sleep expects a duration in milliseconds")
	}
	return NilVal(), nil
}

func nativeChannel(_ *VM, args []Value) (Value, error) {
	capacity := 0
	if len(args) > 0 {
		if !args[0].IsInt() {
			return NilVal(), fmt.Errorf("channel capacity must be an integer")
		}
		capacity = int(args[0].AsInt())
	}
	return ObjVal(ChannelType, NewChannelObject(capacity)), nil
}

func nativeSend(_ *VM, args []Value) (Value, error) {
	if len(args) != 2 {
		return NilVal(), arityError("send", 2, len(args))
	}
	ch, ok := args[0].Obj.(*ChannelObject)
	if !ok {
		return NilVal(), fmt.Errorf("send expects a channel, got %s", args[0].TypeName())
	}
	if err := ch.Send(args[1]); err != nil {
		return NilVal(), err
	}
	return NilVal(), nil
}

// nativeReceive blocks until a value arrives; a closed, drained channel
// yields nil.
func nativeReceive(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("receive", 1, len(args))
	}
	ch, ok := args[0].Obj.(*ChannelObject)
	if !ok {
		return NilVal(), fmt.Errorf("receive expects a channel, got %s", args[0].TypeName())
	}
	v, ok := ch.Receive()
	if !ok {
		return NilVal(), nil
	}
	return v, nil
}

func nativeClose(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("close", 1, len(args))
	}
	ch, ok := args[0].Obj.(*ChannelObject)
	if !ok {
		return NilVal(), fmt.Errorf("close expects a channel, got %s", args[0].TypeName())
	}
	ch.Close()
	return NilVal(), nil
}

func nativeAppend(_ *VM, args []Value) (Value, error) {
	if len(args) < 2 {
		return NilVal(), arityError("append", 2, len(args))
	}
	l, ok := args[0].Obj.(*List)
	if !ok {
		return NilVal(), fmt.Errorf("append expects a list, got %s", args[0].TypeName())
	}
	l.Elements = append(l.Elements, args[1:]...)
	return args[0], nil
}

func nativeKeys(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("keys", 1, len(args))
	}
	d, ok := args[0].Obj.(*Dict)
	if !ok {
		return NilVal(), fmt.Errorf("keys expects a dict, got %s", args[0].TypeName())
	}
	out := make([]Value, 0, d.Len())
	for _, e := range d.Entries() {
		out = append(out, e.Key)
	}
	return ObjVal(ListType, NewList(out)), nil
}

func nativeValues(_ *VM, args []Value) (Value, error) {
	if len(args) != 1 {
		return NilVal(), arityError("values", 1, len(args))
	}
	d, ok := args[0].Obj.(*Dict)
	if !ok {
		return NilVal(), fmt.Errorf("values expects a dict, got %s", args[0].TypeName())
	}
	out := make([]Value, 0, d.Len())
	for _, e := range d.Entries() {
		out = append(out, e.Val)
	}
	return ObjVal(ListType, NewList(out)), nil
}
