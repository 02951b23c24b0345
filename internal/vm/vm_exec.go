package vm

import (
	"fmt"
	"strings"
)

// execute decodes one instruction and runs its handler. Jump handlers set
// ip to target-1 because the run loop increments after each step.
func (vm *VM) execute(in Instruction) error {
	switch in.Op {

	// ---- stack ----
	case OP_PUSH_INT:
		vm.push(IntVal(in.IntVal))
	case OP_PUSH_FLOAT:
		vm.push(FloatVal(in.FloatVal))
	case OP_PUSH_STRING:
		vm.push(StringVal(in.StrVal))
	case OP_PUSH_BOOL:
		vm.push(BoolVal(in.BoolVal))
	case OP_PUSH_NULL:
		vm.push(NilVal())
	case OP_POP:
		vm.pop()
	case OP_DUP:
		vm.push(vm.peek())
	case OP_SWAP:
		a := vm.pop()
		b := vm.pop()
		vm.push(a)
		vm.push(b)

	// ---- variables ----
	case OP_STORE_VAR:
		return vm.storeVar(in)
	case OP_DEFINE_ATOMIC:
		v := vm.pop()
		if !v.IsInt() {
			return vm.runtimeError("atomic variable %q requires an integer initializer, got %s", in.StrVal, v.TypeName())
		}
		vm.env.Define(in.StrVal, ObjVal(atomicType, NewAtomic(v.AsInt())))
	case OP_LOAD_VAR:
		v, ok := vm.env.Get(in.StrVal)
		if !ok {
			return vm.runtimeError("undefined variable %q", in.StrVal)
		}
		vm.push(v)
	case OP_REMOVE_VAR:
		vm.env.Remove(in.StrVal)
	case OP_STORE_TEMP:
		vm.temps[in.StrVal] = vm.pop()
	case OP_LOAD_TEMP:
		v, ok := vm.temps[in.StrVal]
		if !ok {
			return vm.runtimeError("undefined temporary %q", in.StrVal)
		}
		vm.push(v)
	case OP_CLEAR_TEMP:
		if in.StrVal == "" {
			vm.temps = make(map[string]Value)
		} else {
			delete(vm.temps, in.StrVal)
		}
	case OP_LOAD_THIS:
		v, ok := vm.env.Get("this")
		if !ok {
			return vm.runtimeError("'this' used outside of a method")
		}
		vm.push(v)
	case OP_LOAD_SUPER:
		return vm.loadSuper(in)

	// ---- arithmetic ----
	case OP_ADD, OP_SUBTRACT, OP_MULTIPLY, OP_DIVIDE, OP_MODULO, OP_POWER:
		return vm.binaryOp(in.Op)
	case OP_NEGATE:
		return vm.negate()

	// ---- strings ----
	case OP_CONCAT:
		b := deref(vm.pop())
		a := deref(vm.pop())
		vm.push(StringVal(a.Inspect() + b.Inspect()))
	case OP_INTERPOLATE_STRING:
		parts := vm.popN(int(in.IntVal))
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(deref(p).Inspect())
		}
		vm.push(StringVal(sb.String()))

	// ---- comparison ----
	case OP_EQUAL:
		b := deref(vm.pop())
		a := deref(vm.pop())
		vm.push(BoolVal(a.Equals(b)))
	case OP_NOT_EQUAL:
		b := deref(vm.pop())
		a := deref(vm.pop())
		vm.push(BoolVal(!a.Equals(b)))
	case OP_LESS, OP_LESS_EQUAL, OP_GREATER, OP_GREATER_EQUAL:
		return vm.comparisonOp(in.Op)

	// ---- logical ----
	case OP_AND:
		b := vm.pop()
		a := vm.pop()
		vm.push(BoolVal(a.IsTruthy() && b.IsTruthy()))
	case OP_OR:
		b := vm.pop()
		a := vm.pop()
		vm.push(BoolVal(a.IsTruthy() || b.IsTruthy()))
	case OP_NOT:
		vm.push(BoolVal(!vm.pop().IsTruthy()))

	// ---- control flow ----
	case OP_JUMP:
		vm.ip += int(in.IntVal)
	case OP_JUMP_IF_TRUE:
		if vm.pop().IsTruthy() {
			vm.ip += int(in.IntVal)
		}
	case OP_JUMP_IF_FALSE:
		if !vm.pop().IsTruthy() {
			vm.ip += int(in.IntVal)
		}
	case OP_CALL:
		return vm.call(in)
	case OP_RETURN:
		return vm.performReturn()

	// ---- function definitions ----
	case OP_BEGIN_FUNCTION:
		return vm.defineFunction(in)
	case OP_END_FUNCTION:
		// Reached only when a function body runs off its end without an
		// explicit RETURN: return nil.
		vm.push(NilVal())
		return vm.performReturn()
	case OP_DEFINE_PARAM, OP_DEFINE_OPTIONAL_PARAM, OP_SET_DEFAULT_VALUE:
		// Consumed during the definition scan in defineFunction.
		return vm.runtimeError("%s outside of a function definition", in.Op)
	case OP_CREATE_CLOSURE:
		return vm.createClosure(in)

	// ---- classes ----
	case OP_BEGIN_CLASS:
		return vm.beginClass(in)
	case OP_END_CLASS:
		vm.definingClass = nil
	case OP_SET_SUPERCLASS:
		return vm.setSuperclass(in)
	case OP_DEFINE_FIELD:
		return vm.defineField(in)
	case OP_GET_PROPERTY:
		return vm.getProperty(in)
	case OP_SET_PROPERTY:
		return vm.setProperty(in)

	// ---- collections ----
	case OP_CREATE_LIST:
		elems := vm.popN(int(in.IntVal))
		vm.push(ObjVal(ListType, NewList(elems)))
	case OP_LIST_APPEND:
		v := vm.pop()
		l, ok := vm.peek().Obj.(*List)
		if !ok {
			return vm.runtimeError("LIST_APPEND on %s", vm.peek().TypeName())
		}
		l.Elements = append(l.Elements, v)
	case OP_CREATE_DICT:
		pairs := vm.popN(int(in.IntVal) * 2)
		d := NewDict()
		for i := 0; i+1 < len(pairs); i += 2 {
			d.Set(pairs[i], pairs[i+1])
		}
		vm.push(ObjVal(DictType, d))
	case OP_DICT_SET:
		v := vm.pop()
		k := vm.pop()
		d, ok := vm.peek().Obj.(*Dict)
		if !ok {
			return vm.runtimeError("DICT_SET on %s", vm.peek().TypeName())
		}
		d.Set(k, v)
	case OP_CREATE_TUPLE:
		elems := vm.popN(int(in.IntVal))
		types := make([]*Type, len(elems))
		for i, e := range elems {
			types[i] = e.Type
		}
		vm.push(ObjVal(&Type{Tag: TAG_TUPLE, Elems: types}, &Tuple{Elements: elems}))
	case OP_CREATE_RANGE:
		return vm.createRange(in)
	case OP_SET_RANGE_STEP:
		return vm.setRangeStep()
	case OP_GET_INDEX:
		return vm.getIndex()
	case OP_SET_INDEX:
		return vm.setIndex()

	// ---- iterators ----
	case OP_GET_ITERATOR:
		return vm.getIterator()
	case OP_ITERATOR_HAS_NEXT:
		it, err := vm.popIterator()
		if err != nil {
			return err
		}
		vm.push(BoolVal(it.HasNext()))
	case OP_ITERATOR_NEXT:
		it, err := vm.popIterator()
		if err != nil {
			return err
		}
		v, ok := it.Next()
		if !ok {
			return vm.runtimeError("ITERATOR_NEXT on exhausted iterator")
		}
		vm.push(v)

	// ---- scopes ----
	case OP_BEGIN_SCOPE:
		vm.env = NewEnclosedEnvironment(vm.env)
	case OP_END_SCOPE:
		if vm.env.Enclosing() == nil {
			return vm.runtimeError("END_SCOPE at global scope")
		}
		vm.env = vm.env.Enclosing()

	// ---- enums ----
	case OP_BEGIN_ENUM:
		vm.definingEnum = in.StrVal
		vm.types.Register(in.StrVal, &Type{Tag: TAG_ENUM, Name: in.StrVal})
	case OP_DEFINE_ENUM_VARIANT:
		if vm.definingEnum == "" {
			return vm.runtimeError("DEFINE_ENUM_VARIANT outside of an enum definition")
		}
		name := vm.definingEnum
		vm.enums[name] = append(vm.enums[name], in.StrVal)
		val := ObjVal(vm.types.Lookup(name), &EnumValue{TypeName: name, Variant: in.StrVal})
		vm.globals.Define(name+"."+in.StrVal, val)
	case OP_END_ENUM:
		vm.definingEnum = ""

	// ---- pattern matching ----
	case OP_MATCH_PATTERN:
		return vm.matchPattern()

	// ---- error unions ----
	case OP_PUSH_ERROR_FRAME:
		fn := "<main>"
		if n := len(vm.frames); n > 0 {
			fn = vm.frames[n-1].FunctionName
		}
		vm.errorFrames = append(vm.errorFrames, ErrorFrame{
			Handler:      vm.ip + 1 + int(in.IntVal),
			StackBase:    len(vm.stack),
			ErrType:      in.StrVal,
			FunctionName: fn,
			FrameDepth:   len(vm.frames),
		})
	case OP_POP_ERROR_FRAME:
		if n := len(vm.errorFrames); n > 0 {
			vm.errorFrames = vm.errorFrames[:n-1]
		}
	case OP_CHECK_ERROR:
		vm.push(BoolVal(vm.peek().IsError()))
	case OP_PROPAGATE_ERROR:
		return vm.propagateTop()
	case OP_CONSTRUCT_ERROR:
		return vm.constructError(in)
	case OP_CONSTRUCT_OK:
		v := vm.pop()
		vm.push(Value{
			Type: vm.types.MakeErrorUnion(v.Type, nil),
			Data: v.Data,
			Obj:  v.Obj,
		})
	case OP_IS_ERROR:
		vm.push(BoolVal(vm.pop().IsError()))
	case OP_IS_SUCCESS:
		vm.push(BoolVal(!vm.pop().IsError()))
	case OP_UNWRAP_VALUE:
		return vm.unwrapValue()

	// ---- concurrency ----
	case OP_BEGIN_PARALLEL:
		return vm.beginParallel(OP_END_PARALLEL)
	case OP_BEGIN_CONCURRENT:
		return vm.beginParallel(OP_END_CONCURRENT)
	case OP_END_PARALLEL, OP_END_CONCURRENT:
		// Only reached directly when a block had no tasks; nothing to join.
	case OP_BEGIN_TASK, OP_BEGIN_WORKER:
		return vm.beginTask(in.Op)
	case OP_END_TASK, OP_END_WORKER:
		// Block ends are skipped over by the task extraction.
	case OP_AWAIT:
		return vm.await()

	// ---- I/O ----
	case OP_PRINT:
		n := int(in.IntVal)
		if n <= 0 {
			n = 1
		}
		vals := vm.popN(n)
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = deref(v).Inspect()
		}
		fmt.Fprintln(vm.out, strings.Join(parts, " "))
	case OP_HALT:
		vm.halted = true

	default:
		return vm.runtimeError("unsupported instruction %s", in.Op)
	}
	return nil
}

// atomicType tags atomic cells; they masquerade as integers to arithmetic
// and comparison through deref.
var atomicType = &Type{Tag: TAG_OBJECT, Name: "atomic"}

// deref unwraps atomic cells to their current integer value. All other
// values pass through.
func deref(v Value) Value {
	if a, ok := v.Obj.(*Atomic); ok {
		return IntVal(a.Load())
	}
	return v
}

// propagateTop implements PROPAGATE_ERROR: if the top of the stack is an
// error, route it through the error frames; otherwise leave it alone.
func (vm *VM) propagateTop() error {
	if len(vm.stack) == 0 {
		return nil
	}
	top := vm.peek()
	if !top.IsError() {
		return nil
	}
	vm.pop()
	if !vm.propagateError(top) {
		e := top.ErrorValue()
		return vm.runtimeError("unhandled error: %s%s", e.ErrType, errMessageSuffix(e))
	}
	return nil
}

// unwrapValue implements UNWRAP_VALUE: success payloads lose their
// error-union wrapper, errors propagate.
func (vm *VM) unwrapValue() error {
	v := vm.pop()
	if v.IsError() {
		if !vm.propagateError(v) {
			e := v.ErrorValue()
			return vm.runtimeError("unhandled error during unwrap: %s%s", e.ErrType, errMessageSuffix(e))
		}
		return nil
	}
	if v.Type.Tag == TAG_ERROR_UNION {
		v.Type = elemOrAny(v.Type.Success)
	}
	vm.push(v)
	return nil
}

func (vm *VM) constructError(in Instruction) error {
	errType := in.StrVal
	args := vm.popN(int(in.IntVal))
	message := ""
	if len(args) > 0 && args[0].IsString() {
		message = args[0].AsString()
	}
	vm.types.RegisterErrorType(errType)
	vm.push(Value{
		Type: vm.types.MakeErrorUnion(NilType, []string{errType}),
		Obj: &ErrorObject{
			ErrType: errType,
			Message: message,
			Args:    args,
			Line:    in.Line,
		},
	})
	return nil
}

func (vm *VM) popIterator() (*Iterator, error) {
	v := vm.pop()
	it, ok := v.Obj.(*Iterator)
	if !ok {
		return nil, vm.runtimeError("expected iterator, got %s", v.TypeName())
	}
	return it, nil
}

func errMessageSuffix(e *ErrorObject) string {
	if e.Message == "" {
		return ""
	}
	return " - " + e.Message
}

// storeVar handles STORE_VAR. The bool operand marks a declaration, which
// always binds in the current scope (shadowing); plain stores walk outward
// to the owning scope and fault when no scope owns the name. Stores into an
// atomic cell go through the cell, not the binding.
func (vm *VM) storeVar(in Instruction) error {
	v := vm.pop()
	if in.BoolVal {
		vm.env.Define(in.StrVal, v)
		return nil
	}
	cur, ok := vm.env.Get(in.StrVal)
	if !ok {
		return vm.runtimeError("undefined variable %q", in.StrVal)
	}
	if a, isAtomic := cur.Obj.(*Atomic); isAtomic {
		if _, sameCell := v.Obj.(*Atomic); !sameCell {
			nv := deref(v)
			if !nv.IsInt() {
				return vm.runtimeError("atomic variable %q requires an integer value", in.StrVal)
			}
			a.Store(nv.AsInt())
		}
		return nil
	}
	vm.env.Assign(in.StrVal, v)
	return nil
}

// matchLimitExceeded guards MATCH_PATTERN against runaway match loops.
func (vm *VM) matchLimitExceeded() bool {
	vm.matchSteps++
	return vm.matchSteps > vm.matchLimit
}
