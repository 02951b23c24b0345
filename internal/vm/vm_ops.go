package vm

import (
	"math"

	"github.com/netesy/limitly/internal/config"
)

// binaryOp evaluates the arithmetic operators. Operands promote to the
// wider numeric type before the operation; the result carries the
// promoted type. An ADD whose left operand is an atomic cell becomes a
// fetch-and-add on the cell itself.
func (vm *VM) binaryOp(op Opcode) error {
	rhs := vm.pop()
	lhs := vm.pop()

	if a, ok := lhs.Obj.(*Atomic); ok && op == OP_ADD {
		delta := deref(rhs)
		if !delta.IsInt() {
			return vm.runtimeError("atomic add requires an integer operand, got %s", delta.TypeName())
		}
		a.Add(delta.AsInt())
		// Push the cell itself so a following store is a no-op; the
		// increment already happened atomically.
		vm.push(lhs)
		return nil
	}
	lhs, rhs = deref(lhs), deref(rhs)

	if op == OP_ADD && lhs.IsString() && rhs.IsString() {
		vm.push(StringVal(lhs.AsString() + rhs.AsString()))
		return nil
	}
	if op == OP_ADD {
		if ll, ok := lhs.Obj.(*List); ok {
			if rl, ok := rhs.Obj.(*List); ok {
				merged := make([]Value, 0, len(ll.Elements)+len(rl.Elements))
				merged = append(merged, ll.Elements...)
				merged = append(merged, rl.Elements...)
				vm.push(ObjVal(ListType, NewList(merged)))
				return nil
			}
		}
	}

	if !lhs.Type.Tag.IsNumeric() || !rhs.Type.Tag.IsNumeric() {
		return vm.runtimeError("%s not supported between %s and %s", op, lhs.TypeName(), rhs.TypeName())
	}

	wide, err := vm.types.WiderType(lhs.Type, rhs.Type)
	if err != nil {
		return vm.runtimeError("%v", err)
	}

	if wide.Tag.IsFloat() {
		a, b := lhs.AsFloat(), rhs.AsFloat()
		var r float64
		switch op {
		case OP_ADD:
			r = a + b
		case OP_SUBTRACT:
			r = a - b
		case OP_MULTIPLY:
			r = a * b
		case OP_DIVIDE:
			if b == 0 {
				return vm.raiseError(config.DivisionByZeroError, "division by zero")
			}
			r = a / b
		case OP_MODULO:
			if b == 0 {
				return vm.raiseError(config.DivisionByZeroError, "modulo by zero")
			}
			r = math.Mod(a, b)
		case OP_POWER:
			r = math.Pow(a, b)
		}
		if wide.Tag == TAG_FLOAT32 {
			vm.push(Float32Val(float32(r)))
		} else {
			vm.push(FloatVal(r))
		}
		return nil
	}

	if wide.Tag == TAG_UINT64 {
		a, b := lhs.AsUint(), rhs.AsUint()
		var r uint64
		switch op {
		case OP_ADD:
			r = a + b
		case OP_SUBTRACT:
			r = a - b
		case OP_MULTIPLY:
			r = a * b
		case OP_DIVIDE:
			if b == 0 {
				return vm.raiseError(config.DivisionByZeroError, "division by zero")
			}
			r = a / b
		case OP_MODULO:
			if b == 0 {
				return vm.raiseError(config.DivisionByZeroError, "modulo by zero")
			}
			r = a % b
		case OP_POWER:
			r = uintPow(a, b)
		}
		vm.push(UintValOf(wide, r))
		return nil
	}

	a, b := lhs.AsInt(), rhs.AsInt()
	var r int64
	switch op {
	case OP_ADD:
		r = a + b
	case OP_SUBTRACT:
		r = a - b
	case OP_MULTIPLY:
		r = a * b
	case OP_DIVIDE:
		if b == 0 {
			return vm.raiseError(config.DivisionByZeroError, "division by zero")
		}
		r = a / b
	case OP_MODULO:
		if b == 0 {
			return vm.raiseError(config.DivisionByZeroError, "modulo by zero")
		}
		r = a % b
	case OP_POWER:
		r = intPow(a, b)
	}
	vm.push(IntValOf(wide, truncateToWidth(r, wide.Tag)))
	return nil
}

func (vm *VM) negate() error {
	v := deref(vm.pop())
	switch {
	case v.Type.Tag.IsFloat():
		if v.Type.Tag == TAG_FLOAT32 {
			vm.push(Float32Val(-float32(v.AsFloat())))
		} else {
			vm.push(FloatVal(-v.AsFloat()))
		}
	case v.Type.Tag.IsInteger():
		vm.push(IntValOf(v.Type, truncateToWidth(-v.AsInt(), v.Type.Tag)))
	default:
		return vm.runtimeError("cannot negate %s", v.TypeName())
	}
	return nil
}

// comparisonOp evaluates the ordering operators. Numbers compare after
// promotion, strings lexicographically.
func (vm *VM) comparisonOp(op Opcode) error {
	rhs := deref(vm.pop())
	lhs := deref(vm.pop())

	var cmp int
	switch {
	case lhs.Type.Tag.IsNumeric() && rhs.Type.Tag.IsNumeric():
		cmp = compareNumeric(lhs, rhs)
	case lhs.IsString() && rhs.IsString():
		a, b := lhs.AsString(), rhs.AsString()
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	default:
		return vm.runtimeError("%s not supported between %s and %s", op, lhs.TypeName(), rhs.TypeName())
	}

	var result bool
	switch op {
	case OP_LESS:
		result = cmp < 0
	case OP_LESS_EQUAL:
		result = cmp <= 0
	case OP_GREATER:
		result = cmp > 0
	case OP_GREATER_EQUAL:
		result = cmp >= 0
	}
	vm.push(BoolVal(result))
	return nil
}

func compareNumeric(a, b Value) int {
	if a.Type.Tag.IsFloat() || b.Type.Tag.IsFloat() {
		fa, fb := a.AsFloat(), b.AsFloat()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if a.Type.Tag == TAG_UINT64 || b.Type.Tag == TAG_UINT64 {
		// Mixed sign at full width: a negative signed value is always
		// smaller than any u64.
		if a.Type.Tag.IsSigned() && a.AsInt() < 0 {
			return -1
		}
		if b.Type.Tag.IsSigned() && b.AsInt() < 0 {
			return 1
		}
		ua, ub := a.AsUint(), b.AsUint()
		switch {
		case ua < ub:
			return -1
		case ua > ub:
			return 1
		}
		return 0
	}
	ia, ib := a.AsInt(), b.AsInt()
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	}
	return 0
}

// truncateToWidth wraps an int64 result back into the storage width of
// the result type, preserving two's-complement semantics.
func truncateToWidth(v int64, tag TypeTag) int64 {
	switch tag {
	case TAG_INT8:
		return int64(int8(v))
	case TAG_UINT8:
		return int64(uint8(v))
	case TAG_INT16:
		return int64(int16(v))
	case TAG_UINT16:
		return int64(uint16(v))
	case TAG_INT32:
		return int64(int32(v))
	case TAG_UINT32:
		return int64(uint32(v))
	}
	return v
}

func intPow(base, exp int64) int64 {
	if exp < 0 {
		return 0
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func uintPow(base, exp uint64) uint64 {
	result := uint64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// getIndex implements GET_INDEX over lists, tuples, dicts and strings.
// Out-of-range list and string indexes raise IndexOutOfBounds; a missing
// dict key raises IndexOutOfBounds as well.
func (vm *VM) getIndex() error {
	idx := deref(vm.pop())
	target := deref(vm.pop())

	switch obj := target.Obj.(type) {
	case *List:
		i, err := vm.checkIndex(idx, len(obj.Elements))
		if err != nil {
			return err
		}
		vm.push(obj.Elements[i])
	case *Tuple:
		i, err := vm.checkIndex(idx, len(obj.Elements))
		if err != nil {
			return err
		}
		vm.push(obj.Elements[i])
	case *Dict:
		v, ok := obj.Get(idx)
		if !ok {
			return vm.raiseError(config.IndexOutOfBoundsError, "key not found: "+idx.Inspect())
		}
		vm.push(v)
	case *String:
		runes := []rune(obj.Val)
		i, err := vm.checkIndex(idx, len(runes))
		if err != nil {
			return err
		}
		vm.push(StringVal(string(runes[i])))
	default:
		if target.IsNil() {
			return vm.raiseError(config.NullReferenceError, "cannot index nil")
		}
		return vm.runtimeError("cannot index %s", target.TypeName())
	}
	return nil
}

// setIndex implements SET_INDEX for lists and dicts. The target is left
// on the stack by the compiler and consumed here.
func (vm *VM) setIndex() error {
	val := vm.pop()
	idx := deref(vm.pop())
	target := deref(vm.pop())

	switch obj := target.Obj.(type) {
	case *List:
		i, err := vm.checkIndex(idx, len(obj.Elements))
		if err != nil {
			return err
		}
		obj.Elements[i] = val
	case *Dict:
		obj.Set(idx, val)
	default:
		if target.IsNil() {
			return vm.raiseError(config.NullReferenceError, "cannot index nil")
		}
		return vm.runtimeError("cannot assign into %s by index", target.TypeName())
	}
	return nil
}

func (vm *VM) checkIndex(idx Value, length int) (int, error) {
	if !idx.IsInt() {
		return 0, vm.runtimeError("index must be an integer, got %s", idx.TypeName())
	}
	i := idx.AsInt()
	if i < 0 {
		i += int64(length)
	}
	if i < 0 || i >= int64(length) {
		return 0, vm.raiseError(config.IndexOutOfBoundsError,
			"index "+IntVal(idx.AsInt()).Inspect()+" out of range for length "+IntVal(int64(length)).Inspect())
	}
	return int(i), nil
}
