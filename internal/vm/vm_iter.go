package vm

import "fmt"

// Range is a lazy integer progression; it materializes when iterated or
// indexed. Step defaults to 1 (or -1 for descending bounds).
type Range struct {
	Start     int64
	End       int64
	Step      int64
	Inclusive bool
}

func (r *Range) Kind() string { return RANGE_KIND }

func (r *Range) Inspect() string {
	op := ".."
	if r.Inclusive {
		op = "..="
	}
	if r.Step != 1 && r.Step != -1 {
		return fmt.Sprintf("%d%s%d by %d", r.Start, op, r.End, r.Step)
	}
	return fmt.Sprintf("%d%s%d", r.Start, op, r.End)
}

func (r *Range) Hash() uint32 {
	return hashString(r.Inspect())
}

// Elements materializes the progression. A step moving away from the end
// yields an empty sequence rather than looping.
func (r *Range) Elements() []Value {
	step := r.Step
	if step == 0 {
		return nil
	}
	var out []Value
	if step > 0 {
		end := r.End
		if r.Inclusive {
			end++
		}
		for i := r.Start; i < end; i += step {
			out = append(out, IntVal(i))
		}
	} else {
		end := r.End
		if r.Inclusive {
			end--
		}
		for i := r.Start; i > end; i += step {
			out = append(out, IntVal(i))
		}
	}
	return out
}

// createRange handles CREATE_RANGE: start and end are on the stack, the
// bool operand marks an inclusive upper bound.
func (vm *VM) createRange(in Instruction) error {
	end := deref(vm.pop())
	start := deref(vm.pop())
	if !start.IsInt() || !end.IsInt() {
		return vm.runtimeError("range bounds must be integers, got %s and %s",
			start.TypeName(), end.TypeName())
	}
	r := &Range{Start: start.AsInt(), End: end.AsInt(), Step: 1, Inclusive: in.BoolVal}
	if r.End < r.Start {
		r.Step = -1
	}
	vm.push(ObjVal(&Type{Tag: TAG_RANGE}, r))
	return nil
}

// setRangeStep handles SET_RANGE_STEP: the step is on top, the range
// beneath it; the range stays on the stack.
func (vm *VM) setRangeStep() error {
	step := deref(vm.pop())
	r, ok := vm.peek().Obj.(*Range)
	if !ok {
		return vm.runtimeError("SET_RANGE_STEP on %s", vm.peek().TypeName())
	}
	if !step.IsInt() || step.AsInt() == 0 {
		return vm.runtimeError("range step must be a non-zero integer")
	}
	r.Step = step.AsInt()
	return nil
}

// getIterator handles GET_ITERATOR over lists, ranges, dicts (keys in
// insertion order), strings (runes) and channels. An iterator passes
// through unchanged.
func (vm *VM) getIterator() error {
	v := deref(vm.pop())
	iterType := &Type{Tag: TAG_OBJECT, Name: "iterator"}

	switch obj := v.Obj.(type) {
	case *Iterator:
		vm.push(v)
		return nil
	case *List:
		vm.push(ObjVal(iterType, &Iterator{List: obj}))
		return nil
	case *Tuple:
		vm.push(ObjVal(iterType, &Iterator{List: NewList(obj.Elements)}))
		return nil
	case *Range:
		vm.push(ObjVal(iterType, &Iterator{List: NewList(obj.Elements())}))
		return nil
	case *Dict:
		keys := make([]Value, 0, obj.Len())
		for _, e := range obj.Entries() {
			keys = append(keys, e.Key)
		}
		vm.push(ObjVal(iterType, &Iterator{List: NewList(keys)}))
		return nil
	case *String:
		runes := []rune(obj.Val)
		chars := make([]Value, len(runes))
		for i, r := range runes {
			chars[i] = StringVal(string(r))
		}
		vm.push(ObjVal(iterType, &Iterator{List: NewList(chars)}))
		return nil
	case *ChannelObject:
		vm.push(ObjVal(iterType, &Iterator{Ch: obj}))
		return nil
	}
	return vm.runtimeError("%s is not iterable", v.TypeName())
}
