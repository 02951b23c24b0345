package vm

import "github.com/netesy/limitly/internal/config"

// matchPattern implements MATCH_PATTERN. The compiler pushes the pattern
// description above the match subject; the instruction pops the pattern,
// peeks the subject (arms retest the same value) and pushes the outcome
// as a bool. Bindings are committed only when the whole pattern matched.
//
// Pattern encodings, selected by a marker string on top:
//
//	__type_pattern__   : pop type name; matches by runtime type
//	__bind_pattern__   : pop name; always matches, binds the subject
//	__val_pattern__    : pop name; matches success values, binds payload
//	__err_pattern__    : pop error type then name; matches errors
//	__list_pattern__   : pop count, then count element patterns
//	__tuple_pattern__  : same, requiring a tuple subject of exact arity
//	__dict_pattern__   : pop rest name, has-rest, field count, then
//	                     (binding, key) pairs
//
// Anything else on top is a literal compared for equality.
func (vm *VM) matchPattern() error {
	if vm.matchLimitExceeded() {
		return vm.runtimeError("pattern match step limit exceeded")
	}

	pattern := vm.pop()
	marker := ""
	if pattern.IsString() {
		marker = pattern.AsString()
	}

	bindings := make(map[string]Value)
	var matched bool
	var err error

	switch marker {
	case config.TypePatternMarker:
		name := vm.pop()
		subject := deref(vm.peek())
		matched = subject.TypeName() == name.AsString()
	case config.BindPatternMarker:
		name := vm.pop()
		subject := vm.peek()
		matched = true
		if name.AsString() != config.WildcardPattern {
			bindings[name.AsString()] = subject
		}
	case config.ValPatternMarker:
		name := vm.pop()
		subject := vm.peek()
		if !subject.IsError() {
			matched = true
			payload := subject
			if payload.Type.Tag == TAG_ERROR_UNION {
				payload.Type = elemOrAny(payload.Type.Success)
			}
			if name.AsString() != config.WildcardPattern {
				bindings[name.AsString()] = payload
			}
		}
	case config.ErrPatternMarker:
		errType := vm.pop()
		name := vm.pop()
		subject := vm.peek()
		if e := subject.ErrorValue(); e != nil {
			want := errType.AsString()
			if want == "" || want == config.WildcardPattern || want == e.ErrType {
				matched = true
				if name.AsString() != config.WildcardPattern {
					bindings[name.AsString()] = subject
				}
			}
		}
	case config.ListPatternMarker, config.TuplePatternMarker:
		matched, err = vm.matchSequence(marker, bindings)
	case config.DictPatternMarker:
		matched, err = vm.matchDict(bindings)
	default:
		subject := deref(vm.peek())
		matched = deref(pattern).Equals(subject)
	}
	if err != nil {
		return err
	}

	if matched {
		for name, v := range bindings {
			vm.env.Define(name, v)
		}
	}
	vm.push(BoolVal(matched))
	return nil
}

// matchSequence handles list and tuple patterns. Element patterns are
// strings (binding names, "_" wildcard) or literal values.
func (vm *VM) matchSequence(marker string, bindings map[string]Value) (bool, error) {
	count := vm.pop()
	if !count.IsInt() {
		return false, vm.runtimeError("malformed sequence pattern: element count is %s", count.TypeName())
	}
	elems := vm.popN(int(count.AsInt()))
	subject := deref(vm.peek())

	var values []Value
	switch obj := subject.Obj.(type) {
	case *List:
		if marker != config.ListPatternMarker {
			return false, nil
		}
		values = obj.Elements
	case *Tuple:
		if marker != config.TuplePatternMarker {
			return false, nil
		}
		values = obj.Elements
	default:
		return false, nil
	}
	if len(values) != len(elems) {
		return false, nil
	}

	for i, pat := range elems {
		if pat.IsString() {
			name := pat.AsString()
			if name == config.WildcardPattern {
				continue
			}
			bindings[name] = values[i]
			continue
		}
		if !deref(pat).Equals(deref(values[i])) {
			return false, nil
		}
	}
	return true, nil
}

// matchDict handles dict patterns: each named field must be present, its
// value bound; with a rest binding the unmatched entries collect into a
// fresh dict, otherwise extra keys are allowed but unbound.
func (vm *VM) matchDict(bindings map[string]Value) (bool, error) {
	restName := vm.pop()
	hasRest := vm.pop()
	count := vm.pop()
	if !count.IsInt() {
		return false, vm.runtimeError("malformed dict pattern: field count is %s", count.TypeName())
	}
	type field struct{ binding, key string }
	fields := make([]field, 0, count.AsInt())
	for i := int64(0); i < count.AsInt(); i++ {
		binding := vm.pop()
		key := vm.pop()
		fields = append(fields, field{binding.AsString(), key.AsString()})
	}

	subject := deref(vm.peek())
	d, ok := subject.Obj.(*Dict)
	if !ok {
		return false, nil
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		v, ok := d.Get(StringVal(f.key))
		if !ok {
			return false, nil
		}
		seen[f.key] = true
		if f.binding != config.WildcardPattern {
			bindings[f.binding] = v
		}
	}

	if hasRest.IsTruthy() && restName.AsString() != "" {
		rest := NewDict()
		for _, e := range d.Entries() {
			if e.Key.IsString() && seen[e.Key.AsString()] {
				continue
			}
			rest.Set(e.Key, e.Val)
		}
		bindings[restName.AsString()] = ObjVal(DictType, rest)
	}
	return true, nil
}
