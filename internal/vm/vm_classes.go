package vm

// beginClass opens a class definition. Field defaults and methods up to
// the matching END_CLASS attach to it.
func (vm *VM) beginClass(in Instruction) error {
	if vm.definingClass != nil {
		return vm.runtimeError("nested class definition %q", in.StrVal)
	}
	cls := &Class{Name: in.StrVal, Fields: make(map[string]Value)}
	vm.classes[in.StrVal] = cls
	vm.types.Register(in.StrVal, &Type{Tag: TAG_CLASS, Name: in.StrVal})
	vm.definingClass = cls
	return nil
}

func (vm *VM) setSuperclass(in Instruction) error {
	if vm.definingClass == nil {
		return vm.runtimeError("SET_SUPERCLASS outside of a class definition")
	}
	super, ok := vm.classes[in.StrVal]
	if !ok {
		return vm.runtimeError("unknown superclass %q", in.StrVal)
	}
	vm.definingClass.Super = super
	return nil
}

// defineField records a field default, popped from the stack.
func (vm *VM) defineField(in Instruction) error {
	if vm.definingClass == nil {
		return vm.runtimeError("DEFINE_FIELD outside of a class definition")
	}
	v := vm.pop()
	if _, exists := vm.definingClass.Fields[in.StrVal]; !exists {
		vm.definingClass.Order = append(vm.definingClass.Order, in.StrVal)
	}
	vm.definingClass.Fields[in.StrVal] = v
	return nil
}

// getProperty reads a field or binds a method on an instance. On a dict
// it is sugar for string-keyed access.
func (vm *VM) getProperty(in Instruction) error {
	target := deref(vm.pop())
	switch obj := target.Obj.(type) {
	case *Instance:
		if v, ok := obj.Fields[in.StrVal]; ok {
			vm.push(v)
			return nil
		}
		if fn := vm.lookupMethod(obj.Class, in.StrVal); fn != nil {
			vm.push(ObjVal(&Type{Tag: TAG_FUNCTION, Name: fn.Name}, &BoundMethod{Receiver: obj, Fn: fn}))
			return nil
		}
		return vm.runtimeError("%s has no property %q", obj.Class.Name, in.StrVal)
	case *Dict:
		if v, ok := obj.Get(StringVal(in.StrVal)); ok {
			vm.push(v)
			return nil
		}
		vm.push(NilVal())
		return nil
	case *EnumValue:
		return vm.runtimeError("enum value %s has no property %q", obj.Inspect(), in.StrVal)
	}
	if target.IsNil() {
		return vm.runtimeError("property access on nil")
	}
	return vm.runtimeError("cannot read property %q of %s", in.StrVal, target.TypeName())
}

// setProperty writes a field on an instance (or a string key on a dict).
// The value is above the target on the stack.
func (vm *VM) setProperty(in Instruction) error {
	val := vm.pop()
	target := deref(vm.pop())
	switch obj := target.Obj.(type) {
	case *Instance:
		obj.Fields[in.StrVal] = val
		return nil
	case *Dict:
		obj.Set(StringVal(in.StrVal), val)
		return nil
	}
	return vm.runtimeError("cannot set property %q on %s", in.StrVal, target.TypeName())
}

// loadSuper binds the named superclass method to the current receiver.
func (vm *VM) loadSuper(in Instruction) error {
	self, ok := vm.env.Get("this")
	if !ok {
		return vm.runtimeError("'super' used outside of a method")
	}
	inst, ok := self.Obj.(*Instance)
	if !ok {
		return vm.runtimeError("'super' receiver is not an instance")
	}
	if inst.Class.Super == nil {
		return vm.runtimeError("%s has no superclass", inst.Class.Name)
	}
	fn := vm.lookupMethod(inst.Class.Super, in.StrVal)
	if fn == nil {
		return vm.runtimeError("superclass of %s has no method %q", inst.Class.Name, in.StrVal)
	}
	vm.push(ObjVal(&Type{Tag: TAG_FUNCTION, Name: fn.Name}, &BoundMethod{Receiver: inst, Fn: fn}))
	return nil
}
