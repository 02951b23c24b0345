package vm

import (
	"context"
	"fmt"
)

// defineFunction handles BEGIN_FUNCTION. The instructions between
// BEGIN_FUNCTION and the body are a declaration header: DEFINE_PARAM /
// DEFINE_OPTIONAL_PARAM entries, each optional parameter optionally
// followed by a literal push and SET_DEFAULT_VALUE. The scan consumes the
// header, locates the matching END_FUNCTION, registers the function and
// jumps execution past the body.
func (vm *VM) defineFunction(in Instruction) error {
	fn := &Function{
		Name:      in.StrVal,
		CanFail:   in.BoolVal,
		StartAddr: vm.ip + 1,
	}
	if vm.definingClass != nil {
		fn.IsMethod = true
		fn.ClassName = vm.definingClass.Name
	}

	i := vm.ip + 1
	var pending Value
	hasPending := false
scan:
	for i < len(vm.program) {
		h := vm.program[i]
		switch h.Op {
		case OP_DEFINE_PARAM:
			fn.Params = append(fn.Params, Param{Name: h.StrVal})
		case OP_DEFINE_OPTIONAL_PARAM:
			fn.Params = append(fn.Params, Param{Name: h.StrVal, Optional: true})
		case OP_PUSH_INT, OP_PUSH_FLOAT, OP_PUSH_STRING, OP_PUSH_BOOL, OP_PUSH_NULL:
			// A push belongs to the header only as a default value; a
			// push that is not immediately consumed by SET_DEFAULT_VALUE
			// is the first body instruction.
			if i+1 >= len(vm.program) || vm.program[i+1].Op != OP_SET_DEFAULT_VALUE {
				break scan
			}
			switch h.Op {
			case OP_PUSH_INT:
				pending = IntVal(h.IntVal)
			case OP_PUSH_FLOAT:
				pending = FloatVal(h.FloatVal)
			case OP_PUSH_STRING:
				pending = StringVal(h.StrVal)
			case OP_PUSH_BOOL:
				pending = BoolVal(h.BoolVal)
			case OP_PUSH_NULL:
				pending = NilVal()
			}
			hasPending = true
		case OP_SET_DEFAULT_VALUE:
			if len(fn.Params) == 0 || !hasPending {
				return vm.runtimeError("SET_DEFAULT_VALUE without an optional parameter")
			}
			p := &fn.Params[len(fn.Params)-1]
			p.Default = pending
			p.HasDef = true
			hasPending = false
		default:
			break scan
		}
		i++
	}
	fn.StartAddr = i

	end, ok := vm.findMatching(vm.ip, OP_BEGIN_FUNCTION, OP_END_FUNCTION)
	if !ok {
		return vm.runtimeError("function %q has no END_FUNCTION", fn.Name)
	}
	fn.EndAddr = end

	name := fn.Name
	if fn.IsMethod {
		name = fn.ClassName + "." + fn.Name
	}
	vm.functions[name] = fn
	if !fn.IsMethod {
		vm.env.Define(fn.Name, ObjVal(&Type{Tag: TAG_FUNCTION, Name: fn.Name}, fn))
	}

	vm.ip = end // loop increment resumes after END_FUNCTION
	return nil
}

// findMatching scans forward from start for the close opcode matching the
// open opcode at start, tracking nesting.
func (vm *VM) findMatching(start int, open, close Opcode) (int, bool) {
	depth := 0
	for i := start; i < len(vm.program); i++ {
		switch vm.program[i].Op {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// createClosure handles CREATE_CLOSURE: the compiler pushes the captured
// variable names as strings (count in the integer operand) above the
// function value. The captured names are copied by value out of the
// defining scope.
func (vm *VM) createClosure(in Instruction) error {
	names := make([]string, int(in.IntVal))
	raw := vm.popN(int(in.IntVal))
	for i, v := range raw {
		if !v.IsString() {
			return vm.runtimeError("CREATE_CLOSURE expects captured names, got %s", v.TypeName())
		}
		names[i] = v.AsString()
	}
	fnVal := vm.pop()
	fn, ok := fnVal.Obj.(*Function)
	if !ok {
		return vm.runtimeError("CREATE_CLOSURE over %s", fnVal.TypeName())
	}
	cl := &Closure{
		Fn:       fn,
		Env:      CaptureFrom(vm.env, names, vm.globals),
		Captured: names,
	}
	vm.push(ObjVal(&Type{Tag: TAG_FUNCTION, Name: fn.Name}, cl))
	return nil
}

// BoundMethod pairs an instance with one of its class methods; produced by
// GET_PROPERTY, consumed by CALL.
type BoundMethod struct {
	Receiver *Instance
	Fn       *Function
}

func (b *BoundMethod) Kind() string    { return FUNCTION_KIND }
func (b *BoundMethod) Inspect() string { return "<method " + b.Fn.Name + ">" }
func (b *BoundMethod) Hash() uint32    { return hashString("method:" + b.Fn.Name) }

// call handles CALL. A named call resolves, in order: a binding in scope
// (function, closure or class value), the function table, the native
// table, the class table. An unnamed call takes its callee from the stack
// beneath the arguments.
func (vm *VM) call(in Instruction) error {
	argc := int(in.IntVal)
	args := vm.popN(argc)

	var callee Value
	if in.StrVal != "" {
		if v, ok := vm.env.Get(in.StrVal); ok && v.Obj != nil {
			switch v.Obj.(type) {
			case *Function, *Closure, *BoundMethod, *Class:
				callee = v
			}
		}
		if callee.Obj == nil {
			if fn, ok := vm.functions[in.StrVal]; ok {
				callee = ObjVal(&Type{Tag: TAG_FUNCTION, Name: fn.Name}, fn)
			} else if nat, ok := vm.natives[in.StrVal]; ok {
				return vm.callNative(in.StrVal, nat, args)
			} else if cls, ok := vm.classes[in.StrVal]; ok {
				callee = ObjVal(&Type{Tag: TAG_CLASS, Name: cls.Name}, cls)
			} else {
				return vm.runtimeError("undefined function %q", in.StrVal)
			}
		}
	} else {
		callee = vm.pop()
	}

	switch c := callee.Obj.(type) {
	case *Function:
		env := NewEnclosedEnvironment(vm.globals)
		return vm.invoke(c, env, args)
	case *Closure:
		env := NewEnclosedEnvironment(c.Env)
		return vm.invoke(c.Fn, env, args)
	case *BoundMethod:
		env := NewEnclosedEnvironment(vm.globals)
		env.Define("this", ObjVal(&Type{Tag: TAG_OBJECT, Name: c.Receiver.Class.Name}, c.Receiver))
		return vm.invoke(c.Fn, env, args)
	case *Class:
		return vm.instantiate(c, args)
	}
	return vm.runtimeError("%s is not callable", callee.TypeName())
}

func (vm *VM) callNative(name string, fn NativeFn, args []Value) error {
	for i := range args {
		args[i] = deref(args[i])
	}
	v, err := fn(vm, args)
	if err != nil {
		return vm.runtimeError("native %s: %s", name, err.Error())
	}
	vm.push(v)
	return nil
}

// invoke pushes a call frame, binds parameters in env, and for fallible
// functions installs a boundary error frame whose stack base is the
// result slot.
func (vm *VM) invoke(fn *Function, env *Environment, args []Value) error {
	if len(vm.frames) >= vm.maxCallDepth {
		return vm.runtimeError("call depth limit exceeded calling %s", fn.Name)
	}
	if len(args) < fn.RequiredArity() || len(args) > len(fn.Params) {
		return vm.runtimeError("%s expects %d..%d arguments, got %d",
			fn.Name, fn.RequiredArity(), len(fn.Params), len(args))
	}
	for i, p := range fn.Params {
		if i < len(args) {
			env.Define(p.Name, args[i])
		} else if p.HasDef {
			env.Define(p.Name, p.Default)
		} else {
			env.Define(p.Name, NilVal())
		}
	}

	vm.frames = append(vm.frames, CallFrame{
		FunctionName: fn.Name,
		ReturnAddr:   vm.ip,
		Env:          env,
		PrevEnv:      vm.env,
		StackBase:    len(vm.stack),
	})
	if fn.CanFail {
		vm.errorFrames = append(vm.errorFrames, ErrorFrame{
			Handler:      -1,
			StackBase:    len(vm.stack),
			FunctionName: fn.Name,
			FrameDepth:   len(vm.frames),
		})
	}
	vm.env = env
	vm.ip = fn.StartAddr - 1
	return nil
}

// instantiate builds an instance with field defaults walked from the root
// superclass down, then runs the init method if the class declares one.
func (vm *VM) instantiate(cls *Class, args []Value) error {
	inst := &Instance{Class: cls, Fields: make(map[string]Value)}
	var applyDefaults func(c *Class)
	applyDefaults = func(c *Class) {
		if c == nil {
			return
		}
		applyDefaults(c.Super)
		for _, name := range c.Order {
			inst.Fields[name] = c.Fields[name]
		}
	}
	applyDefaults(cls)
	self := ObjVal(&Type{Tag: TAG_OBJECT, Name: cls.Name}, inst)

	if ctor := vm.lookupMethod(cls, "init"); ctor != nil {
		env := NewEnclosedEnvironment(vm.globals)
		env.Define("this", self)
		if err := vm.invoke(ctor, env, args); err != nil {
			return err
		}
		// The constructor's own return value is discarded; the new
		// instance is the call's result.
		vm.frames[len(vm.frames)-1].CtorResult = &self
		return nil
	}

	vm.push(self)
	return nil
}

func (vm *VM) lookupMethod(cls *Class, name string) *Function {
	for c := cls; c != nil; c = c.Super {
		if fn, ok := vm.functions[c.Name+"."+name]; ok {
			return fn
		}
	}
	return nil
}

// CallValue invokes a callable value from host code, running it to
// completion on a sub-interpreter. Used by natives that take language
// functions as callbacks (grpc handlers, functional helpers).
func (vm *VM) CallValue(ctx context.Context, callee Value, args []Value) (Value, error) {
	sub := vm.spawn(vm.globals)

	var fn *Function
	var env *Environment
	switch c := callee.Obj.(type) {
	case *Function:
		fn = c
		env = NewEnclosedEnvironment(sub.globals)
	case *Closure:
		fn = c.Fn
		env = NewEnclosedEnvironment(c.Env)
	case *BoundMethod:
		fn = c.Fn
		env = NewEnclosedEnvironment(sub.globals)
		env.Define("this", ObjVal(&Type{Tag: TAG_OBJECT, Name: c.Receiver.Class.Name}, c.Receiver))
	default:
		return NilVal(), fmt.Errorf("%s is not callable", callee.TypeName())
	}

	if err := sub.invoke(fn, env, args); err != nil {
		return NilVal(), err
	}
	// Returning past the end of the program ends the sub-run.
	sub.frames[len(sub.frames)-1].ReturnAddr = len(sub.program)
	return sub.runRange(ctx, fn.StartAddr, len(sub.program))
}

// performReturn pops the current call frame. Error frames installed during
// the call (handlers and this call's own boundary) are discarded; a
// missing result slot yields nil. At top level RETURN halts.
func (vm *VM) performReturn() error {
	if len(vm.frames) == 0 {
		vm.halted = true
		return nil
	}
	frame := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]

	depth := len(vm.frames) + 1
	for len(vm.errorFrames) > 0 && vm.errorFrames[len(vm.errorFrames)-1].FrameDepth >= depth {
		vm.errorFrames = vm.errorFrames[:len(vm.errorFrames)-1]
	}

	var result Value
	switch {
	case frame.CtorResult != nil:
		result = *frame.CtorResult
	case len(vm.stack) > frame.StackBase:
		result = vm.stack[len(vm.stack)-1]
	default:
		result = NilVal()
	}
	vm.stack = vm.stack[:frame.StackBase]
	vm.push(result)

	vm.env = frame.PrevEnv
	vm.ip = frame.ReturnAddr
	return nil
}
