package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/netesy/limitly/internal/config"
)

// Sentinel panics for stack discipline violations inside a dispatch step;
// recovered in Run and reported as fatal VM errors.
var (
	errStackUnderflow = errors.New("stack underflow")
	errStackOverflow  = errors.New("stack overflow")
)

// CallFrame records one active invocation.
type CallFrame struct {
	FunctionName string
	ReturnAddr   int
	Env          *Environment
	PrevEnv      *Environment
	StackBase    int

	// Set for constructor calls: the value RETURN yields instead of the
	// body's result.
	CtorResult *Value
}

// ErrorFrame is one entry of the side stack consulted when a value turns
// out to be an error. Handler < 0 marks a function boundary installed by a
// fallible CALL: propagation there returns the error from that function.
type ErrorFrame struct {
	Handler      int
	StackBase    int
	ErrType      string // "" accepts any error type
	FunctionName string
	FrameDepth   int
}

// NativeFn is the host-function contract: full argument list in, one value
// out. Natives signal language-level failures by returning an error-union
// value; a non-nil error is a fatal host failure.
type NativeFn func(vm *VM, args []Value) (Value, error)

// RuntimeError is a fatal VM diagnostic: message, source line and the call
// trace at the point of failure.
type RuntimeError struct {
	Msg      string
	Line     uint32
	Function string
	Trace    []string
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "runtime error: %s", e.Msg)
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	for _, t := range e.Trace {
		b.WriteString("\n\t")
		b.WriteString(t)
	}
	return b.String()
}

// VM executes a flat instruction stream.
type VM struct {
	program []Instruction
	ip      int

	stack       []Value
	frames      []CallFrame
	errorFrames []ErrorFrame

	globals *Environment
	env     *Environment
	temps   map[string]Value

	functions map[string]*Function
	natives   map[string]NativeFn
	classes   map[string]*Class
	enums     map[string][]string
	types     *TypeSystem

	bridge Bridge
	out    io.Writer

	// Definition-pass state for classes and enums.
	definingClass *Class
	definingEnum  string

	matchSteps int
	halted     bool

	// Failures reported by joined tasks; surfaced by the embedder.
	taskFailures []error

	maxStack     int
	maxCallDepth int
	matchLimit   int
}

// New creates a VM over a program. The default bridge schedules one
// goroutine per task; SetBridge swaps in the pooled scheduler.
func New(program []Instruction) *VM {
	globals := NewEnvironment()
	v := &VM{
		program:      program,
		stack:        make([]Value, 0, 256),
		globals:      globals,
		env:          globals,
		temps:        make(map[string]Value),
		functions:    make(map[string]*Function),
		natives:      make(map[string]NativeFn),
		classes:      make(map[string]*Class),
		enums:        make(map[string][]string),
		types:        NewTypeSystem(),
		out:          os.Stdout,
		maxStack:     config.DefaultMaxStackSize,
		maxCallDepth: config.DefaultMaxCallDepth,
		matchLimit:   config.DefaultMaxMatchSteps,
	}
	v.bridge = newGoroutineBridge()
	v.registerCoreNatives()
	return v
}

// SetOutput redirects PRINT and diagnostics payloads.
func (vm *VM) SetOutput(w io.Writer) { vm.out = w }

// SetBridge replaces the concurrency bridge.
func (vm *VM) SetBridge(b Bridge) { vm.bridge = b }

// SetLimits overrides the runtime bounds; non-positive fields keep their
// current values.
func (vm *VM) SetLimits(limits config.Limits) {
	if limits.MaxStackSize > 0 {
		vm.maxStack = limits.MaxStackSize
	}
	if limits.MaxCallDepth > 0 {
		vm.maxCallDepth = limits.MaxCallDepth
	}
	if limits.MaxMatchSteps > 0 {
		vm.matchLimit = limits.MaxMatchSteps
	}
}

// RegisterNative hooks a host function under a global name. CALL resolves
// natives after user functions.
func (vm *VM) RegisterNative(name string, fn NativeFn) { vm.natives[name] = fn }

// Globals exposes the global environment (shared with spawned tasks).
func (vm *VM) Globals() *Environment { return vm.globals }

// Types exposes the type system for natives that convert values.
func (vm *VM) Types() *TypeSystem { return vm.types }

// TaskFailures returns the errors reported by tasks joined so far.
func (vm *VM) TaskFailures() []error { return vm.taskFailures }

func (vm *VM) push(v Value) {
	if len(vm.stack) >= vm.maxStack {
		panic(errStackOverflow)
	}
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	if len(vm.stack) == 0 {
		panic(errStackUnderflow)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() Value {
	if len(vm.stack) == 0 {
		panic(errStackUnderflow)
	}
	return vm.stack[len(vm.stack)-1]
}

// popN pops count values and returns them in push order.
func (vm *VM) popN(count int) []Value {
	if count < 0 || len(vm.stack) < count {
		panic(errStackUnderflow)
	}
	out := make([]Value, count)
	copy(out, vm.stack[len(vm.stack)-count:])
	vm.stack = vm.stack[:len(vm.stack)-count]
	return out
}

// runtimeError builds a fatal diagnostic with the current line and trace.
func (vm *VM) runtimeError(format string, args ...interface{}) error {
	line := uint32(0)
	if vm.ip >= 0 && vm.ip < len(vm.program) {
		line = vm.program[vm.ip].Line
	}
	fn := "<main>"
	if n := len(vm.frames); n > 0 {
		fn = vm.frames[n-1].FunctionName
	}
	re := &RuntimeError{
		Msg:      fmt.Sprintf(format, args...),
		Line:     line,
		Function: fn,
	}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		re.Trace = append(re.Trace, fmt.Sprintf("in %s", vm.frames[i].FunctionName))
	}
	return re
}

// raiseError routes a language-level error through the error-frame
// machinery; when no frame can handle it the error becomes fatal.
func (vm *VM) raiseError(errType, message string) error {
	vm.types.RegisterErrorType(errType)
	line := uint32(0)
	if vm.ip >= 0 && vm.ip < len(vm.program) {
		line = vm.program[vm.ip].Line
	}
	errVal := Value{
		Type: vm.types.MakeErrorUnion(NilType, []string{errType}),
		Obj:  &ErrorObject{ErrType: errType, Message: message, Line: line},
	}
	if vm.propagateError(errVal) {
		return nil
	}
	return vm.runtimeError("unhandled error: %s - %s", errType, message)
}

// propagateError unwinds to the nearest matching error frame. A handler
// frame resumes at its recorded address with the stack truncated to the
// installation depth and the error pushed; a boundary frame returns the
// error from the function that installed it. Returns false when no frame
// matches, which makes the error fatal.
func (vm *VM) propagateError(errVal Value) bool {
	errType := ""
	if e := errVal.ErrorValue(); e != nil {
		errType = e.ErrType
	}
	for len(vm.errorFrames) > 0 {
		f := vm.errorFrames[len(vm.errorFrames)-1]
		vm.errorFrames = vm.errorFrames[:len(vm.errorFrames)-1]
		if f.ErrType != "" && f.ErrType != errType {
			continue
		}
		if f.Handler >= 0 {
			// Unwind any calls made after the handler was installed.
			for len(vm.frames) > f.FrameDepth {
				frame := vm.frames[len(vm.frames)-1]
				vm.frames = vm.frames[:len(vm.frames)-1]
				vm.env = frame.PrevEnv
			}
			vm.stack = vm.stack[:f.StackBase]
			vm.push(errVal)
			vm.ip = f.Handler - 1
			return true
		}
		// Function boundary: unwind call frames down past the one the
		// frame was installed for and surface the error as that call's
		// result.
		if f.FrameDepth > len(vm.frames) {
			continue // stale frame from a call that already returned
		}
		var frame CallFrame
		for len(vm.frames) >= f.FrameDepth {
			frame = vm.frames[len(vm.frames)-1]
			vm.frames = vm.frames[:len(vm.frames)-1]
		}
		vm.env = frame.PrevEnv
		vm.stack = vm.stack[:f.StackBase]
		vm.push(errVal)
		vm.ip = frame.ReturnAddr
		return true
	}
	return false
}

// Run executes from address 0 until HALT, the end of the program, or a
// fatal error. The top of the operand stack (or nil) is the result.
func (vm *VM) Run(ctx context.Context) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok && (errors.Is(re, errStackUnderflow) || errors.Is(re, errStackOverflow)) {
				result = NilVal()
				err = vm.runtimeError("%s", re.Error())
				return
			}
			panic(r)
		}
	}()

	vm.halted = false
	vm.matchSteps = 0
	ops := 0
	for vm.ip = 0; vm.ip < len(vm.program) && !vm.halted; vm.ip++ {
		ops++
		if ops%1000 == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return NilVal(), cerr
			}
		}
		if err := vm.execute(vm.program[vm.ip]); err != nil {
			if _, ok := err.(*RuntimeError); ok {
				return NilVal(), err
			}
			return NilVal(), vm.runtimeError("%s", err.Error())
		}
	}
	if len(vm.stack) > 0 {
		return vm.stack[len(vm.stack)-1], nil
	}
	return NilVal(), nil
}

// runRange drives a task body: execution starts at from and stops when the
// instruction pointer leaves [from, to). Used by spawned sub-VMs.
func (vm *VM) runRange(ctx context.Context, from, to int) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok && (errors.Is(re, errStackUnderflow) || errors.Is(re, errStackOverflow)) {
				result = NilVal()
				err = vm.runtimeError("%s", re.Error())
				return
			}
			panic(r)
		}
	}()

	ops := 0
	for vm.ip = from; vm.ip < to && !vm.halted; vm.ip++ {
		ops++
		if ops%1000 == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return NilVal(), cerr
			}
		}
		if err := vm.execute(vm.program[vm.ip]); err != nil {
			return NilVal(), err
		}
	}
	if len(vm.stack) > 0 {
		return vm.stack[len(vm.stack)-1], nil
	}
	return NilVal(), nil
}

// spawn builds a task VM: own stacks, shared program, globals, function
// table, classes, types and bridge.
func (vm *VM) spawn(env *Environment) *VM {
	return &VM{
		program:      vm.program,
		stack:        make([]Value, 0, 64),
		globals:      vm.globals,
		env:          env,
		temps:        make(map[string]Value),
		functions:    vm.functions,
		natives:      vm.natives,
		classes:      vm.classes,
		enums:        vm.enums,
		types:        vm.types,
		bridge:       vm.bridge,
		out:          vm.out,
		maxStack:     vm.maxStack,
		maxCallDepth: vm.maxCallDepth,
		matchLimit:   vm.matchLimit,
	}
}
