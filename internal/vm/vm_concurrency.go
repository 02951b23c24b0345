package vm

import (
	"context"

	"github.com/netesy/limitly/internal/concurrency"
)

// beginParallel executes a parallel or concurrent block: every task body
// between here and the matching end is submitted to the bridge, then the
// block joins all of them before execution continues. Task failures are
// collected, not fatal to the spawning flow.
func (vm *VM) beginParallel(closeOp Opcode) error {
	openOp := vm.program[vm.ip].Op
	end, ok := vm.findMatching(vm.ip, openOp, closeOp)
	if !ok {
		return vm.runtimeError("%s has no matching %s", openOp, closeOp)
	}

	var ids []concurrency.TaskID
	for i := vm.ip + 1; i < end; i++ {
		op := vm.program[i].Op
		if op != OP_BEGIN_TASK && op != OP_BEGIN_WORKER {
			continue
		}
		bodyEnd, ok := vm.findMatching(i, op, taskCloseOp(op))
		if !ok {
			return vm.runtimeError("%s has no matching end", op)
		}
		ids = append(ids, vm.submitBody(i+1, bodyEnd))
		i = bodyEnd
	}

	for _, id := range ids {
		if _, err := vm.bridge.Wait(id); err != nil {
			vm.taskFailures = append(vm.taskFailures, err)
		}
	}
	vm.ip = end
	return nil
}

// beginTask handles a standalone task or worker block: the body runs on
// the bridge and a task handle is pushed for a later AWAIT.
func (vm *VM) beginTask(op Opcode) error {
	end, ok := vm.findMatching(vm.ip, op, taskCloseOp(op))
	if !ok {
		return vm.runtimeError("%s has no matching end", op)
	}
	id := vm.submitBody(vm.ip+1, end)
	vm.push(ObjVal(&Type{Tag: TAG_OBJECT, Name: "task"}, &TaskObject{
		ID:     id,
		bridge: vm.bridge,
	}))
	vm.ip = end
	return nil
}

// submitBody schedules one task body. The task VM shares globals, the
// function table and the bridge, but runs on its own stacks over a child
// scope, so sibling tasks only interact through shared outer bindings,
// atomics and channels.
func (vm *VM) submitBody(from, to int) concurrency.TaskID {
	env := NewEnclosedEnvironment(vm.env)
	sub := vm.spawn(env)
	return vm.bridge.Submit(func(ctx context.Context) (any, error) {
		return sub.runRange(ctx, from, to)
	})
}

func taskCloseOp(op Opcode) Opcode {
	if op == OP_BEGIN_WORKER {
		return OP_END_WORKER
	}
	return OP_END_TASK
}

// await joins a task handle and pushes its result. A task that failed
// with a language error re-raises it here; a fatal task error is fatal to
// the awaiting flow too.
func (vm *VM) await() error {
	v := vm.pop()
	t, ok := v.Obj.(*TaskObject)
	if !ok {
		return vm.runtimeError("AWAIT on %s", v.TypeName())
	}
	result, err := t.Join()
	if err != nil {
		return vm.runtimeError("awaited task failed: %s", err.Error())
	}
	if result.IsError() {
		if vm.propagateError(result) {
			return nil
		}
		e := result.ErrorValue()
		return vm.runtimeError("unhandled error from awaited task: %s%s", e.ErrType, errMessageSuffix(e))
	}
	vm.push(result)
	return nil
}
