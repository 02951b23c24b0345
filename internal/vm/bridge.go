package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/netesy/limitly/internal/concurrency"
)

// Bridge is the narrow seam between the interpreter and the host's
// concurrency runtime. Task bodies are opaque thunks; the bridge decides
// where they run.
type Bridge interface {
	// Submit schedules a task and returns its handle.
	Submit(fn concurrency.TaskFn) concurrency.TaskID
	// Wait blocks until the task finishes.
	Wait(id concurrency.TaskID) (any, error)
	// Shutdown releases bridge resources; idempotent.
	Shutdown()
}

// ChannelObject exposes a host channel as a language value. Payloads are
// always Values.
type ChannelObject struct {
	Ch *concurrency.Channel
}

func NewChannelObject(capacity int) *ChannelObject {
	return &ChannelObject{Ch: concurrency.NewChannel(capacity)}
}

func (c *ChannelObject) Kind() string { return CHANNEL_KIND }

func (c *ChannelObject) Inspect() string {
	return fmt.Sprintf("<channel cap=%d len=%d>", c.Ch.Cap(), c.Ch.Len())
}

func (c *ChannelObject) Hash() uint32 { return 0 }

func (c *ChannelObject) Send(v Value) error { return c.Ch.Send(v) }

func (c *ChannelObject) Receive() (Value, bool) {
	raw, ok := c.Ch.Receive()
	if !ok {
		return NilVal(), false
	}
	return raw.(Value), true
}

func (c *ChannelObject) Close()       { c.Ch.Close() }
func (c *ChannelObject) Closed() bool { return c.Ch.Closed() }

// TaskObject is the language-level handle for a submitted task.
type TaskObject struct {
	ID     concurrency.TaskID
	Name   string
	bridge Bridge

	awaited bool
	result  Value
	err     error
}

func (t *TaskObject) Kind() string    { return TASK_KIND }
func (t *TaskObject) Inspect() string { return "<task " + t.ID.String() + ">" }
func (t *TaskObject) Hash() uint32    { return hashString(t.ID.String()) }

// Join waits for the task once and caches the outcome.
func (t *TaskObject) Join() (Value, error) {
	if !t.awaited {
		raw, err := t.bridge.Wait(t.ID)
		t.awaited = true
		t.err = err
		if v, ok := raw.(Value); ok {
			t.result = v
		} else {
			t.result = NilVal()
		}
	}
	return t.result, t.err
}

// goroutineBridge runs each task on its own goroutine. The default.
type goroutineBridge struct {
	mu    sync.Mutex
	tasks map[concurrency.TaskID]*grTask
}

type grTask struct {
	result any
	err    error
	done   chan struct{}
}

func newGoroutineBridge() Bridge {
	return &goroutineBridge{tasks: make(map[concurrency.TaskID]*grTask)}
}

func (b *goroutineBridge) Submit(fn concurrency.TaskFn) concurrency.TaskID {
	id := uuid.New()
	t := &grTask{done: make(chan struct{})}
	b.mu.Lock()
	b.tasks[id] = t
	b.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task panicked: %v", r)
			}
			close(t.done)
		}()
		t.result, t.err = fn(context.Background())
	}()
	return id
}

func (b *goroutineBridge) Wait(id concurrency.TaskID) (any, error) {
	b.mu.Lock()
	t, ok := b.tasks[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown task %s", id)
	}
	<-t.done
	b.mu.Lock()
	delete(b.tasks, id)
	b.mu.Unlock()
	return t.result, t.err
}

func (b *goroutineBridge) Shutdown() {}

// PooledBridge runs tasks on a fixed worker pool.
type PooledBridge struct {
	sched *concurrency.Scheduler
}

// NewPooledBridge builds a bridge over workers pool goroutines;
// workers <= 0 sizes the pool to GOMAXPROCS.
func NewPooledBridge(workers int) *PooledBridge {
	return &PooledBridge{sched: concurrency.NewScheduler(workers)}
}

func (b *PooledBridge) Submit(fn concurrency.TaskFn) concurrency.TaskID { return b.sched.Submit(fn) }
func (b *PooledBridge) Wait(id concurrency.TaskID) (any, error)        { return b.sched.Wait(id) }
func (b *PooledBridge) Shutdown()                                      { b.sched.Shutdown() }
