package concurrency

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// TaskID identifies a submitted task.
type TaskID = uuid.UUID

// TaskFn is the work a task performs.
type TaskFn func(ctx context.Context) (any, error)

type task struct {
	id     TaskID
	fn     TaskFn
	result any
	err    error
	done   chan struct{}
}

// Scheduler runs tasks on a fixed worker pool. Submit never blocks; Wait
// blocks until the named task finishes. A panicking task is reported as
// that task's error, not a crashed worker.
type Scheduler struct {
	queue chan *task

	mu      sync.Mutex
	pending map[TaskID]*task

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	shutOnce sync.Once
}

// NewScheduler starts workers goroutines; workers <= 0 means GOMAXPROCS.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		queue:   make(chan *task, 64),
		pending: make(map[TaskID]*task),
		cancel:  cancel,
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker(ctx)
	}
	return s
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-s.queue:
			if !ok {
				return
			}
			s.run(ctx, t)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task panicked: %v", r)
		}
		close(t.done)
	}()
	t.result, t.err = t.fn(ctx)
}

// Submit queues a task and returns its handle.
func (s *Scheduler) Submit(fn TaskFn) TaskID {
	t := &task{id: uuid.New(), fn: fn, done: make(chan struct{})}
	s.mu.Lock()
	s.pending[t.id] = t
	s.mu.Unlock()
	s.queue <- t
	return t.id
}

// Wait blocks until the task finishes and returns its outcome. Waiting on
// an unknown or already-collected id is an error.
func (s *Scheduler) Wait(id TaskID) (any, error) {
	s.mu.Lock()
	t, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown task %s", id)
	}
	<-t.done
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	return t.result, t.err
}

// Shutdown cancels in-flight tasks and stops the workers.
func (s *Scheduler) Shutdown() {
	s.shutOnce.Do(func() {
		s.cancel()
		close(s.queue)
	})
	s.wg.Wait()
}
