package concurrency

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send on a closed channel.
var ErrClosed = errors.New("send on closed channel")

// Channel is a close-aware message pipe. The underlying Go channel is
// never closed; a separate done signal unblocks senders and receivers, so
// a Send racing a Close reports ErrClosed instead of panicking.
type Channel struct {
	ch   chan any
	done chan struct{}
	once sync.Once
}

// NewChannel builds a channel; capacity 0 gives rendezvous semantics.
func NewChannel(capacity int) *Channel {
	if capacity < 0 {
		capacity = 0
	}
	return &Channel{ch: make(chan any, capacity), done: make(chan struct{})}
}

func (c *Channel) Cap() int { return cap(c.ch) }
func (c *Channel) Len() int { return len(c.ch) }

// Send blocks until the value is accepted or the channel closes.
func (c *Channel) Send(v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- v:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Receive blocks until a value arrives; ok is false once the channel is
// closed and drained. Buffered values stay receivable after Close.
func (c *Channel) Receive() (any, bool) {
	select {
	case v := <-c.ch:
		return v, true
	default:
	}
	select {
	case v := <-c.ch:
		return v, true
	case <-c.done:
		select {
		case v := <-c.ch:
			return v, true
		default:
			return nil, false
		}
	}
}

// TryReceive never blocks.
func (c *Channel) TryReceive() (any, bool) {
	select {
	case v := <-c.ch:
		return v, true
	default:
		return nil, false
	}
}

// Close is idempotent.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.done) })
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
