// Package control carries signals into the executor loop.
//
// The channel is an unbounded FIFO guarded by a mutex plus a one-slot
// notification channel. Wakeups collapse: several Posts before the loop
// runs produce a single wakeup, and the loop drains with Poll.
package control

import (
	"context"
	"sync"
)

// Kind enumerates control signals.
type Kind int

const (
	Skip Kind = iota + 1
	Quit
	Complete
	Failed
)

func (k Kind) String() string {
	switch k {
	case Skip:
		return "skip"
	case Quit:
		return "quit"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is a single control signal. Generation names the launch the
// signal refers to; a Skip with a zero Generation targets whatever is
// running. ExitCode is set only for Complete and Failed, which are posted by
// the process waiter. Requeue and Index apply to Skip: the skipped task is
// inserted at Index (negative appends) before the current slot is cleared.
type Message struct {
	Kind       Kind
	ExitCode   int32
	Generation uint64
	Requeue    bool
	Index      int
}

// Channel is safe for concurrent use by any number of producers and a
// single consumer.
type Channel struct {
	mu      sync.Mutex
	pending []Message
	wake    chan struct{}
}

// New returns an empty channel.
func New() *Channel {
	return &Channel{wake: make(chan struct{}, 1)}
}

// Post appends msg and wakes the consumer.
func (c *Channel) Post(msg Message) {
	c.mu.Lock()
	c.pending = append(c.pending, msg)
	c.mu.Unlock()
	c.Notify()
}

// Poll removes and returns the oldest message without blocking.
func (c *Channel) Poll() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return Message{}, false
	}
	msg := c.pending[0]
	c.pending[0] = Message{}
	c.pending = c.pending[1:]
	return msg, true
}

// Len reports the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Notify wakes the consumer without posting a message, for example after a
// task was enqueued.
func (c *Channel) Notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the channel is woken or ctx is done. A wakeup does not
// guarantee a message is available.
func (c *Channel) Wait(ctx context.Context) error {
	select {
	case <-c.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
