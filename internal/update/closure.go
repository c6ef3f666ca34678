// Package update implements the Update Transaction and the Reachability
// Protocol built on top of it (§4.3, §4.4): the async state machine
// tracking one topology change from reservation through publish to
// completion.
package update

import "sync/atomic"

// Closure is the refcounted completion object from §9's design notes: the
// single fan-in from N node-write completions to one finalizer task. A
// sync.WaitGroup can't be used here because a new node may be added to an
// update (Get) after some other goroutine has already called Wait via
// Done's zero-crossing — WaitGroup forbids Add after Wait returns zero but
// before a new Wait begins, which is exactly the race this protocol hits
// when write-ack goroutines race the update's own finalization kickoff.
type Closure struct {
	n    atomic.Int32
	done chan struct{}
}

func NewClosure() *Closure {
	return &Closure{done: make(chan struct{})}
}

// Get increments the outstanding-completions count. Must be called before
// the corresponding Put for every node write this update is waiting on.
func (c *Closure) Get() {
	c.n.Add(1)
}

// Put decrements the count; when it reaches zero the closure's Done
// channel is closed exactly once, waking anything selecting on it.
func (c *Closure) Put() {
	if c.n.Add(-1) == 0 {
		close(c.done)
	}
}

// Done returns a channel closed when every Get has a matching Put.
func (c *Closure) Done() <-chan struct{} {
	return c.done
}
