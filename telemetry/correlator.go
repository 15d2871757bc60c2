package telemetry

import (
	"context"
	"sync"
	"time"
)

// ackWaiter is shared by every AwaitAck call for the same id; refs
// counts the callers currently blocked on ch.
type ackWaiter struct {
	ch   chan struct{}
	refs int
}

// Correlator hands out wire transaction ids and matches inbound
// acknowledgments to the producers waiting on them. Acknowledgments may
// resolve in any order relative to send order, and an acknowledgment
// that lands before its waiter registers is remembered so the late
// waiter completes immediately.
type Correlator struct {
	mu      sync.Mutex
	last    uint16
	waiters map[uint16]*ackWaiter
	acked   map[uint16]struct{}
}

// NewCorrelator returns an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		waiters: make(map[uint16]*ackWaiter),
		acked:   make(map[uint16]struct{}),
	}
}

// NextID returns the next transaction id. Ids start at 1 and wrap
// through the full 16-bit range; the caller must not have two packets
// with the same id in flight at once.
func (c *Correlator) NextID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// AwaitAck blocks until Resolve is called for id, the timeout elapses,
// or ctx is canceled, and reports whether the acknowledgment arrived.
// Concurrent waits on the same id share one waiter and complete
// together. A successful wait consumes the remembered acknowledgment; a
// timed-out wait leaves any later acknowledgment remembered for the
// next caller.
func (c *Correlator) AwaitAck(ctx context.Context, id uint16, timeout time.Duration) bool {
	c.mu.Lock()
	if _, ok := c.acked[id]; ok {
		delete(c.acked, id)
		c.mu.Unlock()
		return true
	}
	w, ok := c.waiters[id]
	if !ok {
		w = &ackWaiter{ch: make(chan struct{})}
		c.waiters[id] = w
	}
	w.refs++
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	resolved := false
	select {
	case <-w.ch:
		resolved = true
	case <-timer.C:
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !resolved {
		// Resolve may have won the race against the timer.
		select {
		case <-w.ch:
			resolved = true
		default:
		}
	}
	w.refs--
	if resolved {
		delete(c.acked, id)
	} else if w.refs == 0 && c.waiters[id] == w {
		delete(c.waiters, id)
	}
	return resolved
}

// Resolve marks id acknowledged and wakes its waiters. Resolving an id
// nobody is waiting on is remembered for a later AwaitAck; resolving
// the same id again is a no-op.
func (c *Correlator) Resolve(id uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked[id] = struct{}{}
	if w, ok := c.waiters[id]; ok {
		close(w.ch)
		delete(c.waiters, id)
	}
}
