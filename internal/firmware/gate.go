package firmware

import (
	"context"
	"sync"
)

// Readiness is the outcome of an availability check.
type Readiness int

// Readiness values.
const (
	Ready Readiness = iota
	Deferred
)

func (r Readiness) String() string {
	if r == Ready {
		return "ready"
	}
	return "deferred"
}

// readinessEvent maps a non-ready status to the event that signals recovery.
// Statuses other than asleep and dead are treated as ready.
func readinessEvent(status NodeStatus) (string, bool) {
	switch status {
	case StatusAsleep:
		return EventWakeUp, true
	case StatusDead:
		return EventAlive, true
	default:
		return "", false
	}
}

// Gate defers work on a device until it is reachable. At most one recovery
// listener is outstanding per device; when it fires, every deferred caller
// re-validates readiness from the top instead of trusting the signal.
//
// While armed, the gate also follows status changes: a device that goes
// from asleep to dead moves the listener from wake up to alive, and one that
// is ready by the time a change is seen releases the gate directly.
type Gate struct {
	node Node

	mu      sync.Mutex
	gen     uint64
	event   string
	unsub   Unsubscribe
	watch   Unsubscribe
	retry   func()
	waiters map[chan struct{}]struct{}
}

// NewGate creates a gate for node.
func NewGate(node Node) *Gate {
	return &Gate{
		node:    node,
		waiters: make(map[chan struct{}]struct{}),
	}
}

// CheckOrDefer returns Ready if the device is reachable. Otherwise it arms a
// one-shot listener for the matching recovery event, records retry to run
// when it fires, and returns Deferred. While a retry is already pending,
// further calls do not replace it.
func (g *Gate) CheckOrDefer(retry func()) Readiness {
	g.mu.Lock()
	defer g.mu.Unlock()

	event, blocked := readinessEvent(g.node.Status())
	if !blocked {
		return Ready
	}
	if g.retry == nil {
		g.retry = retry
	}
	g.armLocked(event)
	return Deferred
}

// Wait blocks until the device is reachable or ctx is done. Each recovery
// signal triggers a fresh status check, so a device that woke up and died
// again keeps the caller waiting for the alive signal.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		event, blocked := readinessEvent(g.node.Status())
		if !blocked {
			g.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		g.waiters[ch] = struct{}{}
		g.armLocked(event)
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			g.mu.Lock()
			delete(g.waiters, ch)
			g.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Pending reports whether a recovery listener is armed.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unsub != nil
}

// Cancel removes the outstanding listener and drops the pending retry.
// Blocked Wait callers keep waiting until their context ends.
func (g *Gate) Cancel() {
	g.mu.Lock()
	unsub, watch := g.disarmLocked()
	g.retry = nil
	g.mu.Unlock()

	release(unsub, watch)
}

// armLocked ensures exactly one listener exists for event, replacing a
// listener armed for a different event.
func (g *Gate) armLocked(event string) {
	if g.watch == nil {
		g.watch = g.node.On(EventStatusChanged, func(Event) { g.statusChanged() })
	}
	if g.unsub != nil {
		if g.event == event {
			return
		}
		g.unsub()
	}
	g.gen++
	gen := g.gen
	g.event = event
	g.unsub = g.node.Once(event, func(Event) { g.fire(gen) })
}

// disarmLocked detaches both listeners and returns them for release
// outside the lock.
func (g *Gate) disarmLocked() (unsub, watch Unsubscribe) {
	unsub, watch = g.unsub, g.watch
	g.unsub, g.watch = nil, nil
	g.event = ""
	return unsub, watch
}

func release(fns ...Unsubscribe) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

// statusChanged re-targets the recovery listener, or releases the gate if
// the device is already reachable.
func (g *Gate) statusChanged() {
	g.mu.Lock()
	if g.unsub == nil {
		g.mu.Unlock()
		return
	}
	if event, blocked := readinessEvent(g.node.Status()); blocked {
		g.armLocked(event)
		g.mu.Unlock()
		return
	}
	gen := g.gen
	g.mu.Unlock()
	g.fire(gen)
}

// fire ignores signals from listeners that were replaced or cancelled.
func (g *Gate) fire(gen uint64) {
	g.mu.Lock()
	if g.unsub == nil || gen != g.gen {
		g.mu.Unlock()
		return
	}
	unsub, watch := g.disarmLocked()
	retry := g.retry
	g.retry = nil
	waiters := g.waiters
	g.waiters = make(map[chan struct{}]struct{})
	g.mu.Unlock()

	release(unsub, watch)
	for ch := range waiters {
		close(ch)
	}
	if retry != nil {
		retry()
	}
}
