package firmware

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the admission capacity used when none is configured.
// Mesh controllers degrade quickly with more simultaneous registry lookups.
const DefaultMaxConcurrent = 3

// Limiter bounds how many discovery operations run at once across every
// device sharing one link. Create one per link and inject it; there is no
// package-level instance.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
}

// NewLimiter creates a limiter admitting capacity concurrent holders.
// A capacity below 1 falls back to DefaultMaxConcurrent.
func NewLimiter(capacity int) *Limiter {
	if capacity < 1 {
		capacity = DefaultMaxConcurrent
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is free or ctx is done.
// Every successful Acquire must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inUse.Add(1)
	return nil
}

// Release returns a slot.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// Capacity returns the maximum number of concurrent holders.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int {
	return int(l.inUse.Load())
}
