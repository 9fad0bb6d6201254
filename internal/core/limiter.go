package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyDeliveries is returned when every delivery slot stays occupied
// for the whole wait period. Callers should retry later.
var ErrTooManyDeliveries = errors.New("too many concurrent deliveries, please try again later")

const (
	// DefaultMaxConcurrentDeliveries bounds parallel pipeline runs.
	DefaultMaxConcurrentDeliveries = 4

	// DefaultMaxWaitTime is how long Acquire waits for a free slot.
	DefaultMaxWaitTime = 30 * time.Second
)

// Limiter is a counting semaphore in front of Pipeline.Run. Each run
// extracts, composes and uploads a whole archive, so the number in flight is
// what bounds disk and memory use.
type Limiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewLimiter allows at most maxConcurrent runs. Non-positive arguments fall
// back to the defaults.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDeliveries
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting up to the configured time. A cancelled ctx
// returns ctx.Err(); an expired wait returns ErrTooManyDeliveries.
// Every nil return must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.taken()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyDeliveries
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.taken()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	DeliveriesInFlight.Dec()
	<-l.slots
}

func (l *Limiter) taken() {
	l.active.Add(1)
	DeliveriesInFlight.Inc()
}

// Active is the number of runs holding a slot.
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Capacity is the configured maximum.
func (l *Limiter) Capacity() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no run holds a slot. Used on shutdown.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// LimiterStatus is a point-in-time snapshot for the health endpoint.
type LimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Capacity  int `json:"capacity"`
}

func (l *Limiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:    l.Active(),
		Available: cap(l.slots) - len(l.slots),
		Capacity:  cap(l.slots),
	}
}
