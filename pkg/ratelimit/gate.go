package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate serializes calls to the platform API. At most one caller holds the
// gate at a time, waiters are admitted in arrival order, and two successive
// admissions are always at least minInterval apart. Idle time earns no
// credit, so there is never a burst.
type Gate struct {
	minInterval time.Duration
	sem         *semaphore.Weighted

	mu       sync.Mutex
	last     time.Time
	observer func(wait time.Duration)
}

// NewGate creates a gate that spaces admissions by minInterval
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{
		minInterval: minInterval,
		sem:         semaphore.NewWeighted(1),
	}
}

// SetWaitObserver registers fn to receive how long each Acquire blocked
func (g *Gate) SetWaitObserver(fn func(wait time.Duration)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observer = fn
}

// MinInterval returns the configured spacing
func (g *Gate) MinInterval() time.Duration {
	return g.minInterval
}

// Acquire blocks until the caller may issue one request. The returned
// release func must be called once the request has completed.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	start := time.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	g.mu.Lock()
	wait := time.Until(g.last.Add(g.minInterval))
	g.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.sem.Release(1)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	g.last = time.Now()
	observer := g.observer
	g.mu.Unlock()

	if observer != nil {
		observer(time.Since(start))
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, nil
}

// Do runs fn while holding the gate
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
