package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy yields the pause before the retry that follows attempt.
// Attempt numbers start at 1; attempt 0 never waits.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows BaseDelay by Multiplier per attempt up to MaxDelay.
// JitterFactor spreads each delay by up to ±factor of itself.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultExponentialBackoff is the API client backoff: 1s, 2s, 4s... capped at 30s
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	d := math.Min(
		float64(b.BaseDelay)*math.Pow(b.Multiplier, float64(attempt-1)),
		float64(b.MaxDelay),
	)
	if b.JitterFactor > 0 {
		d *= 1 + b.JitterFactor*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

// ConstantBackoff always waits Delay
type ConstantBackoff struct {
	Delay time.Duration
}

func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.Delay
}

// Wait sleeps for delay or until ctx is done, whichever comes first. It is
// also the poller's sleep between cycles.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errStopped = errors.New("stopped")

// waitOrStop is Wait that also returns errStopped when stop closes. A nil
// stop never fires.
func waitOrStop(ctx context.Context, stop <-chan struct{}, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return errStopped
	}
}
