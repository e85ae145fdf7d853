package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle limits outbound chat messages so a burst of notifications does
// not trip a transport's flood protection
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows perSecond messages on average with the given burst
func NewThrottle(perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until one message may be sent
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Allow reports whether a message may be sent right now
func (t *Throttle) Allow() bool {
	return t.limiter.Allow()
}
