// Package ratelimit spaces outbound traffic.
//
// Gate is the single process-wide gate in front of every Bilibili API call.
// It is a mutual exclusion plus minimum spacing primitive, not a token
// bucket: the platform blocks clients by wall-clock spacing, so a caller
// arriving after a long idle period still waits its turn and no burst is
// ever allowed.
//
//	gate := ratelimit.NewGate(10 * time.Second)
//	err := gate.Do(ctx, func(ctx context.Context) error {
//	    return fetch(ctx)
//	})
//
// Throttle wraps golang.org/x/time/rate for chat transports, where short
// bursts are fine but sustained floods are not.
package ratelimit
