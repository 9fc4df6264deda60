// Package ratelimiter provides a token-bucket rate limiter used to cap the
// request origination rate of a benchmark run.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates admission to a fixed number of tokens per second. The
// bucket capacity equals the rate, so a run can burst up to one second's
// worth of requests before settling into the sustained rate.
type Limiter struct {
	inner *rate.Limiter
}

// New creates a Limiter that allows r tokens per second with a burst
// capacity of r. r must be > 0.
func New(r uint16) *Limiter {
	return &Limiter{
		inner: rate.NewLimiter(rate.Limit(r), int(r)),
	}
}

// Allow blocks until a token is available and consumes it. It only
// returns an error if ctx is canceled while waiting; callers that pass
// context.Background() never see an error.
func (l *Limiter) Allow(ctx context.Context) error {
	return l.inner.Wait(ctx)
}
