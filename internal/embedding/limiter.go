package embedding

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitTimeout is returned when a permit could not be acquired within
// the wait budget. Callers treat it as transient: the job goes back to the
// queue without consuming a retry attempt.
var ErrRateLimitTimeout = errors.New("rate limit wait exceeded")

// RateLimiter caps the request rate against a provider using a token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// NewRateLimiter allows requestsPerMinute sustained with burst extra
// capacity. maxWait bounds how long Acquire blocks for a permit.
func NewRateLimiter(requestsPerMinute int, burst int, maxWait time.Duration) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
		maxWait: maxWait,
	}
}

// Acquire blocks until a permit is available, the wait budget is exhausted
// (ErrRateLimitTimeout), or ctx is cancelled.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, rl.maxWait)
	defer cancel()

	if err := rl.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRateLimitTimeout
	}
	return nil
}
