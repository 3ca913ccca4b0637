package internal

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket per provider.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter with the given burst capacity and steady
// refill rate (tokens/sec derived from rps).
func NewRateLimiter(capacity int, rps float64) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), capacity)}
}

// Acquire blocks up to timeout waiting for a token. It returns true if a
// token was acquired, false if the timeout elapsed first. A denial should be
// reported to the CircuitBreaker as a rate-limit failure by the caller.
func (r *RateLimiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return r.limiter.Wait(ctx) == nil
}

// SetLimit adjusts the steady-state rate.
func (r *RateLimiter) SetLimit(rps float64) {
	r.limiter.SetLimit(rate.Limit(rps))
}

// SetLimitAt sets the steady-state rate immediately, using at as the
// reference time for the token accounting; it does not defer the change.
func (r *RateLimiter) SetLimitAt(at time.Time, rps float64) {
	r.limiter.SetLimitAt(at, rate.Limit(rps))
}

// Limit returns the current steady-state rate.
func (r *RateLimiter) Limit() rate.Limit {
	return r.limiter.Limit()
}
