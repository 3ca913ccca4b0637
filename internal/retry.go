package internal

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	MaxAttempts int           // default 3
	Initial     time.Duration // default 250ms
	Multiplier  float64       // default 2.0
	JitterFrac  float64       // default 0.2 (±20%)
}

// DefaultRetryConfig matches the engine's stated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Initial:     250 * time.Millisecond,
		Multiplier:  2.0,
		JitterFrac:  0.2,
	}
}

// retriable reports whether err should be retried per the taxonomy:
// ErrTransient and ErrRateLimited are retriable, everything else
// (ErrPermanent, ErrNotFound, ErrDataIntegrity, ErrCorrupt) is not.
func retriable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping with exponential
// backoff and jitter between attempts, stopping early on a non-retriable
// error or context cancellation. onAttempt, if non-nil, is invoked after
// every attempt for metrics.
func Retry(ctx context.Context, cfg RetryConfig, onAttempt func(attempt int, err error), fn func(ctx context.Context) error) error {
	var lastErr error

	delay := cfg.Initial
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if onAttempt != nil {
			onAttempt(attempt, lastErr)
		}
		if lastErr == nil {
			return nil
		}
		if !retriable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := jitter(delay, cfg.JitterFrac)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}

	return lastErr
}

// jitter scales d by a random factor in [1-frac, 1+frac].
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	lo := 1 - frac
	span := 2 * frac
	factor := lo + rand.Float64()*span
	return time.Duration(float64(d) * factor)
}

// fuzz scales a TTL into the range [d, d*f], used to avoid synchronized
// cache expiry across many keys sharing one nominal TTL.
func fuzz(d time.Duration, f float64) time.Duration {
	if f <= 1 {
		return d
	}
	span := f - 1
	factor := 1 + rand.Float64()*span
	return time.Duration(float64(d) * factor)
}
