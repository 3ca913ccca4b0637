package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	attempts := 0
	err := Retry(t.Context(), DefaultRetryConfig(), nil, func(ctx context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsImmediatelyOnNonRetriableError(t *testing.T) {
	attempts := 0
	err := Retry(t.Context(), DefaultRetryConfig(), nil, func(ctx context.Context) error {
		attempts++
		return ErrPermanent
	})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsMaxAttemptsOnTransientError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2, JitterFrac: 0}
	attempts := 0
	err := Retry(t.Context(), cfg, nil, func(ctx context.Context) error {
		attempts++
		return ErrTransient
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, attempts)
}

func TestRetryInvokesOnAttemptEveryTime(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, Initial: time.Millisecond, Multiplier: 2, JitterFrac: 0}
	var seen []int
	_ = Retry(t.Context(), cfg, func(attempt int, err error) {
		seen = append(seen, attempt)
	}, func(ctx context.Context) error {
		return ErrTransient
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetryRecoversAfterTransientFailure(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2, JitterFrac: 0}
	attempts := 0
	err := Retry(t.Context(), cfg, nil, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return ErrTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryAbortsOnContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, Initial: 50 * time.Millisecond, Multiplier: 2, JitterFrac: 0}
	ctx, cancel := context.WithCancel(t.Context())
	attempts := 0
	err := Retry(ctx, cfg, nil, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return ErrTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFuzzWithinRange(t *testing.T) {
	d := time.Hour
	for i := 0; i < 50; i++ {
		got := fuzz(d, 1.5)
		assert.GreaterOrEqual(t, got, d)
		assert.LessOrEqual(t, got, time.Duration(float64(d)*1.5))
	}
}

func TestFuzzNoopBelowOne(t *testing.T) {
	assert.Equal(t, time.Hour, fuzz(time.Hour, 1))
	assert.Equal(t, time.Hour, fuzz(time.Hour, 0))
}

func TestJitterWithinRange(t *testing.T) {
	d := 250 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jitter(d, 0.2)
		assert.GreaterOrEqual(t, got, time.Duration(float64(d)*0.8))
		assert.LessOrEqual(t, got, time.Duration(float64(d)*1.2))
	}
}
