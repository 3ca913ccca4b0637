package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAcquireWithinBurst(t *testing.T) {
	r := NewRateLimiter(2, 1)
	assert.True(t, r.Acquire(t.Context(), time.Second))
	assert.True(t, r.Acquire(t.Context(), time.Second))
}

func TestRateLimiterAcquireTimesOut(t *testing.T) {
	r := NewRateLimiter(1, 0.001)
	assert.True(t, r.Acquire(t.Context(), time.Second)) // drains the single burst token
	assert.False(t, r.Acquire(t.Context(), 10*time.Millisecond))
}

func TestRateLimiterSetLimit(t *testing.T) {
	r := NewRateLimiter(1, 1)
	r.SetLimit(5)
	assert.Equal(t, 5.0, float64(r.Limit()))
}

func TestRateLimiterSetLimitAt(t *testing.T) {
	r := NewRateLimiter(1, 1)
	r.SetLimitAt(time.Now().Add(time.Millisecond), 10)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 10.0, float64(r.Limit()))
}
