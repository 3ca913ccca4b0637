package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerClosedByDefault(t *testing.T) {
	b := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	assert.Equal(t, "CLOSED", b.State())
	assert.True(t, b.Allow())
}

func TestCircuitBreakerTripsOnGeneralThreshold(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.GeneralThreshold = 2
	cfg.GeneralOpenFor = time.Hour
	b := NewCircuitBreaker(cfg)

	b.RecordGeneralFailure()
	assert.Equal(t, "CLOSED", b.State())
	b.RecordGeneralFailure()
	assert.Equal(t, "OPEN", b.State())
	assert.False(t, b.Allow())
}

func TestCircuitBreakerTripsOnRateLimitThreshold(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.RateLimitThreshold = 1
	cfg.RateLimitOpenFor = time.Hour
	b := NewCircuitBreaker(cfg)

	b.RecordRateLimitFailure()
	assert.Equal(t, "OPEN", b.State())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.GeneralThreshold = 1
	cfg.GeneralOpenFor = time.Millisecond
	cfg.HalfOpenProbes = 1
	b := NewCircuitBreaker(cfg)

	b.RecordGeneralFailure()
	assert.Equal(t, "OPEN", b.State())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow()) // transitions to HALF_OPEN and admits one probe
	assert.Equal(t, "HALF_OPEN", b.State())

	// Budget exhausted: a second concurrent probe is denied.
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, "CLOSED", b.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.GeneralThreshold = 1
	cfg.GeneralOpenFor = time.Millisecond
	b := NewCircuitBreaker(cfg)

	b.RecordGeneralFailure()
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordGeneralFailure()
	assert.Equal(t, "OPEN", b.State())
}
