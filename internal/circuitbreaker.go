package internal

import (
	"sync"
	"sync/atomic"
	"time"
)

type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreakerConfig configures breaker thresholds per provider.
type CircuitBreakerConfig struct {
	RateLimitThreshold int           // consecutive rate-limit failures before tripping, default 3
	GeneralThreshold   int           // consecutive general failures before tripping, default 5
	RateLimitOpenFor   time.Duration // default 60 minutes
	GeneralOpenFor     time.Duration // default 15 minutes
	HalfOpenProbes     int           // default 1
}

// DefaultCircuitBreakerConfig matches the engine's stated defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		RateLimitThreshold: 3,
		GeneralThreshold:   5,
		RateLimitOpenFor:   60 * time.Minute,
		GeneralOpenFor:     15 * time.Minute,
		HalfOpenProbes:     1,
	}
}

// CircuitBreaker is a per-provider call gate with a three-state machine:
// CLOSED passes calls through, OPEN refuses them until openUntil elapses,
// HALF_OPEN permits a bounded number of probes to decide whether to close or
// re-open.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           breakerState
	rateLimitFails  int
	generalFails    int
	openUntil       time.Time
	halfOpenInUse   int32
	halfOpenBudget  int32
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: breakerClosed}
}

// Allow reports whether a call may proceed. When HALF_OPEN it admits up to
// HalfOpenProbes concurrent probes and denies the rest.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Now().Before(b.openUntil) {
			return false
		}
		b.state = breakerHalfOpen
		b.halfOpenBudget = int32(b.cfg.HalfOpenProbes)
		fallthrough
	case breakerHalfOpen:
		if atomic.LoadInt32(&b.halfOpenBudget) <= 0 {
			return false
		}
		atomic.AddInt32(&b.halfOpenBudget, -1)
		atomic.AddInt32(&b.halfOpenInUse, 1)
		return true
	default:
		return false
	}
}

// RecordSuccess transitions HALF_OPEN → CLOSED and resets failure counters.
// A success while CLOSED simply resets counters.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rateLimitFails = 0
	b.generalFails = 0
	if b.state == breakerHalfOpen {
		b.state = breakerClosed
		atomic.StoreInt32(&b.halfOpenInUse, 0)
	}
}

// RecordRateLimitFailure counts a 429-class failure, tripping the breaker
// with the rate-limit timer once the threshold is reached.
func (b *CircuitBreaker) RecordRateLimitFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.trip(b.cfg.RateLimitOpenFor)
		return
	}

	b.rateLimitFails++
	if b.rateLimitFails >= b.cfg.RateLimitThreshold {
		b.trip(b.cfg.RateLimitOpenFor)
	}
}

// RecordGeneralFailure counts a non-rate-limit failure, tripping the
// breaker with the general timer once the threshold is reached.
func (b *CircuitBreaker) RecordGeneralFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.trip(b.cfg.GeneralOpenFor)
		return
	}

	b.generalFails++
	if b.generalFails >= b.cfg.GeneralThreshold {
		b.trip(b.cfg.GeneralOpenFor)
	}
}

// trip must be called with b.mu held.
func (b *CircuitBreaker) trip(d time.Duration) {
	b.state = breakerOpen
	b.openUntil = time.Now().Add(d)
	b.rateLimitFails = 0
	b.generalFails = 0
	atomic.StoreInt32(&b.halfOpenInUse, 0)
}

// State reports the current state, mostly for tests and metrics.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return "CLOSED"
	case breakerOpen:
		return "OPEN"
	case breakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}
