package kukuh

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is a three-state failure gate. Consecutive failures at or
// above the threshold open the circuit; after the recovery timeout a single
// trial call is let through (half-open); a recorded success fully heals the
// breaker from any state.
//
// State transitions are serialized under a mutex so the breaker may be
// shared across goroutines, including sharing one instance between several
// clients talking to the same dependency.
type CircuitBreaker struct {
	mu          sync.Mutex
	config      CircuitBreakerConfig
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a circuit breaker. Zero config fields fall back
// to a threshold of 5 failures and a 60s recovery timeout.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// IsOpen reports whether calls should be blocked. Checking is itself a state
// transition: when the breaker is open and the recovery timeout has elapsed
// since the last failure, IsOpen flips the breaker to half-open and returns
// false, admitting the trial call as part of the same check. The next
// RecordSuccess closes the breaker; the next RecordFailure reopens it and
// restarts the timeout clock.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateClosed {
		return false
	}

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.RecoveryTimeout {
		cb.state = StateHalfOpen
		return false
	}

	return cb.state == StateOpen
}

// RecordSuccess marks an attempted call as successful. Success always fully
// heals the breaker: the failure count resets and the state returns to
// closed regardless of the prior state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure marks an attempted call as failed. Reaching the failure
// threshold opens the circuit; a failure during a half-open trial reopens it
// immediately and restarts the recovery clock.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.failures >= cb.config.FailureThreshold {
		cb.state = StateOpen
	}
}

// Reset forces the breaker back to closed with a zero failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = StateClosed
}

// State returns the current state, for metrics and logging.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
