package infra

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	StateClosed   BreakerState = iota // Normal operation
	StateOpen                         // Failing, reject calls
	StateHalfOpen                     // Testing recovery
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker stops calling a dependency after repeated failures and
// admits a single trial call once the cool-off has passed. Other callers are
// rejected until the trial reports back, or until the trial itself has been
// outstanding for a full cool-off. Thread-safe.
type CircuitBreaker struct {
	name string
	mu   sync.Mutex
	now  func() time.Time

	state        BreakerState
	failureCount int
	lastFailure  time.Time
	trialStarted time.Time // zero when no half-open trial is outstanding

	failureThreshold int
	timeout          time.Duration
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		now:              time.Now,
		state:            StateClosed,
		failureThreshold: max(failureThreshold, 1),
		timeout:          timeout,
	}
}

// WithClock replaces the time source (tests).
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.lastFailure) > cb.timeout {
			cb.state = StateHalfOpen
			cb.trialStarted = now
			slog.Info("Circuit breaker transitioning to HALF_OPEN", slog.String("name", cb.name))
			return true
		}
		return false
	case StateHalfOpen:
		if !cb.trialStarted.IsZero() && now.Sub(cb.trialStarted) <= cb.timeout {
			return false
		}
		cb.trialStarted = now
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		slog.Info("Circuit breaker CLOSED (recovered)", slog.String("name", cb.name))
	}
	cb.state = StateClosed
	cb.failureCount = 0
	cb.trialStarted = time.Time{}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()
	cb.trialStarted = time.Time{}

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			slog.Warn("Circuit breaker OPEN (failures exceeded threshold)",
				slog.String("name", cb.name),
				slog.Int("failures", cb.failureCount))
		}
	case StateHalfOpen:
		cb.state = StateOpen
		slog.Warn("Circuit breaker OPEN (half-open trial failed)", slog.String("name", cb.name))
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
