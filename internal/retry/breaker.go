package retry

import (
	"sync"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

// Circuit breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// BreakerSnapshot is a point-in-time view of a circuit breaker.
type BreakerSnapshot struct {
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	SuccessCount    int    `json:"success_count"`
	LastFailureTime string `json:"last_failure_time,omitempty"`
}

// CircuitBreaker guards one operation key. Consecutive failures open the
// circuit; after the timeout a limited number of probe calls are let through,
// and enough consecutive probe successes close it again.
type CircuitBreaker struct {
	mu     sync.Mutex
	policy core.BreakerPolicy

	state            string
	failureCount     int
	successCount     int
	halfOpenAttempts int
	lastFailure      time.Time

	now          func() time.Time
	onTransition func(from, to string)
}

// NewCircuitBreaker creates a closed breaker with the given policy.
func NewCircuitBreaker(policy core.BreakerPolicy) *CircuitBreaker {
	return &CircuitBreaker{
		policy: policy,
		state:  StateClosed,
		now:    time.Now,
	}
}

// OnTransition registers a callback invoked on every state change. The
// callback runs while the breaker lock is held and must not call back in.
func (b *CircuitBreaker) OnTransition(fn func(from, to string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a call may proceed. In the open state it flips to
// half-open once the timeout has elapsed since the last failure; in the
// half-open state it admits at most HalfOpenRequests probes beyond the one
// that triggered the transition.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.policy.Timeout.Std() {
			b.transition(StateHalfOpen)
			b.halfOpenAttempts = 0
			b.successCount = 0
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenAttempts >= b.policy.HalfOpenRequests {
			return false
		}
		b.halfOpenAttempts++
		return true
	}
	return false
}

// RecordSuccess notes a successful call. Enough consecutive successes in the
// half-open state close the breaker; in the closed state the consecutive
// failure count resets.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.policy.SuccessThreshold {
			b.transition(StateClosed)
			b.failureCount = 0
			b.successCount = 0
			b.halfOpenAttempts = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure notes a failed call. A single failure in the half-open state
// reopens the circuit; in the closed state the breaker opens once the
// consecutive failure count reaches FailureThreshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.failureCount++
		b.successCount = 0
		b.halfOpenAttempts = 0
		b.transition(StateOpen)
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.policy.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// Reset forces the breaker back to closed and clears all counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenAttempts = 0
	b.lastFailure = time.Time{}
}

// State returns the current state.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerSnapshot{
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.lastFailure.IsZero() {
		s.LastFailureTime = core.FormatTime(b.lastFailure)
	}
	return s
}

// transition must be called with the lock held.
func (b *CircuitBreaker) transition(to string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
