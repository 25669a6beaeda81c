// Package retry implements the resilient execution engine: classified
// retries with configurable backoff, per-key circuit breakers, and an
// in-memory dead letter queue with pluggable eviction.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
)

// Operation is a unit of work executed under retry protection.
type Operation func(ctx context.Context) (any, error)

// Terminal statuses of an Execute call.
const (
	StatusSuccess            = "success"
	StatusPermanentFailure   = "permanent_failure"
	StatusMaxRetriesExceeded = "max_retries_exceeded"
	StatusCircuitOpen        = "circuit_breaker_open"
	StatusUnknownFailure     = "unknown_failure"
)

// AttemptRecord describes a single failed attempt.
type AttemptRecord struct {
	Attempt     int           `json:"attempt"`
	Error       string        `json:"error"`
	ErrorKind   string        `json:"error_kind"`
	Duration    core.Duration `json:"duration"`
	Delay       core.Duration `json:"delay,omitempty"`
	ShouldRetry bool          `json:"should_retry"`
	Reason      string        `json:"reason"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Result is the terminal outcome of an Execute call.
type Result struct {
	Status       string          `json:"status"`
	OperationKey string          `json:"operation_key"`
	Value        any             `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Attempts     int             `json:"attempts"`
	RetryHistory []AttemptRecord `json:"retry_history,omitempty"`
	Duration     core.Duration   `json:"duration"`
}

// Success reports whether the operation eventually succeeded.
func (r *Result) Success() bool {
	return r.Status == StatusSuccess
}

// MetricsSnapshot aggregates engine counters across all operation keys.
type MetricsSnapshot struct {
	Operations     int                        `json:"operations"`
	TotalAttempts  int                        `json:"total_attempts"`
	TotalSuccesses int                        `json:"total_successes"`
	TotalFailures  int                        `json:"total_failures"`
	SuccessRate    float64                    `json:"success_rate"`
	Breakers       map[string]BreakerSnapshot `json:"circuit_breakers"`
	DeadLetterSize int                        `json:"dead_letter_queue_size"`
}

type opStats struct {
	attempts  int
	successes int
	failures  int
}

// Manager executes operations with retries, one circuit breaker per
// operation key, and routes exhausted operations to the dead letter queue.
type Manager struct {
	policy        core.RetryPolicy
	breakerPolicy core.BreakerPolicy

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	stats    map[string]*opStats

	dlq    *deadLetterQueue
	logger *slog.Logger
	events core.EventPublisher

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager with the given retry and breaker policies.
func NewManager(policy core.RetryPolicy, breakerPolicy core.BreakerPolicy) *Manager {
	logger := slog.Default()
	return &Manager{
		policy:        policy,
		breakerPolicy: breakerPolicy,
		breakers:      make(map[string]*CircuitBreaker),
		stats:         make(map[string]*opStats),
		dlq:           newDeadLetterQueue(logger),
		logger:        logger,
		now:           time.Now,
		sleep:         sleepContext,
	}
}

// SetLogger replaces the default logger. Call before Execute traffic starts.
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logger
	m.dlq.setLogger(logger)
}

// SetEventPublisher wires lifecycle event publishing. Call before Execute
// traffic starts.
func (m *Manager) SetEventPublisher(pub core.EventPublisher) {
	m.events = pub
}

// SetEvictionPolicy installs a dead letter eviction policy. A nil policy
// keeps every entry.
func (m *Manager) SetEvictionPolicy(policy EvictionPolicy) {
	m.dlq.setPolicy(policy)
}

// Policy returns the retry policy the manager was built with.
func (m *Manager) Policy() core.RetryPolicy {
	return m.policy
}

// BreakerPolicy returns the breaker policy the manager was built with.
func (m *Manager) BreakerPolicy() core.BreakerPolicy {
	return m.breakerPolicy
}

// Execute runs op under the manager's retry policy. The circuit breaker for
// key is consulted before every attempt; a rejected call returns
// StatusCircuitOpen without consuming an attempt. An empty key is derived
// from the operation's function name and is shared by all calls of that
// function.
func (m *Manager) Execute(ctx context.Context, key string, op Operation) *Result {
	if key == "" {
		key = deriveKey(op)
	}

	start := m.now()
	res := &Result{OperationKey: key}
	br := m.breaker(key)

	maxAttempts := m.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var history []AttemptRecord

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !br.Allow() {
			res.Status = StatusCircuitOpen
			res.Error = fmt.Sprintf("circuit breaker open for %s", key)
			res.Reason = "circuit breaker open"
			res.Attempts = attempt - 1
			res.RetryHistory = history
			res.Duration = core.Duration(m.now().Sub(start))
			m.logger.Warn("circuit breaker rejected operation",
				"operation_key", key, "attempts", attempt-1)
			return res
		}

		m.recordAttempt(key)
		metrics.RetryAttempts.Inc()
		m.logger.Debug("executing operation",
			"operation_key", key, "attempt", attempt, "max_attempts", maxAttempts)

		attemptStart := m.now()
		value, err := op(ctx)
		attemptDur := m.now().Sub(attemptStart)
		metrics.OperationDuration.Observe(attemptDur.Seconds())

		if err == nil {
			br.RecordSuccess()
			m.recordOutcome(key, true)
			metrics.RetrySuccesses.Inc()

			res.Status = StatusSuccess
			res.Value = value
			res.Attempts = attempt
			res.RetryHistory = history
			res.Duration = core.Duration(m.now().Sub(start))
			return res
		}

		br.RecordFailure()
		oe := core.FromError(err)
		retryable, reason := core.ShouldRetry(err)

		rec := AttemptRecord{
			Attempt:     attempt,
			Error:       err.Error(),
			ErrorKind:   string(oe.Kind),
			Duration:    core.Duration(attemptDur),
			ShouldRetry: retryable,
			Reason:      reason,
			Timestamp:   attemptStart,
		}

		if !retryable {
			history = append(history, rec)
			return m.finishFailure(res, StatusPermanentFailure, key, err, oe.Kind, reason, attempt, history, start)
		}
		if attempt == maxAttempts {
			history = append(history, rec)
			return m.finishFailure(res, StatusMaxRetriesExceeded, key, err, oe.Kind, reason, attempt, history, start)
		}

		policy := m.policy
		if hint, ok := core.StrategyHint(err); ok {
			policy.Strategy = hint
		}
		delay := core.Delay(policy, attempt-1)
		rec.Delay = core.Duration(delay)
		history = append(history, rec)

		metrics.RetryDelaySeconds.Observe(delay.Seconds())
		m.logger.Warn("operation failed, retrying",
			"operation_key", key,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err.Error(),
			"kind", string(oe.Kind),
			"reason", reason,
			"strategy", string(policy.Strategy),
			"delay", delay.String(),
		)

		if serr := m.sleep(ctx, delay); serr != nil {
			werr := fmt.Errorf("retry wait interrupted: %w", serr)
			return m.finishFailure(res, StatusUnknownFailure, key, werr, core.KindUnknown,
				"context canceled during retry wait", attempt, history, start)
		}
	}

	// Unreachable: the loop always returns.
	return res
}

// finishFailure records a terminal failure, adds a dead letter entry, and
// publishes the exhaustion event.
func (m *Manager) finishFailure(res *Result, status, key string, err error, kind core.ErrorKind, reason string, attempts int, history []AttemptRecord, start time.Time) *Result {
	m.recordOutcome(key, false)
	metrics.RetryFailures.Inc()

	res.Status = status
	res.Error = err.Error()
	res.ErrorKind = string(kind)
	res.Reason = reason
	res.Attempts = attempts
	res.RetryHistory = history
	res.Duration = core.Duration(m.now().Sub(start))

	now := m.now()
	entry := DeadLetterEntry{
		ID:           core.EntryID(key, err.Error(), now),
		OperationKey: key,
		Error:        err.Error(),
		ErrorKind:    string(kind),
		RetryHistory: history,
		Timestamp:    now,
	}
	m.dlq.add(entry)

	m.logger.Error("operation failed",
		"operation_key", key,
		"status", status,
		"attempts", attempts,
		"error", err.Error(),
		"kind", string(kind),
		"reason", reason,
	)

	if m.events != nil {
		ev := core.NewEvent(core.EventOperationExhausted)
		ev.OperationKey = key
		ev.Data = map[string]any{
			"status":   status,
			"error":    err.Error(),
			"attempts": attempts,
		}
		_ = m.events.Publish(ev)
	}
	if m.events != nil {
		ev := core.NewEvent(core.EventDeadLetterAdded)
		ev.OperationKey = key
		ev.Data = map[string]any{
			"entry_id":   entry.ID,
			"error_kind": entry.ErrorKind,
		}
		_ = m.events.Publish(ev)
	}
	return res
}

// Metrics returns an aggregate snapshot across all operation keys.
func (m *Manager) Metrics() MetricsSnapshot {
	m.mu.Lock()
	snap := MetricsSnapshot{
		Operations: len(m.stats),
		Breakers:   make(map[string]BreakerSnapshot, len(m.breakers)),
	}
	for _, s := range m.stats {
		snap.TotalAttempts += s.attempts
		snap.TotalSuccesses += s.successes
		snap.TotalFailures += s.failures
	}
	breakers := make(map[string]*CircuitBreaker, len(m.breakers))
	for k, b := range m.breakers {
		breakers[k] = b
	}
	m.mu.Unlock()

	for k, b := range breakers {
		snap.Breakers[k] = b.Snapshot()
	}
	if total := snap.TotalSuccesses + snap.TotalFailures; total > 0 {
		snap.SuccessRate = float64(snap.TotalSuccesses) / float64(total)
	} else {
		snap.SuccessRate = 1.0
	}
	snap.DeadLetterSize = m.dlq.size()
	return snap
}

// DeadLetters returns a copy of the dead letter queue, oldest first.
func (m *Manager) DeadLetters() []DeadLetterEntry {
	return m.dlq.snapshot()
}

// ClearDeadLetters removes the entries with the given IDs, or every entry
// when no IDs are given. It returns the number removed.
func (m *Manager) ClearDeadLetters(ids ...string) int {
	return m.dlq.clear(ids...)
}

// DeadLetterSize returns the current dead letter queue size.
func (m *Manager) DeadLetterSize() int {
	return m.dlq.size()
}

// Breakers returns a snapshot of every circuit breaker by operation key.
func (m *Manager) Breakers() map[string]BreakerSnapshot {
	m.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(m.breakers))
	for k, b := range m.breakers {
		breakers[k] = b
	}
	m.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(breakers))
	for k, b := range breakers {
		out[k] = b.Snapshot()
	}
	return out
}

// ResetBreaker forces the breaker for key back to closed. It reports whether
// a breaker existed for key.
func (m *Manager) ResetBreaker(key string) bool {
	m.mu.Lock()
	b, ok := m.breakers[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	m.logger.Info("circuit breaker reset", "operation_key", key)
	return true
}

func (m *Manager) breaker(key string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[key]
	if !ok {
		b = NewCircuitBreaker(m.breakerPolicy)
		b.OnTransition(func(from, to string) {
			metrics.BreakerState.WithLabelValues(key).Set(breakerStateValue(to))
			level := slog.LevelInfo
			if to == StateOpen {
				metrics.BreakerTrips.Inc()
				level = slog.LevelWarn
			}
			m.logger.Log(context.Background(), level, "circuit breaker state changed",
				"operation_key", key, "from", from, "to", to)
			if m.events != nil {
				ev := core.NewEvent(core.EventBreakerStateChanged)
				ev.OperationKey = key
				ev.Data = map[string]any{"from": from, "to": to}
				_ = m.events.Publish(ev)
			}
		})
		m.breakers[key] = b
	}
	return b
}

func (m *Manager) recordAttempt(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[key]
	if s == nil {
		s = &opStats{}
		m.stats[key] = s
	}
	s.attempts++
}

func (m *Manager) recordOutcome(key string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[key]
	if s == nil {
		s = &opStats{}
		m.stats[key] = s
	}
	if success {
		s.successes++
	} else {
		s.failures++
	}
}

func breakerStateValue(state string) float64 {
	switch state {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

// deriveKey builds a stable fallback key from the operation's function name.
// All closures compiled at the same site share the derived key.
func deriveKey(op Operation) string {
	name := "operation"
	if pc := reflect.ValueOf(op).Pointer(); pc != 0 {
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
		}
	}
	return core.DeriveKey(name)
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
