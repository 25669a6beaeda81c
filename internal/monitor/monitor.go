// Package monitor raises alerts from engine metrics snapshots: elevated
// failure rates, dead letter backlog, and open circuit breakers.
package monitor

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
	"github.com/healthpulse/pulse-jobs/internal/retry"
)

// Alert kinds.
const (
	AlertFailureRate       = "failure_rate"
	AlertDeadLetterBacklog = "dead_letter_backlog"
	AlertBreakerOpen       = "breaker_open"
)

// MetricsSource supplies engine snapshots to check against thresholds.
type MetricsSource interface {
	Metrics() retry.MetricsSnapshot
}

// Thresholds bound what the monitor tolerates before alerting.
type Thresholds struct {
	MaxFailureRate float64
	MaxDeadLetters int
}

// DefaultThresholds returns the standard alerting bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxFailureRate: 0.5,
		MaxDeadLetters: 50,
	}
}

// Alert describes one threshold violation.
type Alert struct {
	Kind         string  `json:"kind"`
	Message      string  `json:"message"`
	OperationKey string  `json:"operation_key,omitempty"`
	Value        float64 `json:"value"`
	Threshold    float64 `json:"threshold"`
}

// Monitor periodically inspects a metrics source. It only observes; it never
// resets breakers or clears queues.
type Monitor struct {
	source     MetricsSource
	thresholds Thresholds
	logger     *slog.Logger
	events     core.EventPublisher
}

// New creates a Monitor over source with the given thresholds.
func New(source MetricsSource, thresholds Thresholds) *Monitor {
	return &Monitor{
		source:     source,
		thresholds: thresholds,
		logger:     slog.Default(),
	}
}

// SetLogger replaces the default logger. Call before Check traffic starts.
func (m *Monitor) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// SetEventPublisher wires alert event publishing. Call before Check traffic
// starts.
func (m *Monitor) SetEventPublisher(pub core.EventPublisher) {
	m.events = pub
}

// Check compares the current snapshot against the thresholds and returns the
// violations. Every alert is also logged at error level, counted, and
// published to the event bus.
func (m *Monitor) Check() []Alert {
	snap := m.source.Metrics()
	metrics.DeadLetterQueueSize.Set(float64(snap.DeadLetterSize))
	var alerts []Alert

	failureRate := 1 - snap.SuccessRate
	if failureRate > m.thresholds.MaxFailureRate {
		alerts = append(alerts, Alert{
			Kind:      AlertFailureRate,
			Message:   fmt.Sprintf("failure rate %.2f exceeds %.2f", failureRate, m.thresholds.MaxFailureRate),
			Value:     failureRate,
			Threshold: m.thresholds.MaxFailureRate,
		})
	}

	if snap.DeadLetterSize > m.thresholds.MaxDeadLetters {
		alerts = append(alerts, Alert{
			Kind:      AlertDeadLetterBacklog,
			Message:   fmt.Sprintf("dead letter queue size %d exceeds %d", snap.DeadLetterSize, m.thresholds.MaxDeadLetters),
			Value:     float64(snap.DeadLetterSize),
			Threshold: float64(m.thresholds.MaxDeadLetters),
		})
	}

	keys := make([]string, 0, len(snap.Breakers))
	for key := range snap.Breakers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if snap.Breakers[key].State == retry.StateOpen {
			alerts = append(alerts, Alert{
				Kind:         AlertBreakerOpen,
				Message:      fmt.Sprintf("circuit breaker open for %s", key),
				OperationKey: key,
				Value:        float64(snap.Breakers[key].FailureCount),
			})
		}
	}

	for _, alert := range alerts {
		m.logger.Error("monitor alert",
			"kind", alert.Kind,
			"message", alert.Message,
			"operation_key", alert.OperationKey,
		)
		metrics.MonitorAlerts.WithLabelValues(alert.Kind).Inc()
		if m.events != nil {
			ev := core.NewEvent(core.EventMonitorAlert)
			ev.OperationKey = alert.OperationKey
			ev.Data = map[string]any{
				"kind":      alert.Kind,
				"message":   alert.Message,
				"value":     alert.Value,
				"threshold": alert.Threshold,
			}
			_ = m.events.Publish(ev)
		}
	}
	return alerts
}
