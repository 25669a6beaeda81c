package monitor

import (
	"testing"

	"github.com/healthpulse/pulse-jobs/internal/retry"
)

type staticSource struct {
	snap retry.MetricsSnapshot
}

func (s staticSource) Metrics() retry.MetricsSnapshot { return s.snap }

func TestCheck_HealthySnapshot(t *testing.T) {
	m := New(staticSource{snap: retry.MetricsSnapshot{
		SuccessRate:    0.95,
		DeadLetterSize: 3,
		Breakers: map[string]retry.BreakerSnapshot{
			"daily-insights_u1": {State: retry.StateClosed},
		},
	}}, DefaultThresholds())

	if alerts := m.Check(); len(alerts) != 0 {
		t.Errorf("Check() = %v, want no alerts", alerts)
	}
}

func TestCheck_EmptySnapshot(t *testing.T) {
	m := New(staticSource{snap: retry.MetricsSnapshot{SuccessRate: 1.0}}, DefaultThresholds())
	if alerts := m.Check(); len(alerts) != 0 {
		t.Errorf("Check() = %v, want no alerts before any traffic", alerts)
	}
}

func TestCheck_FailureRate(t *testing.T) {
	m := New(staticSource{snap: retry.MetricsSnapshot{
		SuccessRate: 0.4,
	}}, Thresholds{MaxFailureRate: 0.5, MaxDeadLetters: 50})

	alerts := m.Check()
	if len(alerts) != 1 {
		t.Fatalf("Check() returned %d alerts, want 1", len(alerts))
	}
	if alerts[0].Kind != AlertFailureRate {
		t.Errorf("Kind = %q, want %q", alerts[0].Kind, AlertFailureRate)
	}
	if alerts[0].Threshold != 0.5 {
		t.Errorf("Threshold = %v, want 0.5", alerts[0].Threshold)
	}
}

func TestCheck_DeadLetterBacklog(t *testing.T) {
	m := New(staticSource{snap: retry.MetricsSnapshot{
		SuccessRate:    1.0,
		DeadLetterSize: 51,
	}}, DefaultThresholds())

	alerts := m.Check()
	if len(alerts) != 1 || alerts[0].Kind != AlertDeadLetterBacklog {
		t.Fatalf("Check() = %v, want one %s alert", alerts, AlertDeadLetterBacklog)
	}
	if alerts[0].Value != 51 {
		t.Errorf("Value = %v, want 51", alerts[0].Value)
	}
}

func TestCheck_OpenBreakers(t *testing.T) {
	m := New(staticSource{snap: retry.MetricsSnapshot{
		SuccessRate: 1.0,
		Breakers: map[string]retry.BreakerSnapshot{
			"daily-insights_u2": {State: retry.StateOpen, FailureCount: 5},
			"daily-insights_u1": {State: retry.StateOpen, FailureCount: 4},
			"daily-insights_u3": {State: retry.StateHalfOpen},
		},
	}}, DefaultThresholds())

	alerts := m.Check()
	if len(alerts) != 2 {
		t.Fatalf("Check() returned %d alerts, want 2 (half-open does not alert)", len(alerts))
	}
	if alerts[0].OperationKey != "daily-insights_u1" || alerts[1].OperationKey != "daily-insights_u2" {
		t.Errorf("alert keys = %q,%q, want sorted u1,u2",
			alerts[0].OperationKey, alerts[1].OperationKey)
	}
	if alerts[0].Kind != AlertBreakerOpen {
		t.Errorf("Kind = %q, want %q", alerts[0].Kind, AlertBreakerOpen)
	}
}

func TestCheck_MultipleViolations(t *testing.T) {
	m := New(staticSource{snap: retry.MetricsSnapshot{
		SuccessRate:    0.2,
		DeadLetterSize: 120,
		Breakers: map[string]retry.BreakerSnapshot{
			"weekly-digest_u9": {State: retry.StateOpen},
		},
	}}, DefaultThresholds())

	alerts := m.Check()
	if len(alerts) != 3 {
		t.Fatalf("Check() returned %d alerts, want 3", len(alerts))
	}
	kinds := map[string]bool{}
	for _, a := range alerts {
		kinds[a.Kind] = true
	}
	for _, want := range []string{AlertFailureRate, AlertDeadLetterBacklog, AlertBreakerOpen} {
		if !kinds[want] {
			t.Errorf("missing %s alert in %v", want, alerts)
		}
	}
}
