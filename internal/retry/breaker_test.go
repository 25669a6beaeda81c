package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

func testBreakerPolicy() core.BreakerPolicy {
	return core.BreakerPolicy{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          core.Duration(60 * time.Second),
		HalfOpenRequests: 2,
	}
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())

	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after 2 failures = %q, want %q", got, StateClosed)
	}
	if !b.Allow() {
		t.Error("Allow() = false while closed, want true")
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after 3 failures = %q, want %q", got, StateOpen)
	}
	if b.Allow() {
		t.Error("Allow() = true while open, want false")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %q, want %q (failures are not consecutive)", got, StateClosed)
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Errorf("State() = %q, want %q", got, StateOpen)
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %q, want %q", got, StateOpen)
	}

	now = now.Add(59 * time.Second)
	if b.Allow() {
		t.Error("Allow() = true before timeout elapsed, want false")
	}

	now = now.Add(time.Second)
	if !b.Allow() {
		t.Error("Allow() = false after timeout elapsed, want true")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("State() = %q, want %q", got, StateHalfOpen)
	}
}

func TestBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false, want true after timeout")
	}

	b.RecordSuccess()
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("State() after 1 success = %q, want %q", got, StateHalfOpen)
	}
	b.RecordSuccess()
	if got := b.State(); got != StateClosed {
		t.Errorf("State() after 2 successes = %q, want %q", got, StateClosed)
	}

	snap := b.Snapshot()
	if snap.FailureCount != 0 || snap.SuccessCount != 0 {
		t.Errorf("Snapshot() counters = %d/%d, want 0/0 after close", snap.FailureCount, snap.SuccessCount)
	}
}

func TestBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false, want true after timeout")
	}
	b.RecordSuccess()

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Errorf("State() after half-open failure = %q, want %q", got, StateOpen)
	}
	if b.Allow() {
		t.Error("Allow() = true immediately after reopen, want false")
	}
}

func TestBreaker_HalfOpenRequestLimit(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(61 * time.Second)

	// The transition call plus HalfOpenRequests probes are admitted.
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("Allow() call %d = false, want true", i+1)
		}
	}
	if b.Allow() {
		t.Error("Allow() = true past the half-open probe limit, want false")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %q, want %q", got, StateOpen)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Errorf("State() after Reset = %q, want %q", got, StateClosed)
	}
	if !b.Allow() {
		t.Error("Allow() = false after Reset, want true")
	}
	snap := b.Snapshot()
	if snap.FailureCount != 0 || snap.LastFailureTime != "" {
		t.Errorf("Snapshot() after Reset = %+v, want zeroed", snap)
	}
}

func TestBreaker_TransitionCallback(t *testing.T) {
	b := NewCircuitBreaker(testBreakerPolicy())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	var got []string
	b.OnTransition(func(from, to string) {
		got = append(got, fmt.Sprintf("%s->%s", from, to))
	})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(61 * time.Second)
	b.Allow()
	b.RecordSuccess()
	b.RecordSuccess()

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}
