package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/jobs"
	"github.com/healthpulse/pulse-jobs/internal/llm"
	"github.com/healthpulse/pulse-jobs/internal/store"
)

type fakeUsers struct{}

func (fakeUsers) Get(ctx context.Context, id string) (*store.User, error) {
	return &store.User{ID: id, FullName: "Ada Park", Active: true}, nil
}
func (fakeUsers) ActiveIDs(ctx context.Context) ([]string, error) {
	return []string{"u1"}, nil
}

type fakeRecords struct{}

func (fakeRecords) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]store.HealthRecord, error) {
	return []store.HealthRecord{{ID: "r1", UserID: userID, Kind: "sleep", Body: "7h"}}, nil
}

type fakeInsights struct{}

func (fakeInsights) Insert(ctx context.Context, ins *store.Insight) error {
	ins.ID = "ins-1"
	return nil
}

type fakeLLM struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeLLM) GenerateInsight(ctx context.Context, req llm.InsightRequest) (*llm.InsightResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &llm.InsightResult{Summary: "ok", Model: "test", TokensUsed: 3}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestRegistry(t *testing.T, specs []jobs.Spec) (*jobs.Registry, *fakeLLM) {
	t.Helper()
	client := &fakeLLM{}
	reg, err := jobs.New(specs, jobs.Deps{
		Users:    fakeUsers{},
		Records:  fakeRecords{},
		Insights: fakeInsights{},
		LLM:      client,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("jobs.New() error = %v", err)
	}
	return reg, client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStopIsIdempotent(t *testing.T) {
	s := &Scheduler{
		stop: make(chan struct{}),
	}

	s.Stop()
	s.Stop()

	select {
	case <-s.stop:
	default:
		t.Fatal("expected scheduler stop channel to be closed")
	}
}

func TestIntervals_Defaults(t *testing.T) {
	iv := Intervals{}.withDefaults()

	if iv.CronCheck != time.Minute {
		t.Errorf("CronCheck = %v, want 1m", iv.CronCheck)
	}
	if iv.ArchiveSweep != time.Minute {
		t.Errorf("ArchiveSweep = %v, want 1m", iv.ArchiveSweep)
	}
	if iv.RedriveDrain != 5*time.Minute {
		t.Errorf("RedriveDrain = %v, want 5m", iv.RedriveDrain)
	}
	if iv.MonitorCheck != 30*time.Second {
		t.Errorf("MonitorCheck = %v, want 30s", iv.MonitorCheck)
	}

	custom := Intervals{CronCheck: time.Second}.withDefaults()
	if custom.CronCheck != time.Second {
		t.Errorf("CronCheck = %v, want the configured 1s", custom.CronCheck)
	}
}

func TestFireDueJobs_RunsDueJob(t *testing.T) {
	reg, client := newTestRegistry(t, []jobs.Spec{
		{Name: "daily-insight", Schedule: "* * * * *", Operation: jobs.OpGenerateInsights},
	})
	s := New(reg, nil, nil, testLogger(), Intervals{})

	// Prime in the past so the every-minute schedule is due on the next check.
	s.primeSchedules(time.Now().Add(-2 * time.Minute))

	if err := s.fireDueJobs(context.Background()); err != nil {
		t.Fatalf("fireDueJobs() error = %v", err)
	}
	s.wg.Wait()

	if got := client.callCount(); got != 1 {
		t.Errorf("llm calls = %d, want 1", got)
	}
}

func TestFireDueJobs_NotYetDue(t *testing.T) {
	reg, client := newTestRegistry(t, []jobs.Spec{
		{Name: "daily-insight", Schedule: "* * * * *", Operation: jobs.OpGenerateInsights},
	})
	s := New(reg, nil, nil, testLogger(), Intervals{})

	s.primeSchedules(time.Now())

	if err := s.fireDueJobs(context.Background()); err != nil {
		t.Fatalf("fireDueJobs() error = %v", err)
	}
	s.wg.Wait()

	if got := client.callCount(); got != 0 {
		t.Errorf("llm calls = %d, want 0 before the boundary", got)
	}
}

func TestFireDueJobs_SkipsDisabled(t *testing.T) {
	reg, client := newTestRegistry(t, []jobs.Spec{
		{Name: "daily-insight", Schedule: "* * * * *", Operation: jobs.OpGenerateInsights, Disabled: true},
	})
	s := New(reg, nil, nil, testLogger(), Intervals{})

	s.primeSchedules(time.Now().Add(-2 * time.Minute))

	if err := s.fireDueJobs(context.Background()); err != nil {
		t.Fatalf("fireDueJobs() error = %v", err)
	}
	s.wg.Wait()

	if got := client.callCount(); got != 0 {
		t.Errorf("llm calls = %d, want 0 for a disabled job", got)
	}
}

func TestFireDueJobs_AdvancesNextFire(t *testing.T) {
	reg, _ := newTestRegistry(t, []jobs.Spec{
		{Name: "daily-insight", Schedule: "* * * * *", Operation: jobs.OpGenerateInsights},
	})
	s := New(reg, nil, nil, testLogger(), Intervals{})

	s.primeSchedules(time.Now().Add(-2 * time.Minute))
	s.fireDueJobs(context.Background())
	s.wg.Wait()

	s.mu.Lock()
	next := s.nextFire["daily-insight"]
	s.mu.Unlock()

	if !next.After(time.Now().Add(-time.Second)) {
		t.Errorf("nextFire = %v, want a future boundary", next)
	}
}
