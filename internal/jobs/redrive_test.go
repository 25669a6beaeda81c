package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/llm"
	"github.com/healthpulse/pulse-jobs/internal/redisq"
	"github.com/healthpulse/pulse-jobs/internal/retry"
	"github.com/healthpulse/pulse-jobs/internal/store"
)

type fakeRedriveQueue struct {
	mu       sync.Mutex
	cands    []*redisq.Candidate
	resolved []string
}

func (f *fakeRedriveQueue) Push(ctx context.Context, cand *redisq.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cand
	f.cands = append(f.cands, &cp)
	return nil
}

func (f *fakeRedriveQueue) Next(ctx context.Context) (*redisq.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cands) == 0 {
		return nil, nil
	}
	cp := *f.cands[0]
	return &cp, nil
}

func (f *fakeRedriveQueue) IncrRedrive(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cands {
		if c.ID == id {
			c.Redrives++
			c.LastAttempt = time.Now().UTC()
			return nil
		}
	}
	return errors.New("candidate not found")
}

func (f *fakeRedriveQueue) Resolve(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.cands[:0]
	for _, c := range f.cands {
		if c.ID == id {
			f.resolved = append(f.resolved, id)
			continue
		}
		kept = append(kept, c)
	}
	f.cands = kept
	return nil
}

func (f *fakeRedriveQueue) Len(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cands), nil
}

func (f *fakeRedriveQueue) head() *redisq.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cands) == 0 {
		return nil
	}
	cp := *f.cands[0]
	return &cp
}

type fakeArchive struct {
	mu         sync.Mutex
	rows       map[string]*store.DeadLetterRow
	statuses   map[string]string
	archiveErr error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		rows:     make(map[string]*store.DeadLetterRow),
		statuses: make(map[string]string),
	}
}

func (f *fakeArchive) Archive(ctx context.Context, entry retry.DeadLetterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.rows[entry.ID] = &store.DeadLetterRow{
		ID:           entry.ID,
		OperationKey: entry.OperationKey,
		Error:        entry.Error,
		Status:       store.DeadLetterPending,
	}
	f.statuses[entry.ID] = store.DeadLetterPending
	return nil
}

func (f *fakeArchive) Get(ctx context.Context, id string) (*store.DeadLetterRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, core.NewNotFoundError("dead letter", id)
	}
	return row, nil
}

func (f *fakeArchive) MarkStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeArchive) statusOf(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

// failOnce seeds one in-memory dead letter by running the job against a
// permanently failing LLM, then restores the default success behavior.
func failOnce(t *testing.T, reg *Registry, env *testEnv) retry.DeadLetterEntry {
	t.Helper()
	env.llm.fn = func(req llm.InsightRequest) (*llm.InsightResult, error) {
		return nil, core.NewHTTPStatusError(400, "malformed prompt")
	}
	if _, err := reg.Run(context.Background(), "daily-insights", []string{"u1"}, TriggerAPI); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	env.llm.fn = nil

	entries := reg.DeadLetters()
	if len(entries) != 1 {
		t.Fatalf("DeadLetters() = %d entries, want 1", len(entries))
	}
	return entries[0]
}

func TestArchiveSweep_MovesEntries(t *testing.T) {
	reg, env := newTestRegistry(t)
	queue := &fakeRedriveQueue{}
	archive := newFakeArchive()
	rd := NewRedriver(reg, archive, queue)

	entry := failOnce(t, reg, env)

	n, err := rd.ArchiveSweep(context.Background())
	if err != nil {
		t.Fatalf("ArchiveSweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ArchiveSweep() = %d, want 1", n)
	}
	if reg.DeadLetterSize() != 0 {
		t.Errorf("DeadLetterSize() after sweep = %d, want 0", reg.DeadLetterSize())
	}
	if archive.statusOf(entry.ID) != store.DeadLetterPending {
		t.Errorf("archive status = %q, want pending", archive.statusOf(entry.ID))
	}

	cand := queue.head()
	if cand == nil {
		t.Fatal("redrive queue empty after sweep")
	}
	if cand.JobName != "daily-insights" || cand.UserID != "u1" || cand.Redrives != 0 {
		t.Errorf("candidate = %+v, want daily-insights/u1 with 0 redrives", cand)
	}
}

func TestArchiveSweep_KeepsEntriesOnArchiveError(t *testing.T) {
	reg, env := newTestRegistry(t)
	archive := newFakeArchive()
	archive.archiveErr = errors.New("database down")
	rd := NewRedriver(reg, archive, &fakeRedriveQueue{})

	failOnce(t, reg, env)

	n, err := rd.ArchiveSweep(context.Background())
	if err != nil {
		t.Fatalf("ArchiveSweep() error = %v", err)
	}
	if n != 0 {
		t.Errorf("ArchiveSweep() = %d, want 0", n)
	}
	if reg.DeadLetterSize() != 1 {
		t.Errorf("DeadLetterSize() = %d, want 1 (entry retained for next sweep)", reg.DeadLetterSize())
	}
}

func TestArchiveSweep_WorksWithoutQueue(t *testing.T) {
	reg, env := newTestRegistry(t)
	archive := newFakeArchive()
	rd := NewRedriver(reg, archive, nil)

	entry := failOnce(t, reg, env)

	n, err := rd.ArchiveSweep(context.Background())
	if err != nil {
		t.Fatalf("ArchiveSweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ArchiveSweep() = %d, want 1", n)
	}
	if archive.statusOf(entry.ID) != store.DeadLetterPending {
		t.Errorf("archive status = %q, want pending", archive.statusOf(entry.ID))
	}
}

func TestDrain_EmptyQueue(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rd := NewRedriver(reg, newFakeArchive(), &fakeRedriveQueue{})

	processed, err := rd.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if processed {
		t.Error("Drain() on empty queue = true, want false")
	}
}

func TestDrain_ResolvesRecoveredOperation(t *testing.T) {
	reg, env := newTestRegistry(t)
	queue := &fakeRedriveQueue{}
	archive := newFakeArchive()
	rd := NewRedriver(reg, archive, queue)

	failOnce(t, reg, env)
	if _, err := rd.ArchiveSweep(context.Background()); err != nil {
		t.Fatalf("ArchiveSweep() error = %v", err)
	}
	id := queue.head().ID

	// The LLM is healthy again, so the replay should succeed.
	processed, err := rd.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !processed {
		t.Fatal("Drain() = false, want true")
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Errorf("queue length after resolve = %d, want 0", n)
	}
	if archive.statusOf(id) != store.DeadLetterResolved {
		t.Errorf("archive status = %q, want resolved", archive.statusOf(id))
	}
}

func TestDrain_FailedReplayCountsAndSuppressesDoubleArchive(t *testing.T) {
	reg, env := newTestRegistry(t)
	queue := &fakeRedriveQueue{}
	archive := newFakeArchive()
	rd := NewRedriver(reg, archive, queue)

	failOnce(t, reg, env)
	if _, err := rd.ArchiveSweep(context.Background()); err != nil {
		t.Fatalf("ArchiveSweep() error = %v", err)
	}
	id := queue.head().ID

	// Still failing.
	env.llm.fn = func(req llm.InsightRequest) (*llm.InsightResult, error) {
		return nil, core.NewHTTPStatusError(400, "malformed prompt")
	}
	processed, err := rd.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !processed {
		t.Fatal("Drain() = false, want true")
	}

	cand := queue.head()
	if cand == nil || cand.Redrives != 1 {
		t.Errorf("candidate after failed replay = %+v, want 1 redrive", cand)
	}
	if archive.statusOf(id) != store.DeadLetterRedriven {
		t.Errorf("archive status = %q, want redriven", archive.statusOf(id))
	}
	if reg.DeadLetterSize() != 0 {
		t.Errorf("DeadLetterSize() = %d, want 0 (failed replay must not re-enter the sweep)",
			reg.DeadLetterSize())
	}
}

func TestDrain_DiscardsAtRedriveLimit(t *testing.T) {
	reg, env := newTestRegistry(t)
	queue := &fakeRedriveQueue{}
	archive := newFakeArchive()
	rd := NewRedriver(reg, archive, queue)

	queue.cands = append(queue.cands, &redisq.Candidate{
		ID:           "dl-1",
		OperationKey: "daily-insights_u1",
		JobName:      "daily-insights",
		UserID:       "u1",
		Redrives:     defaultMaxRedrives,
	})
	archive.rows["dl-1"] = &store.DeadLetterRow{ID: "dl-1", OperationKey: "daily-insights_u1"}

	processed, err := rd.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !processed {
		t.Fatal("Drain() = false, want true")
	}
	if env.llm.callCount() != 0 {
		t.Errorf("llm calls = %d, want 0 (discard must not replay)", env.llm.callCount())
	}
	if archive.statusOf("dl-1") != store.DeadLetterDiscarded {
		t.Errorf("archive status = %q, want discarded", archive.statusOf("dl-1"))
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestDrain_DiscardsUnknownJob(t *testing.T) {
	reg, _ := newTestRegistry(t)
	queue := &fakeRedriveQueue{}
	archive := newFakeArchive()
	rd := NewRedriver(reg, archive, queue)

	queue.cands = append(queue.cands, &redisq.Candidate{
		ID:           "dl-2",
		OperationKey: "ghost_u1",
		JobName:      "ghost",
		UserID:       "u1",
	})

	processed, err := rd.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !processed {
		t.Fatal("Drain() = false, want true")
	}
	if archive.statusOf("dl-2") != store.DeadLetterDiscarded {
		t.Errorf("archive status = %q, want discarded", archive.statusOf("dl-2"))
	}
}

func TestEnqueue_PushesArchivedRow(t *testing.T) {
	reg, _ := newTestRegistry(t)
	queue := &fakeRedriveQueue{}
	archive := newFakeArchive()
	rd := NewRedriver(reg, archive, queue)

	archive.rows["dl-9"] = &store.DeadLetterRow{ID: "dl-9", OperationKey: "daily-insights_u9"}

	if err := rd.Enqueue(context.Background(), "dl-9"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	cand := queue.head()
	if cand == nil || cand.JobName != "daily-insights" || cand.UserID != "u9" {
		t.Errorf("candidate = %+v, want daily-insights/u9", cand)
	}
}

func TestEnqueue_UnknownID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rd := NewRedriver(reg, newFakeArchive(), &fakeRedriveQueue{})

	err := rd.Enqueue(context.Background(), "missing")
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != core.ErrCodeNotFound {
		t.Errorf("Enqueue(missing) error = %v, want not_found", err)
	}
}

func TestEnqueue_WithoutQueue(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rd := NewRedriver(reg, newFakeArchive(), nil)

	err := rd.Enqueue(context.Background(), "dl-1")
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != core.ErrCodeInternalError {
		t.Errorf("Enqueue() without queue error = %v, want internal_error", err)
	}
}

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key      string
		wantJob  string
		wantUser string
		wantOK   bool
	}{
		{"daily-insights_u1", "daily-insights", "u1", true},
		{"daily-insights_user_42", "daily-insights", "user_42", true},
		{"nounderscores", "", "", false},
		{"_u1", "", "", false},
		{"job_", "", "", false},
	}
	for _, tt := range tests {
		job, user, ok := splitKey(tt.key)
		if job != tt.wantJob || user != tt.wantUser || ok != tt.wantOK {
			t.Errorf("splitKey(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.key, job, user, ok, tt.wantJob, tt.wantUser, tt.wantOK)
		}
	}
}
