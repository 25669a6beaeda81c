package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/healthpulse/pulse-jobs/internal/batch"
	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/llm"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
	"github.com/healthpulse/pulse-jobs/internal/retry"
	"github.com/healthpulse/pulse-jobs/internal/store"
)

// Run triggers, recorded in job_runs and the runs metric.
const (
	TriggerCron    = "cron"
	TriggerAPI     = "api"
	TriggerQueue   = "queue"
	TriggerRedrive = "redrive"
)

// recordLookback is the window of records an operation considers.
const recordLookback = 7 * 24 * time.Hour

// UserSource supplies the users a run iterates over.
type UserSource interface {
	Get(ctx context.Context, id string) (*store.User, error)
	ActiveIDs(ctx context.Context) ([]string, error)
}

// RecordSource lists the health records feeding an operation.
type RecordSource interface {
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]store.HealthRecord, error)
}

// InsightSink persists generated insights.
type InsightSink interface {
	Insert(ctx context.Context, ins *store.Insight) error
}

// RunSink persists finished run summaries.
type RunSink interface {
	Insert(ctx context.Context, run *store.JobRun) error
}

// Deps are the registry's collaborators. Users, Records, Insights and LLM
// are required; the rest are optional.
type Deps struct {
	Users    UserSource
	Records  RecordSource
	Insights InsightSink
	Runs     RunSink
	LLM      llm.Client
	Events   core.EventPublisher
	Logger   *slog.Logger
}

type job struct {
	spec      Spec
	manager   *retry.Manager
	processor *batch.Processor
	op        batch.ItemFunc
	running   atomic.Bool
	lastRun   atomic.Pointer[batch.Summary]
}

// Registry holds the configured jobs, one retry engine per job. The job set
// is fixed after construction.
type Registry struct {
	deps   Deps
	jobs   map[string]*job
	names  []string
	logger *slog.Logger
	tracer trace.Tracer
}

// JobStatus is the API view of one configured job.
type JobStatus struct {
	Name      string         `json:"name"`
	Operation string         `json:"operation"`
	Schedule  string         `json:"schedule,omitempty"`
	Disabled  bool           `json:"disabled,omitempty"`
	Running   bool           `json:"running"`
	LastRun   *batch.Summary `json:"last_run,omitempty"`
}

// New builds a registry from specs, falling back to DefaultSpecs when none
// are given.
func New(specs []Spec, deps Deps) (*Registry, error) {
	if deps.Users == nil || deps.Records == nil || deps.Insights == nil || deps.LLM == nil {
		return nil, fmt.Errorf("jobs registry requires users, records, insights and llm dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}

	r := &Registry{
		deps:   deps,
		jobs:   make(map[string]*job),
		logger: deps.Logger,
		tracer: otel.Tracer("pulse-jobs/jobs"),
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.jobs[spec.Name]; dup {
			return nil, core.NewValidationError(
				fmt.Sprintf("duplicate job name %q", spec.Name), map[string]any{"job": spec.Name})
		}

		op, err := r.operation(spec.Operation, spec.Name)
		if err != nil {
			return nil, err
		}

		retryPolicy := core.DefaultRetryPolicy()
		if spec.Retry != nil {
			retryPolicy = *spec.Retry
		}
		breakerPolicy := core.DefaultBreakerPolicy()
		if spec.Breaker != nil {
			breakerPolicy = *spec.Breaker
		}

		mgr := retry.NewManager(retryPolicy, breakerPolicy)
		mgr.SetLogger(deps.Logger.With("job", spec.Name))
		proc := batch.New(mgr, batch.Config{
			BatchSize:           spec.BatchSize,
			DelayBetweenBatches: spec.DelayBetweenBatches.Std(),
		})
		proc.SetLogger(deps.Logger.With("job", spec.Name))
		if deps.Events != nil {
			mgr.SetEventPublisher(deps.Events)
			proc.SetEventPublisher(deps.Events)
		}

		r.jobs[spec.Name] = &job{spec: spec, manager: mgr, processor: proc, op: op}
		r.names = append(r.names, spec.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) operation(operation, jobName string) (batch.ItemFunc, error) {
	switch operation {
	case OpGenerateInsights:
		return func(ctx context.Context, userID string) (any, error) {
			return r.generateInsight(ctx, jobName, userID)
		}, nil
	case OpRecordsDigest:
		return func(ctx context.Context, userID string) (any, error) {
			return r.recordsDigest(ctx, jobName, userID)
		}, nil
	}
	return nil, core.NewFieldValidationError("operation", "a registered operation", operation)
}

// Run executes one batch run of a named job. With no userIDs the run covers
// all active users. Overlapping runs of the same job are refused with a
// conflict.
func (r *Registry) Run(ctx context.Context, name string, userIDs []string, trigger string) (*batch.Summary, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, core.NewNotFoundError("job", name)
	}
	if j.spec.Disabled {
		return nil, core.NewValidationError(
			fmt.Sprintf("job %q is disabled", name), map[string]any{"job": name})
	}
	if !j.running.CompareAndSwap(false, true) {
		return nil, core.NewConflictError(
			fmt.Sprintf("job %q is already running", name), map[string]any{"job": name})
	}
	defer j.running.Store(false)

	ctx, span := r.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.name", name),
		attribute.String("job.trigger", trigger)))
	defer span.End()

	if len(userIDs) == 0 {
		var err error
		userIDs, err = r.deps.Users.ActiveIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active users: %w", err)
		}
	}

	metrics.RunsTotal.WithLabelValues(trigger).Inc()
	summary := j.processor.Process(ctx, name, userIDs, j.op)
	summary.Trigger = trigger
	j.lastRun.Store(&summary)

	span.SetAttributes(
		attribute.Int("job.total", summary.Total),
		attribute.Int("job.failed", summary.Failed),
		attribute.Float64("job.success_rate", summary.SuccessRate))

	if r.deps.Runs != nil {
		if err := r.deps.Runs.Insert(ctx, runRow(&summary)); err != nil {
			r.logger.Error("persist job run failed",
				"job", name, "run_id", summary.RunID, "error", err)
		}
	}
	return &summary, nil
}

// ExecuteOne replays a single user's operation through the job's engine
// under the same key a batch run would use.
func (r *Registry) ExecuteOne(ctx context.Context, name, userID string) (*retry.Result, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, core.NewNotFoundError("job", name)
	}
	key := fmt.Sprintf("%s_%s", name, userID)
	res := j.manager.Execute(ctx, key, func(ctx context.Context) (any, error) {
		return j.op(ctx, userID)
	})
	return res, nil
}

// Jobs returns the status of every configured job, sorted by name.
func (r *Registry) Jobs() []JobStatus {
	out := make([]JobStatus, 0, len(r.names))
	for _, name := range r.names {
		j := r.jobs[name]
		out = append(out, JobStatus{
			Name:      j.spec.Name,
			Operation: j.spec.Operation,
			Schedule:  j.spec.Schedule,
			Disabled:  j.spec.Disabled,
			Running:   j.running.Load(),
			LastRun:   j.lastRun.Load(),
		})
	}
	return out
}

// Names returns the configured job names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Metrics merges every job engine's snapshot. Operation keys are
// job-prefixed, so breaker maps never collide.
func (r *Registry) Metrics() retry.MetricsSnapshot {
	out := retry.MetricsSnapshot{
		Breakers:    make(map[string]retry.BreakerSnapshot),
		SuccessRate: 1.0,
	}
	for _, name := range r.names {
		m := r.jobs[name].manager.Metrics()
		out.Operations += m.Operations
		out.TotalAttempts += m.TotalAttempts
		out.TotalSuccesses += m.TotalSuccesses
		out.TotalFailures += m.TotalFailures
		out.DeadLetterSize += m.DeadLetterSize
		for k, v := range m.Breakers {
			out.Breakers[k] = v
		}
	}
	if completed := out.TotalSuccesses + out.TotalFailures; completed > 0 {
		out.SuccessRate = float64(out.TotalSuccesses) / float64(completed)
	}
	return out
}

// Breakers merges every job engine's breaker snapshots.
func (r *Registry) Breakers() map[string]retry.BreakerSnapshot {
	out := make(map[string]retry.BreakerSnapshot)
	for _, name := range r.names {
		for k, v := range r.jobs[name].manager.Breakers() {
			out[k] = v
		}
	}
	return out
}

// ResetBreaker force-closes the breaker with the given operation key.
func (r *Registry) ResetBreaker(key string) bool {
	for _, name := range r.names {
		if r.jobs[name].manager.ResetBreaker(key) {
			return true
		}
	}
	return false
}

// DeadLetters returns every engine's in-memory dead letters, oldest first.
func (r *Registry) DeadLetters() []retry.DeadLetterEntry {
	var entries []retry.DeadLetterEntry
	for _, name := range r.names {
		entries = append(entries, r.jobs[name].manager.DeadLetters()...)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

// ClearDeadLetters removes the listed entries (or all, when none are named)
// from every engine, returning the number removed.
func (r *Registry) ClearDeadLetters(ids ...string) int {
	removed := 0
	for _, name := range r.names {
		removed += r.jobs[name].manager.ClearDeadLetters(ids...)
	}
	return removed
}

// DeadLetterSize is the total in-memory dead letter count across engines.
func (r *Registry) DeadLetterSize() int {
	size := 0
	for _, name := range r.names {
		size += r.jobs[name].manager.DeadLetterSize()
	}
	return size
}

func (r *Registry) generateInsight(ctx context.Context, jobName, userID string) (any, error) {
	user, err := r.deps.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := r.deps.Records.ListByUserSince(ctx, userID, time.Now().Add(-recordLookback))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		// Nothing to summarize is a normal outcome, not a failure.
		return map[string]any{"status": "skipped", "reason": "no recent records"}, nil
	}

	req := llm.InsightRequest{
		UserID:   user.ID,
		FullName: user.FullName,
		JobName:  jobName,
		Records:  make([]llm.RecordInput, 0, len(records)),
	}
	for _, rec := range records {
		req.Records = append(req.Records, llm.RecordInput{
			Kind:       rec.Kind,
			Body:       rec.Body,
			RecordedAt: rec.RecordedAt,
		})
	}

	res, err := r.deps.LLM.GenerateInsight(ctx, req)
	if err != nil {
		return nil, err
	}

	ins := &store.Insight{
		UserID:     user.ID,
		JobName:    jobName,
		Summary:    res.Summary,
		Model:      res.Model,
		TokensUsed: res.TokensUsed,
	}
	if err := r.deps.Insights.Insert(ctx, ins); err != nil {
		return nil, err
	}
	return map[string]any{"insight_id": ins.ID, "tokens_used": res.TokensUsed}, nil
}

func (r *Registry) recordsDigest(ctx context.Context, jobName, userID string) (any, error) {
	user, err := r.deps.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := r.deps.Records.ListByUserSince(ctx, userID, time.Now().Add(-recordLookback))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return map[string]any{"status": "skipped", "reason": "no recent records"}, nil
	}

	counts := make(map[string]int)
	var kinds []string
	for _, rec := range records {
		if counts[rec.Kind] == 0 {
			kinds = append(kinds, rec.Kind)
		}
		counts[rec.Kind]++
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
	}
	days := int(recordLookback.Hours() / 24)
	summary := fmt.Sprintf("%d records in the last %d days: %s.",
		len(records), days, strings.Join(parts, ", "))

	ins := &store.Insight{
		UserID:  user.ID,
		JobName: jobName,
		Summary: summary,
		Model:   "digest",
	}
	if err := r.deps.Insights.Insert(ctx, ins); err != nil {
		return nil, err
	}
	return map[string]any{"insight_id": ins.ID, "records": len(records)}, nil
}

func runRow(s *batch.Summary) *store.JobRun {
	return &store.JobRun{
		ID:          s.RunID,
		JobName:     s.JobName,
		Trigger:     s.Trigger,
		Total:       s.Total,
		Successful:  s.Successful,
		Failed:      s.Failed,
		Rejections:  s.CircuitBreakerRejections,
		SuccessRate: s.SuccessRate,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
}
