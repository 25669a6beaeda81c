package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
	"github.com/healthpulse/pulse-jobs/internal/redisq"
	"github.com/healthpulse/pulse-jobs/internal/retry"
	"github.com/healthpulse/pulse-jobs/internal/store"
)

// defaultMaxRedrives bounds how often one archived entry is replayed before
// it is discarded.
const defaultMaxRedrives = 3

// RedriveQueue is the Redis queue of archived entries awaiting replay.
type RedriveQueue interface {
	Push(ctx context.Context, cand *redisq.Candidate) error
	Next(ctx context.Context) (*redisq.Candidate, error)
	IncrRedrive(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}

// ArchiveStore is the durable home of dead letters.
type ArchiveStore interface {
	Archive(ctx context.Context, entry retry.DeadLetterEntry) error
	Get(ctx context.Context, id string) (*store.DeadLetterRow, error)
	MarkStatus(ctx context.Context, id, status string) error
}

// Redriver archives in-memory dead letters to Postgres and replays them
// from the Redis queue. A nil queue disables replay but not archiving.
type Redriver struct {
	registry    *Registry
	archive     ArchiveStore
	queue       RedriveQueue
	maxRedrives int
	logger      *slog.Logger
}

func NewRedriver(registry *Registry, archive ArchiveStore, queue RedriveQueue) *Redriver {
	return &Redriver{
		registry:    registry,
		archive:     archive,
		queue:       queue,
		maxRedrives: defaultMaxRedrives,
		logger:      slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (rd *Redriver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		rd.logger = logger
	}
}

// SetMaxRedrives overrides the replay limit.
func (rd *Redriver) SetMaxRedrives(n int) {
	if n > 0 {
		rd.maxRedrives = n
	}
}

// ArchiveSweep moves every in-memory dead letter into Postgres, queues it
// for redrive, and evicts it from the engines. Entries that fail to archive
// stay in memory for the next sweep.
func (rd *Redriver) ArchiveSweep(ctx context.Context) (int, error) {
	entries := rd.registry.DeadLetters()
	if len(entries) == 0 {
		return 0, nil
	}

	archived := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := rd.archive.Archive(ctx, entry); err != nil {
			rd.logger.Error("archive dead letter failed",
				"entry_id", entry.ID, "operation_key", entry.OperationKey, "error", err)
			continue
		}
		job, user, ok := splitKey(entry.OperationKey)
		if ok && rd.queue != nil {
			cand := &redisq.Candidate{
				ID:           entry.ID,
				OperationKey: entry.OperationKey,
				JobName:      job,
				UserID:       user,
				ArchivedAt:   time.Now().UTC(),
				LastAttempt:  entry.Timestamp,
			}
			if err := rd.queue.Push(ctx, cand); err != nil {
				// The row is durable either way; a missed queue entry only
				// delays the replay.
				rd.logger.Warn("push redrive candidate failed",
					"entry_id", entry.ID, "error", err)
			}
		}
		archived = append(archived, entry.ID)
	}

	if len(archived) > 0 {
		rd.registry.ClearDeadLetters(archived...)
		rd.logger.Info("archived dead letters", "count", len(archived))
	}
	return len(archived), nil
}

// Drain replays the head of the redrive queue. It reports whether a
// candidate was processed, so callers can loop until the queue is empty.
func (rd *Redriver) Drain(ctx context.Context) (bool, error) {
	if rd.queue == nil {
		return false, nil
	}
	cand, err := rd.queue.Next(ctx)
	if err != nil {
		return false, fmt.Errorf("next redrive candidate: %w", err)
	}
	if cand == nil {
		return false, nil
	}

	if cand.Redrives >= rd.maxRedrives {
		rd.discard(ctx, cand, "redrive limit reached")
		return true, nil
	}

	res, err := rd.registry.ExecuteOne(ctx, cand.JobName, cand.UserID)
	if err != nil {
		rd.discard(ctx, cand, "job no longer configured")
		return true, nil
	}

	if res.Success() {
		if err := rd.queue.Resolve(ctx, cand.ID); err != nil {
			rd.logger.Warn("resolve redrive candidate failed", "entry_id", cand.ID, "error", err)
		}
		if err := rd.archive.MarkStatus(ctx, cand.ID, store.DeadLetterResolved); err != nil {
			rd.logger.Warn("mark dead letter resolved failed", "entry_id", cand.ID, "error", err)
		}
		metrics.RedriveTotal.WithLabelValues("resolved").Inc()
		rd.logger.Info("redrive resolved",
			"entry_id", cand.ID, "operation_key", cand.OperationKey, "redrives", cand.Redrives)
		return true, nil
	}

	// The failed replay just appended a fresh in-memory entry for the same
	// operation; drop it so the sweep does not archive the failure twice.
	var stale []string
	for _, entry := range rd.registry.DeadLetters() {
		if entry.OperationKey == cand.OperationKey {
			stale = append(stale, entry.ID)
		}
	}
	if len(stale) > 0 {
		rd.registry.ClearDeadLetters(stale...)
	}

	if err := rd.queue.IncrRedrive(ctx, cand.ID); err != nil {
		rd.logger.Warn("increment redrive count failed", "entry_id", cand.ID, "error", err)
	}
	if err := rd.archive.MarkStatus(ctx, cand.ID, store.DeadLetterRedriven); err != nil {
		rd.logger.Warn("mark dead letter redriven failed", "entry_id", cand.ID, "error", err)
	}
	metrics.RedriveTotal.WithLabelValues("failed").Inc()
	rd.logger.Warn("redrive failed",
		"entry_id", cand.ID, "operation_key", cand.OperationKey,
		"status", res.Status, "redrives", cand.Redrives+1)
	return true, nil
}

// Enqueue queues one archived dead letter for replay, for the manual
// redrive endpoint.
func (rd *Redriver) Enqueue(ctx context.Context, id string) error {
	if rd.queue == nil {
		return core.NewInternalError("redrive queue not configured")
	}
	row, err := rd.archive.Get(ctx, id)
	if err != nil {
		return err
	}
	job, user, ok := splitKey(row.OperationKey)
	if !ok {
		return core.NewValidationError(
			fmt.Sprintf("dead letter %q has malformed operation key %q", id, row.OperationKey), nil)
	}
	cand := &redisq.Candidate{
		ID:           row.ID,
		OperationKey: row.OperationKey,
		JobName:      job,
		UserID:       user,
		ArchivedAt:   time.Now().UTC(),
	}
	if err := rd.queue.Push(ctx, cand); err != nil {
		return fmt.Errorf("push redrive candidate: %w", err)
	}
	rd.logger.Info("dead letter queued for redrive",
		"entry_id", id, "operation_key", row.OperationKey)
	return nil
}

// QueueLen reports the redrive queue depth, zero when no queue is
// configured.
func (rd *Redriver) QueueLen(ctx context.Context) (int, error) {
	if rd.queue == nil {
		return 0, nil
	}
	return rd.queue.Len(ctx)
}

func (rd *Redriver) discard(ctx context.Context, cand *redisq.Candidate, reason string) {
	if err := rd.queue.Resolve(ctx, cand.ID); err != nil {
		rd.logger.Warn("resolve redrive candidate failed", "entry_id", cand.ID, "error", err)
	}
	if err := rd.archive.MarkStatus(ctx, cand.ID, store.DeadLetterDiscarded); err != nil {
		rd.logger.Warn("mark dead letter discarded failed", "entry_id", cand.ID, "error", err)
	}
	metrics.RedriveTotal.WithLabelValues("discarded").Inc()
	rd.logger.Warn("redrive candidate discarded",
		"entry_id", cand.ID, "operation_key", cand.OperationKey,
		"redrives", cand.Redrives, "reason", reason)
}

// splitKey parses an operation key back into job and user. Job names cannot
// contain underscores, so the first one bounds the name.
func splitKey(key string) (job, user string, ok bool) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
