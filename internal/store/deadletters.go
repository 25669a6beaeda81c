package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/retry"
)

// Dead letter archive statuses.
const (
	DeadLetterPending   = "pending"
	DeadLetterRedriven  = "redriven"
	DeadLetterResolved  = "resolved"
	DeadLetterDiscarded = "discarded"
)

// DeadLetterRow is a row in the dead_letters table: an engine dead letter
// entry moved out of memory by the archive sweep.
type DeadLetterRow struct {
	ID           string          `db:"id" json:"id"`
	OperationKey string          `db:"operation_key" json:"operation_key"`
	Error        string          `db:"error" json:"error"`
	ErrorKind    string          `db:"error_kind" json:"error_kind"`
	RetryHistory json.RawMessage `db:"retry_history" json:"retry_history"`
	Status       string          `db:"status" json:"status"`
	Attempts     int             `db:"attempts" json:"attempts"`
	FirstSeenAt  time.Time       `db:"first_seen_at" json:"first_seen_at"`
	ArchivedAt   time.Time       `db:"archived_at" json:"archived_at"`
	ResolvedAt   *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}

// DeadLettersRepo reads and writes the dead_letters table.
type DeadLettersRepo struct {
	db *DB
}

// NewDeadLettersRepo creates a DeadLettersRepo over db.
func NewDeadLettersRepo(db *DB) *DeadLettersRepo {
	return &DeadLettersRepo{db: db}
}

// Archive persists an engine dead letter entry as pending. Entries already
// archived under the same ID are left untouched.
func (r *DeadLettersRepo) Archive(ctx context.Context, entry retry.DeadLetterEntry) error {
	history, err := json.Marshal(entry.RetryHistory)
	if err != nil {
		return fmt.Errorf("marshal retry history: %w", err)
	}
	const query = `
INSERT INTO dead_letters (id, operation_key, error, error_kind, retry_history, status, attempts, first_seen_at, archived_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.OperationKey, entry.Error, entry.ErrorKind,
		history, DeadLetterPending, len(entry.RetryHistory), entry.Timestamp); err != nil {
		return fmt.Errorf("archive dead letter: %w", err)
	}
	return nil
}

// Get returns one archived entry by ID.
func (r *DeadLettersRepo) Get(ctx context.Context, id string) (*DeadLetterRow, error) {
	const query = `
SELECT id, operation_key, error, error_kind, retry_history, status, attempts, first_seen_at, archived_at, resolved_at
FROM dead_letters
WHERE id = $1`

	var row DeadLetterRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError("dead letter", id)
		}
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return &row, nil
}

// List returns archived entries newest first, optionally filtered by
// status.
func (r *DeadLettersRepo) List(ctx context.Context, status string, limit, offset int) ([]DeadLetterRow, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows []DeadLetterRow
		err  error
	)
	if status == "" {
		const query = `
SELECT id, operation_key, error, error_kind, retry_history, status, attempts, first_seen_at, archived_at, resolved_at
FROM dead_letters
ORDER BY archived_at DESC
LIMIT $1 OFFSET $2`
		err = r.db.SelectContext(ctx, &rows, query, limit, offset)
	} else {
		const query = `
SELECT id, operation_key, error, error_kind, retry_history, status, attempts, first_seen_at, archived_at, resolved_at
FROM dead_letters
WHERE status = $1
ORDER BY archived_at DESC
LIMIT $2 OFFSET $3`
		err = r.db.SelectContext(ctx, &rows, query, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return rows, nil
}

// MarkStatus moves an entry to status, stamping resolved_at for terminal
// statuses.
func (r *DeadLettersRepo) MarkStatus(ctx context.Context, id, status string) error {
	const query = `
UPDATE dead_letters
SET status = $2,
    resolved_at = CASE WHEN $2 IN ('resolved', 'discarded') THEN now() ELSE resolved_at END
WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("mark dead letter %s: %w", status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFoundError("dead letter", id)
	}
	return nil
}

// Delete removes an archived entry.
func (r *DeadLettersRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFoundError("dead letter", id)
	}
	return nil
}

// Count returns the number of archived entries, optionally filtered by
// status.
func (r *DeadLettersRepo) Count(ctx context.Context, status string) (int, error) {
	var (
		count int
		err   error
	)
	if status == "" {
		err = r.db.GetContext(ctx, &count, `SELECT count(*) FROM dead_letters`)
	} else {
		err = r.db.GetContext(ctx, &count,
			`SELECT count(*) FROM dead_letters WHERE status = $1`, status)
	}
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return count, nil
}

// CountPending returns how many archived entries still await redrive.
func (r *DeadLettersRepo) CountPending(ctx context.Context) (int, error) {
	return r.Count(ctx, DeadLetterPending)
}
