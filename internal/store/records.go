package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HealthRecord is a row in the health_records table. Body holds the raw
// record text, whether it arrived as JSON or was extracted from a PDF.
type HealthRecord struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Source     string    `db:"source" json:"source"`
	Kind       string    `db:"kind" json:"kind"`
	Body       string    `db:"body" json:"body"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RecordsRepo reads and writes the health_records table.
type RecordsRepo struct {
	db *DB
}

// NewRecordsRepo creates a RecordsRepo over db.
func NewRecordsRepo(db *DB) *RecordsRepo {
	return &RecordsRepo{db: db}
}

// Insert adds a record, generating an ID when none is set.
func (r *RecordsRepo) Insert(ctx context.Context, rec *HealthRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = rec.CreatedAt
	}
	const query = `
INSERT INTO health_records (id, user_id, source, kind, body, recorded_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Source, rec.Kind, rec.Body, rec.RecordedAt, rec.CreatedAt); err != nil {
		return fmt.Errorf("insert health record: %w", err)
	}
	return nil
}

// ListByUserSince returns a user's records recorded at or after since,
// newest first.
func (r *RecordsRepo) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]HealthRecord, error) {
	const query = `
SELECT id, user_id, source, kind, body, recorded_at, created_at
FROM health_records
WHERE user_id = $1 AND recorded_at >= $2
ORDER BY recorded_at DESC`

	var records []HealthRecord
	if err := r.db.SelectContext(ctx, &records, query, userID, since); err != nil {
		return nil, fmt.Errorf("list health records: %w", err)
	}
	return records, nil
}
