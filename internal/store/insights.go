package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Insight is a row in the insights table: one LLM-generated summary for one
// user produced by one job run.
type Insight struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	JobName    string    `db:"job_name" json:"job_name"`
	Summary    string    `db:"summary" json:"summary"`
	Model      string    `db:"model" json:"model"`
	TokensUsed int       `db:"tokens_used" json:"tokens_used"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// InsightsRepo reads and writes the insights table.
type InsightsRepo struct {
	db *DB
}

// NewInsightsRepo creates an InsightsRepo over db.
func NewInsightsRepo(db *DB) *InsightsRepo {
	return &InsightsRepo{db: db}
}

// Insert adds an insight, generating an ID when none is set.
func (r *InsightsRepo) Insert(ctx context.Context, ins *Insight) error {
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO insights (id, user_id, job_name, summary, model, tokens_used, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := r.db.ExecContext(ctx, query,
		ins.ID, ins.UserID, ins.JobName, ins.Summary, ins.Model, ins.TokensUsed, ins.CreatedAt); err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// ListByUser returns a user's newest insights, at most limit.
func (r *InsightsRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Insight, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
SELECT id, user_id, job_name, summary, model, tokens_used, created_at
FROM insights
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

	var insights []Insight
	if err := r.db.SelectContext(ctx, &insights, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return insights, nil
}
