package store

import (
	"context"
	"fmt"
	"time"
)

// JobRun is a row in the job_runs table: the persisted aggregate of one
// batch run.
type JobRun struct {
	ID          string    `db:"id" json:"id"`
	JobName     string    `db:"job_name" json:"job_name"`
	Trigger     string    `db:"trigger" json:"trigger"`
	Total       int       `db:"total" json:"total"`
	Successful  int       `db:"successful" json:"successful"`
	Failed      int       `db:"failed" json:"failed"`
	Rejections  int       `db:"rejections" json:"rejections"`
	SuccessRate float64   `db:"success_rate" json:"success_rate"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	FinishedAt  time.Time `db:"finished_at" json:"finished_at"`
}

// RunsRepo reads and writes the job_runs table.
type RunsRepo struct {
	db *DB
}

// NewRunsRepo creates a RunsRepo over db.
func NewRunsRepo(db *DB) *RunsRepo {
	return &RunsRepo{db: db}
}

// Insert persists a finished run.
func (r *RunsRepo) Insert(ctx context.Context, run *JobRun) error {
	const query = `
INSERT INTO job_runs (id, job_name, trigger, total, successful, failed, rejections, success_rate, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := r.db.ExecContext(ctx, query,
		run.ID, run.JobName, run.Trigger, run.Total, run.Successful, run.Failed,
		run.Rejections, run.SuccessRate, run.StartedAt, run.FinishedAt); err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// List returns the newest runs, at most limit, optionally filtered by job
// name.
func (r *RunsRepo) List(ctx context.Context, jobName string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		runs []JobRun
		err  error
	)
	if jobName == "" {
		const query = `
SELECT id, job_name, trigger, total, successful, failed, rejections, success_rate, started_at, finished_at
FROM job_runs
ORDER BY started_at DESC
LIMIT $1`
		err = r.db.SelectContext(ctx, &runs, query, limit)
	} else {
		const query = `
SELECT id, job_name, trigger, total, successful, failed, rejections, success_rate, started_at, finished_at
FROM job_runs
WHERE job_name = $1
ORDER BY started_at DESC
LIMIT $2`
		err = r.db.SelectContext(ctx, &runs, query, jobName, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	return runs, nil
}
