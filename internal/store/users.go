package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

// User is a row in the users table.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UsersRepo reads and writes the users table.
type UsersRepo struct {
	db *DB
}

// NewUsersRepo creates a UsersRepo over db.
func NewUsersRepo(db *DB) *UsersRepo {
	return &UsersRepo{db: db}
}

// Get returns one user by ID.
func (r *UsersRepo) Get(ctx context.Context, id string) (*User, error) {
	const query = `
SELECT id, email, full_name, active, created_at
FROM users
WHERE id = $1`

	var u User
	if err := r.db.GetContext(ctx, &u, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError("user", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListActive returns every active user ordered by creation time.
func (r *UsersRepo) ListActive(ctx context.Context) ([]User, error) {
	const query = `
SELECT id, email, full_name, active, created_at
FROM users
WHERE active
ORDER BY created_at`

	var users []User
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return users, nil
}

// ActiveIDs returns the IDs of every active user, the population batch jobs
// run over.
func (r *UsersRepo) ActiveIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM users WHERE active ORDER BY created_at`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list active user ids: %w", err)
	}
	return ids, nil
}

// Insert adds a user, generating an ID when none is set.
func (r *UsersRepo) Insert(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO users (id, email, full_name, active, created_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, u.ID, u.Email, u.FullName, u.Active, u.CreatedAt); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
