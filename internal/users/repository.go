// Package users persists participant projections keyed by (name, role).
// Records are written best-effort through the mutation worker; the only
// read the live session performs is the name reservation check at join.
package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpulse/backend/internal/models"
)

// Repository handles durable user records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or updates a user's status. An empty ConnectionID leaves
// the stored connection ID untouched, so offline flips keep the last one
// seen.
func (r *Repository) Upsert(ctx context.Context, u models.User) error {
	const query = `INSERT INTO users (name, role, connection_id, is_online, last_seen)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name, role) DO UPDATE SET
			is_online = EXCLUDED.is_online,
			last_seen = NOW(),
			connection_id = CASE WHEN EXCLUDED.connection_id <> '' THEN EXCLUDED.connection_id ELSE users.connection_id END`
	if _, err := r.pool.Exec(ctx, query, u.Name, u.Role, u.ConnectionID, u.IsOnline); err != nil {
		return fmt.Errorf("upsert user %q: %w", u.Name, err)
	}
	return nil
}

// StudentNameExists reports whether a student record with name exists,
// online or not. History reserves names across sessions.
func (r *Repository) StudentNameExists(ctx context.Context, name string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE name = $1 AND role = 'student')`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check student name: %w", err)
	}
	return exists, nil
}
