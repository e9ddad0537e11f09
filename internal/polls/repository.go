package polls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpulse/backend/internal/models"
)

// Repository handles poll persistence. Options and responses are stored
// as JSONB so the row mirrors the live poll document one to one.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new poll row with the identity assigned at creation.
func (r *Repository) Create(ctx context.Context, p models.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	const query = `INSERT INTO polls (id, question, options, time_limit, start_time, responses, is_active, total_students, created_at)
		VALUES ($1, $2, $3, $4, $5, '[]', TRUE, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, p.ID, p.Question, options, p.TimeLimit, p.StartTime, p.TotalStudents, p.CreatedAt); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

// AppendResponse pushes one response onto the stored poll's responses
// array. Fails if the poll row does not exist yet, which lets the worker
// retry until the creation write lands.
func (r *Repository) AppendResponse(ctx context.Context, pollID uuid.UUID, resp models.PollResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	const query = `UPDATE polls SET responses = responses || $2::jsonb WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, pollID, body)
	if err != nil {
		return fmt.Errorf("append response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append response: poll %s not found", pollID)
	}
	return nil
}

// Complete marks the stored poll finished.
func (r *Repository) Complete(ctx context.Context, pollID uuid.UUID, endTime time.Time) error {
	const query = `UPDATE polls SET is_active = FALSE, end_time = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, pollID, endTime)
	if err != nil {
		return fmt.Errorf("complete poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete poll: poll %s not found", pollID)
	}
	return nil
}

// GetByID returns one poll, nil if absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const query = `SELECT id, question, options, time_limit, start_time, end_time, responses, is_active, total_students, created_at
		FROM polls WHERE id = $1`
	p, err := scanPoll(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get poll: %w", err)
	}
	return p, nil
}

// ListCompleted returns finished polls, newest first, up to limit.
func (r *Repository) ListCompleted(ctx context.Context, limit int) ([]models.Poll, error) {
	const query = `SELECT id, question, options, time_limit, start_time, end_time, responses, is_active, total_students, created_at
		FROM polls WHERE is_active = FALSE ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	out := []models.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoll(row rowScanner) (*models.Poll, error) {
	var (
		p         models.Poll
		options   []byte
		responses []byte
	)
	err := row.Scan(&p.ID, &p.Question, &options, &p.TimeLimit, &p.StartTime, &p.EndTime, &responses, &p.IsActive, &p.TotalStudents, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal(responses, &p.Responses); err != nil {
		return nil, fmt.Errorf("unmarshal responses: %w", err)
	}
	return &p, nil
}
