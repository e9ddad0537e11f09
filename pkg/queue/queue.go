package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
)

const (
	// QueueMutations is the single Redis list all durable mutations go
	// through. One list keeps mutation order intact end to end.
	QueueMutations = "worker:mutations"
	// QueueDLQ holds jobs that failed after MaxRetries attempts.
	QueueDLQ = "worker:mutations:dlq"
	// MaxRetries is the number of times to retry a job before moving it
	// to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the mutation kind.
type JobType string

const (
	JobTypePollCreate   JobType = "poll_create"
	JobTypePollResponse JobType = "poll_response"
	JobTypePollComplete JobType = "poll_complete"
	JobTypeUserUpsert   JobType = "user_upsert"
)

// PollCreatePayload mirrors a newly created poll into the store.
type PollCreatePayload struct {
	Poll models.Poll `json:"poll"`
}

// PollResponsePayload appends one accepted response to a stored poll.
type PollResponsePayload struct {
	PollID   uuid.UUID           `json:"poll_id"`
	Response models.PollResponse `json:"response"`
}

// PollCompletePayload finalizes a stored poll.
type PollCompletePayload struct {
	PollID  uuid.UUID `json:"poll_id"`
	EndTime time.Time `json:"end_time"`
}

// UserUpsertPayload records a participant's identity and online status.
type UserUpsertPayload struct {
	Name         string      `json:"name"`
	Role         models.Role `json:"role"`
	IsOnline     bool        `json:"is_online"`
	ConnectionID string      `json:"connection_id,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues mutation jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed mutation queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueMutations, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued mutation job", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return nil
}

// EnqueuePollCreate enqueues a poll creation mirror job.
func (q *Queue) EnqueuePollCreate(ctx context.Context, payload PollCreatePayload) error {
	return q.enqueue(ctx, JobTypePollCreate, payload)
}

// EnqueuePollResponse enqueues a response append job.
func (q *Queue) EnqueuePollResponse(ctx context.Context, payload PollResponsePayload) error {
	return q.enqueue(ctx, JobTypePollResponse, payload)
}

// EnqueuePollComplete enqueues a poll completion job.
func (q *Queue) EnqueuePollComplete(ctx context.Context, payload PollCompletePayload) error {
	return q.enqueue(ctx, JobTypePollComplete, payload)
}

// EnqueueUserUpsert enqueues a user status upsert job.
func (q *Queue) EnqueueUserUpsert(ctx context.Context, payload UserUpsertPayload) error {
	return q.enqueue(ctx, JobTypeUserUpsert, payload)
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, 0, QueueMutations).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >=
// MaxRetries, pushes it to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueMutations, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
