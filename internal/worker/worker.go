// Package worker drains the mutation queue into PostgreSQL. The live
// session never waits on it; a worker outage only delays the durable
// mirror.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/polls"
	"github.com/classpulse/backend/internal/users"
	"github.com/classpulse/backend/pkg/queue"
)

// MutationProcessor applies queued session mutations to the durable store.
type MutationProcessor struct {
	pollRepo *polls.Repository
	userRepo *users.Repository
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewMutationProcessor creates a mutation processor.
func NewMutationProcessor(pollRepo *polls.Repository, userRepo *users.Repository, q *queue.Queue, logger *zap.Logger) *MutationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MutationProcessor{pollRepo: pollRepo, userRepo: userRepo, queue: q, logger: logger}
}

// Process executes one mutation job.
func (p *MutationProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypePollCreate:
		var payload queue.PollCreatePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.pollRepo.Create(ctx, payload.Poll)

	case queue.JobTypePollResponse:
		var payload queue.PollResponsePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.pollRepo.AppendResponse(ctx, payload.PollID, payload.Response)

	case queue.JobTypePollComplete:
		var payload queue.PollCompletePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.pollRepo.Complete(ctx, payload.PollID, payload.EndTime)

	case queue.JobTypeUserUpsert:
		var payload queue.UserUpsertPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.userRepo.Upsert(ctx, models.User{
			Name:         payload.Name,
			Role:         payload.Role,
			IsOnline:     payload.IsOnline,
			ConnectionID: payload.ConnectionID,
		})

	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *MutationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("mutation worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("mutation worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
