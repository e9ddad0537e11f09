package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/pkg/queue"
)

// PersistenceBridge mirrors live-state transitions into the durable store.
// Every call is fire-and-forget: the live state machine has already
// committed and broadcast by the time the mirror write is attempted, and
// a failed write is logged, never surfaced to a connection.
type PersistenceBridge interface {
	CreatePoll(p models.Poll)
	AppendResponse(pollID uuid.UUID, r models.PollResponse)
	CompletePoll(pollID uuid.UUID, endTime time.Time)
	UpsertUser(name string, role models.Role, online bool, connID string)
}

const enqueueTimeout = 5 * time.Second

// QueueBridge implements PersistenceBridge by enqueueing mutation jobs on
// the Redis-backed queue. The enqueue itself runs on its own goroutine so
// the coordinator's critical section never waits on Redis.
type QueueBridge struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewQueueBridge creates a queue-backed persistence bridge.
func NewQueueBridge(q *queue.Queue, logger *zap.Logger) *QueueBridge {
	return &QueueBridge{queue: q, logger: logger}
}

func (b *QueueBridge) dispatch(kind string, enqueue func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		if err := enqueue(ctx); err != nil {
			b.logger.Error("persistence enqueue failed", zap.String("mutation", kind), zap.Error(err))
		}
	}()
}

// CreatePoll mirrors a new poll.
func (b *QueueBridge) CreatePoll(p models.Poll) {
	b.dispatch("poll_create", func(ctx context.Context) error {
		return b.queue.EnqueuePollCreate(ctx, queue.PollCreatePayload{Poll: p})
	})
}

// AppendResponse mirrors an accepted answer.
func (b *QueueBridge) AppendResponse(pollID uuid.UUID, r models.PollResponse) {
	b.dispatch("poll_response", func(ctx context.Context) error {
		return b.queue.EnqueuePollResponse(ctx, queue.PollResponsePayload{PollID: pollID, Response: r})
	})
}

// CompletePoll mirrors a poll completion.
func (b *QueueBridge) CompletePoll(pollID uuid.UUID, endTime time.Time) {
	b.dispatch("poll_complete", func(ctx context.Context) error {
		return b.queue.EnqueuePollComplete(ctx, queue.PollCompletePayload{PollID: pollID, EndTime: endTime})
	})
}

// UpsertUser mirrors a participant's online status.
func (b *QueueBridge) UpsertUser(name string, role models.Role, online bool, connID string) {
	b.dispatch("user_upsert", func(ctx context.Context) error {
		return b.queue.EnqueueUserUpsert(ctx, queue.UserUpsertPayload{
			Name:         name,
			Role:         role,
			IsOnline:     online,
			ConnectionID: connID,
		})
	})
}
