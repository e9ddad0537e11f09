// Package session holds the authoritative in-memory state of a live
// classroom poll: who is connected, which poll is open, and who has
// answered. All mutations run under one lock; the durable store is a
// lagging best-effort mirror fed through the persistence bridge.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
)

// Rejection errors. These are expected user-facing outcomes, reported to
// the originating connection as notices and never logged as faults.
var (
	ErrNameTaken       = errors.New("student name already taken")
	ErrCreationBlocked = errors.New("poll creation blocked: current poll still pending answers")
	ErrAlreadyAnswered = errors.New("student already answered this poll")
	ErrNotTeacher      = errors.New("caller does not hold teacher authority")
	ErrNotStudent      = errors.New("caller is not a registered student")
	ErrNoActivePoll    = errors.New("no active poll")
	ErrInvalidPoll     = errors.New("poll needs a question and at least one option")
)

// NameDirectory answers whether a student name exists in durable history.
// Durable history reserves names across sessions, so a disconnected
// student's name stays unavailable until explicitly released.
type NameDirectory interface {
	StudentNameExists(ctx context.Context, name string) (bool, error)
}

// CreatePollRequest is the teacher's create-poll payload.
type CreatePollRequest struct {
	Question  string              `json:"question"`
	Options   []models.PollOption `json:"options"`
	TimeLimit int                 `json:"timeLimit"`
}

// livePoll is the active poll plus live-only bookkeeping.
type livePoll struct {
	models.Poll
	answered map[string]struct{}
	notified bool // completion events fired
}

// Coordinator is the poll lifecycle engine. One mutex serializes every
// mutating operation across the registry and the active poll, closing the
// check-then-act windows (name uniqueness, one answer per student, one
// active poll) that span both structures.
type Coordinator struct {
	mu     sync.Mutex
	reg    *Registry
	bcast  *Broadcaster
	bridge PersistenceBridge
	names  NameDirectory
	logger *zap.Logger
	now    func() time.Time

	active *livePoll
}

// NewCoordinator wires the coordinator to its registry, broadcaster,
// persistence bridge and durable name directory.
func NewCoordinator(reg *Registry, bcast *Broadcaster, bridge PersistenceBridge, names NameDirectory, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		reg:    reg,
		bcast:  bcast,
		bridge: bridge,
		names:  names,
		logger: logger,
		now:    time.Now,
	}
}

// TeacherJoin installs connID as the teacher authority (replacing any
// previous holder) and sends it the current session snapshot.
func (c *Coordinator) TeacherJoin(ctx context.Context, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.reg.SetTeacher(connID); prev != "" {
		c.logger.Info("teacher authority replaced", zap.String("prev_conn", prev), zap.String("conn", connID))
	}
	c.bridge.UpsertUser(models.TeacherName, models.RoleTeacher, true, connID)
	c.bcast.ToConnection(connID, EventCurrentState, c.currentStateLocked())
}

// StudentJoin registers a student under name. The name must be unused by
// any connected student and absent from durable history. The durable read
// runs before the critical section; durable names only grow through this
// process's own bridge writes, so two racing joins with the same fresh
// name are still resolved by the live check under the lock.
func (c *Coordinator) StudentJoin(ctx context.Context, connID, name string) error {
	taken := name == ""
	if !taken {
		exists, err := c.names.StudentNameExists(ctx, name)
		if err != nil {
			// The live registry still enforces uniqueness among
			// connected students; history is unavailable, not wrong.
			c.logger.Warn("durable name check failed", zap.String("name", name), zap.Error(err))
		} else {
			taken = exists
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if taken || c.reg.HasStudentName(name) {
		c.bcast.ToConnection(connID, EventNameTaken, Notice{Message: "This name is already taken. Please choose a different name."})
		return ErrNameTaken
	}

	c.reg.AddStudent(connID, name, c.now())
	c.bridge.UpsertUser(name, models.RoleStudent, true, connID)

	c.bcast.ToConnection(connID, EventStudentRegistered, StudentRegistered{Name: name})
	c.bcast.ToTeacher(EventStudentJoined, StudentJoined{Name: name, ConnectionID: connID})
	if c.active != nil && c.active.IsActive {
		c.bcast.ToConnection(connID, EventNewPoll, c.pollSnapshotLocked())
	}
	c.logger.Info("student joined", zap.String("name", name), zap.String("conn", connID))
	return nil
}

// CreatePoll opens a new poll. Only the teacher may call it, and only
// when no poll is active or the previous one has been answered by every
// online student.
func (c *Coordinator) CreatePoll(ctx context.Context, connID string, req CreatePollRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.IsTeacher(connID) {
		return ErrNotTeacher
	}
	if c.active != nil && c.active.IsActive && !c.allAnsweredLocked() {
		c.bcast.ToConnection(connID, EventPollCreationFailed, Notice{Message: "Cannot create new poll while current poll is still active"})
		return ErrCreationBlocked
	}
	if req.Question == "" || len(req.Options) == 0 {
		c.bcast.ToConnection(connID, EventPollCreationFailed, Notice{Message: "A poll needs a question and at least one option"})
		return ErrInvalidPoll
	}

	timeLimit := req.TimeLimit
	if timeLimit <= 0 {
		timeLimit = models.DefaultTimeLimit
	}
	now := c.now()
	c.active = &livePoll{
		Poll: models.Poll{
			ID:            uuid.New(),
			Question:      req.Question,
			Options:       req.Options,
			TimeLimit:     timeLimit,
			StartTime:     now,
			Responses:     []models.PollResponse{},
			IsActive:      true,
			TotalStudents: len(c.reg.StudentConns()),
			CreatedAt:     now,
		},
		answered: make(map[string]struct{}),
	}

	c.bridge.CreatePoll(c.active.Poll)
	c.bcast.ToStudents(EventNewPoll, c.pollSnapshotLocked())
	c.logger.Info("poll created",
		zap.String("poll_id", c.active.ID.String()),
		zap.String("question", c.active.Question),
		zap.Int("total_students", c.active.TotalStudents),
	)
	return nil
}

// SubmitAnswer records a student's answer to the active poll. Each
// student answers at most once; a repeat submission gets the
// already-answered notice and nothing else changes.
func (c *Coordinator) SubmitAnswer(ctx context.Context, connID, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.reg.StudentByConn(connID)
	if s == nil {
		return ErrNotStudent
	}
	if c.active == nil || !c.active.IsActive {
		return ErrNoActivePoll
	}
	if _, dup := c.active.answered[s.name]; dup {
		c.bcast.ToConnection(connID, EventAlreadyAnswered, Notice{Message: "You have already answered this poll"})
		return ErrAlreadyAnswered
	}

	resp := models.PollResponse{StudentName: s.name, Answer: answer, Timestamp: c.now()}
	c.active.Responses = append(c.active.Responses, resp)
	c.active.answered[s.name] = struct{}{}

	c.bridge.AppendResponse(c.active.ID, resp)
	c.bcast.ToAll(EventPollResults, c.pollSnapshotLocked().Responses)

	c.evaluateCompletionLocked()
	return nil
}

// KickStudent removes a student by connection ID. The target is notified
// before the transport closes; an unknown target is a silent no-op. The
// departure is folded into the completion predicate immediately.
func (c *Coordinator) KickStudent(ctx context.Context, teacherConn, targetConn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.IsTeacher(teacherConn) {
		return ErrNotTeacher
	}
	s := c.reg.StudentByConn(targetConn)
	if s == nil {
		return nil
	}

	c.bcast.ToConnection(targetConn, EventKickedOut, Notice{Message: "You have been removed by the teacher"})
	c.reg.Remove(targetConn)
	c.bridge.UpsertUser(s.name, models.RoleStudent, false, "")
	c.bcast.CloseConnection(targetConn)
	c.logger.Info("student kicked", zap.String("name", s.name), zap.String("conn", targetConn))

	c.evaluateCompletionLocked()
	return nil
}

// SendMessage relays a chat message from any registered connection to all
// connections, tagged with the sender identity and teacher flag.
func (c *Coordinator) SendMessage(ctx context.Context, connID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sender string
	isTeacher := c.reg.IsTeacher(connID)
	if isTeacher {
		sender = models.TeacherName
	} else {
		s := c.reg.StudentByConn(connID)
		if s == nil {
			return ErrNotStudent
		}
		sender = s.name
	}

	c.bcast.ToAll(EventChatMessage, ChatMessage{Text: text, Sender: sender, IsTeacher: isTeacher, SentAt: c.now()})
	return nil
}

// Participants sends the caller the current online student list.
func (c *Coordinator) Participants(ctx context.Context, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bcast.ToConnection(connID, EventParticipantsList, c.reg.OnlineStudents())
}

// RejoinStudent flips a student's durable status back to online and sends
// the teacher a refreshed participant list. It does not re-register the
// student in the live set; rejoining live means a fresh student-join.
func (c *Coordinator) RejoinStudent(ctx context.Context, connID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bridge.UpsertUser(name, models.RoleStudent, true, connID)
	c.bcast.ToTeacher(EventParticipantsList, c.reg.OnlineStudents())
}

// Disconnect drops a connection from the registry. Completion state
// already reached is untouched, but the departure of an unanswered
// student can satisfy the predicate, so it is re-evaluated here.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasTeacher, s := c.reg.Remove(connID)
	if wasTeacher {
		c.bridge.UpsertUser(models.TeacherName, models.RoleTeacher, false, "")
		c.logger.Info("teacher disconnected", zap.String("conn", connID))
	}
	if s != nil {
		c.bridge.UpsertUser(s.name, models.RoleStudent, false, "")
		c.logger.Info("student disconnected", zap.String("name", s.name), zap.String("conn", connID))
	}

	c.evaluateCompletionLocked()
}

// ActivePoll returns a snapshot of the current poll, nil when idle.
// Read-only; safe for concurrent callers.
func (c *Coordinator) ActivePoll() *models.Poll {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollSnapshotLocked()
}

// allAnsweredLocked is the completion predicate: every currently online
// student's name appears in the active poll's responses. Vacuously true
// with no online students, matching the gate for creating the next poll.
func (c *Coordinator) allAnsweredLocked() bool {
	if c.active == nil {
		return true
	}
	for _, p := range c.reg.OnlineStudents() {
		if _, ok := c.active.answered[p.Name]; !ok {
			return false
		}
	}
	return true
}

// evaluateCompletionLocked finalizes the active poll the first time the
// predicate becomes true. Completion fires exactly once per poll:
// isActive never flips back, and the notices are guarded by notified.
func (c *Coordinator) evaluateCompletionLocked() {
	if c.active == nil || !c.active.IsActive || c.active.notified {
		return
	}
	if !c.allAnsweredLocked() {
		return
	}

	end := c.now()
	c.active.IsActive = false
	c.active.EndTime = &end
	c.active.notified = true

	c.bridge.CompletePoll(c.active.ID, end)
	c.bcast.ToAll(EventPollCompleted, Notice{Message: "All students have answered the poll"})
	c.bcast.ToTeacher(EventCanCreateNewPoll, Notice{Message: "You can now create a new poll"})
	c.logger.Info("poll completed",
		zap.String("poll_id", c.active.ID.String()),
		zap.Int("responses", len(c.active.Responses)),
	)
}

// pollSnapshotLocked copies the active poll so callers outside the lock
// never alias live slices.
func (c *Coordinator) pollSnapshotLocked() *models.Poll {
	if c.active == nil {
		return nil
	}
	p := c.active.Poll
	p.Options = append([]models.PollOption(nil), c.active.Options...)
	p.Responses = append([]models.PollResponse(nil), c.active.Responses...)
	return &p
}

// currentStateLocked builds the teacher's join snapshot.
func (c *Coordinator) currentStateLocked() CurrentState {
	return CurrentState{
		ActivePoll:        c.pollSnapshotLocked(),
		ConnectedStudents: c.reg.OnlineStudents(),
		CanCreateNewPoll:  c.active == nil || !c.active.IsActive || c.allAnsweredLocked(),
	}
}
