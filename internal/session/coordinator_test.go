package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
)

type sentMsg struct {
	ConnID string
	Event  string
	Data   []byte
}

// fakeSender records deliveries in order. Safe for concurrent use.
type fakeSender struct {
	mu     sync.Mutex
	msgs   []sentMsg
	closed []string
}

func (f *fakeSender) Send(connID, event string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{ConnID: connID, Event: event, Data: data})
}

func (f *fakeSender) Close(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, connID)
}

func (f *fakeSender) events(connID, event string) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.msgs {
		if m.ConnID == connID && m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) countEvent(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if m.Event == event {
			n++
		}
	}
	return n
}

// fakeBridge records persistence calls.
type fakeBridge struct {
	mu        sync.Mutex
	created   []models.Poll
	responses []models.PollResponse
	completed []uuid.UUID
	upserts   []string // "name/role/online"
}

func (f *fakeBridge) CreatePoll(p models.Poll) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
}

func (f *fakeBridge) AppendResponse(pollID uuid.UUID, r models.PollResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, r)
}

func (f *fakeBridge) CompletePoll(pollID uuid.UUID, endTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, pollID)
}

func (f *fakeBridge) UpsertUser(name string, role models.Role, online bool, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := name + "/" + string(role)
	if online {
		key += "/online"
	} else {
		key += "/offline"
	}
	f.upserts = append(f.upserts, key)
}

// fakeDirectory is an in-memory durable name directory.
type fakeDirectory struct {
	names map[string]bool
	err   error
}

func (f *fakeDirectory) StudentNameExists(ctx context.Context, name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.names[name], nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSender, *fakeBridge, *fakeDirectory) {
	t.Helper()
	sender := &fakeSender{}
	bridge := &fakeBridge{}
	dir := &fakeDirectory{names: map[string]bool{}}
	reg := NewRegistry()
	logger := zap.NewNop()
	bcast := NewBroadcaster(sender, reg, logger)
	coord := NewCoordinator(reg, bcast, bridge, dir, logger)
	return coord, sender, bridge, dir
}

func pollRequest() CreatePollRequest {
	return CreatePollRequest{
		Question: "2+2?",
		Options: []models.PollOption{
			{Text: "3"},
			{Text: "4", IsCorrect: true},
		},
		TimeLimit: 30,
	}
}

func TestStudentJoinRegisters(t *testing.T) {
	coord, sender, bridge, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))

	require.Len(t, sender.events("s1", EventStudentRegistered), 1)
	require.Len(t, sender.events("t1", EventStudentJoined), 1)
	require.Contains(t, bridge.upserts, "Alice/student/online")
}

func TestStudentJoinRejectsLiveDuplicate(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	err := coord.StudentJoin(ctx, "s2", "Alice")
	require.ErrorIs(t, err, ErrNameTaken)
	require.Len(t, sender.events("s2", EventNameTaken), 1)
	require.Empty(t, sender.events("s2", EventStudentRegistered))
}

func TestStudentJoinRejectsDurableReservation(t *testing.T) {
	coord, sender, _, dir := newTestCoordinator(t)
	dir.names["Ghost"] = true

	err := coord.StudentJoin(context.Background(), "s1", "Ghost")
	require.ErrorIs(t, err, ErrNameTaken)
	require.Len(t, sender.events("s1", EventNameTaken), 1)
}

func TestStudentJoinSucceedsWhenDirectoryUnavailable(t *testing.T) {
	coord, _, _, dir := newTestCoordinator(t)
	dir.err = context.DeadlineExceeded

	require.NoError(t, coord.StudentJoin(context.Background(), "s1", "Alice"))
}

func TestStudentJoinReceivesActivePoll(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	require.NoError(t, coord.StudentJoin(ctx, "s2", "Bob"))
	require.Len(t, sender.events("s2", EventNewPoll), 1)
}

func TestTeacherReplacement(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	coord.TeacherJoin(ctx, "t2")

	// Old connection lost authority; only the new one can create polls.
	require.ErrorIs(t, coord.CreatePoll(ctx, "t1", pollRequest()), ErrNotTeacher)
	require.NoError(t, coord.CreatePoll(ctx, "t2", pollRequest()))
}

func TestCreatePollRequiresTeacher(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.ErrorIs(t, coord.CreatePoll(ctx, "s1", pollRequest()), ErrNotTeacher)
}

func TestCreatePollValidation(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	err := coord.CreatePoll(ctx, "t1", CreatePollRequest{Question: "no options"})
	require.ErrorIs(t, err, ErrInvalidPoll)
	require.Len(t, sender.events("t1", EventPollCreationFailed), 1)
}

func TestCreatePollBlockedWhilePending(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	err := coord.CreatePoll(ctx, "t1", pollRequest())
	require.ErrorIs(t, err, ErrCreationBlocked)
	require.Len(t, sender.events("t1", EventPollCreationFailed), 1)

	// Once every online student answered, creation is allowed again.
	require.NoError(t, coord.SubmitAnswer(ctx, "s1", "4"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))
}

func TestCreatePollDefaultsTimeLimit(t *testing.T) {
	coord, _, bridge, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	req := pollRequest()
	req.TimeLimit = 0
	require.NoError(t, coord.CreatePoll(ctx, "t1", req))

	require.Len(t, bridge.created, 1)
	require.Equal(t, models.DefaultTimeLimit, bridge.created[0].TimeLimit)
}

func TestTotalStudentsSnapshotAtCreation(t *testing.T) {
	coord, _, bridge, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.StudentJoin(ctx, "s2", "Bob"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	// A mid-poll joiner does not change the creation-time denominator.
	require.NoError(t, coord.StudentJoin(ctx, "s3", "Cara"))
	require.Equal(t, 2, bridge.created[0].TotalStudents)

	// But the live predicate covers everyone currently online: the two
	// original students answering is not enough.
	require.NoError(t, coord.SubmitAnswer(ctx, "s1", "4"))
	require.NoError(t, coord.SubmitAnswer(ctx, "s2", "3"))
	require.Equal(t, 0, bridge.completedCount())

	require.NoError(t, coord.SubmitAnswer(ctx, "s3", "4"))
	require.Equal(t, 1, bridge.completedCount())
}

func TestSubmitAnswerRejectsDuplicate(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.StudentJoin(ctx, "s2", "Bob"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	require.NoError(t, coord.SubmitAnswer(ctx, "s1", "4"))
	require.ErrorIs(t, coord.SubmitAnswer(ctx, "s1", "3"), ErrAlreadyAnswered)
	require.Len(t, sender.events("s1", EventAlreadyAnswered), 1)

	p := coord.ActivePoll()
	require.Len(t, p.Responses, 1)
	require.Equal(t, "4", p.Responses[0].Answer)
}

func TestSubmitAnswerRequiresRegisteredStudent(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	before := len(sender.msgs)
	require.ErrorIs(t, coord.SubmitAnswer(ctx, "stranger", "4"), ErrNotStudent)
	require.ErrorIs(t, coord.SubmitAnswer(ctx, "t1", "4"), ErrNotStudent)
	require.Len(t, sender.msgs, before)
}

func TestSubmitAnswerWithoutActivePoll(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.ErrorIs(t, coord.SubmitAnswer(ctx, "s1", "4"), ErrNoActivePoll)
}

func TestCompletionFiresExactlyOnce(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	for _, s := range []struct{ conn, name string }{
		{"s1", "A"}, {"s2", "B"}, {"s3", "C"},
	} {
		require.NoError(t, coord.StudentJoin(ctx, s.conn, s.name))
	}
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	require.NoError(t, coord.SubmitAnswer(ctx, "s1", "4"))
	require.NoError(t, coord.SubmitAnswer(ctx, "s2", "4"))
	require.Equal(t, 0, sender.countEvent(EventPollCompleted))

	require.NoError(t, coord.SubmitAnswer(ctx, "s3", "3"))
	// poll-completed goes to each of the four connections once; the
	// completion itself fires once.
	require.Equal(t, 4, sender.countEvent(EventPollCompleted))
	require.Len(t, sender.events("t1", EventCanCreateNewPoll), 1)

	// Nothing after completion re-fires it.
	coord.Disconnect(ctx, "s1")
	require.Equal(t, 4, sender.countEvent(EventPollCompleted))
}

func TestFullClassroomScenario(t *testing.T) {
	coord, sender, bridge, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "sA", "A"))
	require.NoError(t, coord.StudentJoin(ctx, "sB", "B"))

	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))
	require.Len(t, sender.events("sA", EventNewPoll), 1)
	require.Len(t, sender.events("sB", EventNewPoll), 1)

	require.NoError(t, coord.SubmitAnswer(ctx, "sA", "4"))
	results := sender.events("sA", EventPollResults)
	require.Len(t, results, 1)
	var responses []models.PollResponse
	require.NoError(t, json.Unmarshal(results[0].Data, &responses))
	require.Len(t, responses, 1)

	require.NoError(t, coord.SubmitAnswer(ctx, "sB", "3"))
	results = sender.events("sA", EventPollResults)
	require.Len(t, results, 2)
	require.NoError(t, json.Unmarshal(results[1].Data, &responses))
	require.Len(t, responses, 2)

	require.Equal(t, 1, bridge.completedCount())
	require.NotEmpty(t, sender.events("sB", EventPollCompleted))
	require.Len(t, sender.events("t1", EventCanCreateNewPoll), 1)
}

func TestKickNotifiesThenRemoves(t *testing.T) {
	coord, sender, bridge, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))

	require.NoError(t, coord.KickStudent(ctx, "t1", "s1"))
	require.Len(t, sender.events("s1", EventKickedOut), 1)
	require.Contains(t, sender.closed, "s1")
	require.Contains(t, bridge.upserts, "Alice/student/offline")

	// Kick of an unknown target is a silent no-op.
	before := len(sender.msgs)
	require.NoError(t, coord.KickStudent(ctx, "t1", "nobody"))
	require.Len(t, sender.msgs, before)
}

func TestKickRequiresTeacher(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.StudentJoin(ctx, "s2", "Bob"))
	require.ErrorIs(t, coord.KickStudent(ctx, "s1", "s2"), ErrNotTeacher)
}

func TestKickingLastUnansweredStudentCompletesPoll(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.StudentJoin(ctx, "s2", "Bob"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	require.NoError(t, coord.SubmitAnswer(ctx, "s1", "4"))
	require.Equal(t, 0, sender.countEvent(EventPollCompleted))

	require.NoError(t, coord.KickStudent(ctx, "t1", "s2"))
	require.NotZero(t, sender.countEvent(EventPollCompleted))
	require.Len(t, sender.events("t1", EventCanCreateNewPoll), 1)
}

func TestDisconnectOfUnansweredStudentCompletesPoll(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "A"))
	require.NoError(t, coord.StudentJoin(ctx, "s2", "B"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	// A leaves before answering; B alone remains and answers.
	coord.Disconnect(ctx, "s1")
	require.Equal(t, 0, sender.countEvent(EventPollCompleted))

	require.NoError(t, coord.SubmitAnswer(ctx, "s2", "4"))
	require.NotZero(t, sender.countEvent(EventPollCompleted))
}

func TestTeacherDisconnectClearsAuthority(t *testing.T) {
	coord, _, bridge, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	coord.Disconnect(ctx, "t1")
	require.Contains(t, bridge.upserts, "Teacher/teacher/offline")

	require.ErrorIs(t, coord.CreatePoll(ctx, "t1", pollRequest()), ErrNotTeacher)
}

func TestSendMessageRelaysWithIdentity(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))

	require.NoError(t, coord.SendMessage(ctx, "s1", "hello"))
	msgs := sender.events("t1", EventChatMessage)
	require.Len(t, msgs, 1)
	var chat ChatMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &chat))
	require.Equal(t, "Alice", chat.Sender)
	require.False(t, chat.IsTeacher)

	require.NoError(t, coord.SendMessage(ctx, "t1", "settle down"))
	msgs = sender.events("s1", EventChatMessage)
	require.Len(t, msgs, 2)
	require.NoError(t, json.Unmarshal(msgs[1].Data, &chat))
	require.Equal(t, models.TeacherName, chat.Sender)
	require.True(t, chat.IsTeacher)

	require.ErrorIs(t, coord.SendMessage(ctx, "stranger", "hi"), ErrNotStudent)
}

func TestParticipantsListInJoinOrder(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StudentJoin(ctx, "s1", "A"))
	require.NoError(t, coord.StudentJoin(ctx, "s2", "B"))
	require.NoError(t, coord.StudentJoin(ctx, "s3", "C"))
	coord.Disconnect(ctx, "s2")

	coord.Participants(ctx, "s1")
	lists := sender.events("s1", EventParticipantsList)
	require.Len(t, lists, 1)
	var got []Participant
	require.NoError(t, json.Unmarshal(lists[0].Data, &got))
	require.Len(t, got, 2)
	require.Equal(t, "A", got[0].Name)
	require.Equal(t, "C", got[1].Name)
}

func TestRejoinStudentRefreshesTeacherList(t *testing.T) {
	coord, sender, bridge, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	coord.RejoinStudent(ctx, "s9", "Alice")

	require.Contains(t, bridge.upserts, "Alice/student/online")
	require.Len(t, sender.events("t1", EventParticipantsList), 1)
}

func TestTeacherJoinSnapshot(t *testing.T) {
	coord, sender, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	coord.TeacherJoin(ctx, "t1")

	states := sender.events("t1", EventCurrentState)
	require.Len(t, states, 1)
	var state CurrentState
	require.NoError(t, json.Unmarshal(states[0].Data, &state))
	require.Nil(t, state.ActivePoll)
	require.True(t, state.CanCreateNewPoll)
	require.Len(t, state.ConnectedStudents, 1)

	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))
	coord.TeacherJoin(ctx, "t2")
	states = sender.events("t2", EventCurrentState)
	require.Len(t, states, 1)
	require.NoError(t, json.Unmarshal(states[0].Data, &state))
	require.NotNil(t, state.ActivePoll)
	require.False(t, state.CanCreateNewPoll)
}

func TestConcurrentAnswersNeverDuplicate(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.TeacherJoin(ctx, "t1")
	require.NoError(t, coord.StudentJoin(ctx, "s1", "Alice"))
	require.NoError(t, coord.StudentJoin(ctx, "s2", "Bob"))
	require.NoError(t, coord.CreatePoll(ctx, "t1", pollRequest()))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = coord.SubmitAnswer(ctx, "s1", "4")
		}()
	}
	wg.Wait()

	p := coord.ActivePoll()
	require.Len(t, p.Responses, 1)
}

func TestConcurrentJoinsNeverShareName(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = coord.StudentJoin(ctx, uuid.New().String(), "Alice")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			require.ErrorIs(t, err, ErrNameTaken)
		}
	}
	require.Equal(t, 1, accepted)
}

func (f *fakeBridge) completedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed)
}
