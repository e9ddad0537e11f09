package session

import (
	"time"

	"github.com/classpulse/backend/internal/models"
)

// Outbound event names. One notice per state change; payloads below.
const (
	EventNameTaken          = "name-taken"
	EventStudentRegistered  = "student-registered"
	EventStudentJoined      = "student-joined"
	EventNewPoll            = "new-poll"
	EventPollCreationFailed = "poll-creation-failed"
	EventAlreadyAnswered    = "already-answered"
	EventPollResults        = "poll-results"
	EventPollCompleted      = "poll-completed"
	EventCanCreateNewPoll   = "can-create-new-poll"
	EventKickedOut          = "kicked-out"
	EventChatMessage        = "chat-message"
	EventParticipantsList   = "participants-list"
	EventCurrentState       = "current-state"
)

// Notice is a plain message payload for rejection and completion events.
type Notice struct {
	Message string `json:"message"`
}

// Participant is one online student, as shown in participants-list.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	IsOnline     bool   `json:"isOnline"`
}

// StudentJoined notifies the teacher that a student registered.
type StudentJoined struct {
	Name         string `json:"name"`
	ConnectionID string `json:"connectionId"`
}

// StudentRegistered confirms registration to the joining student.
type StudentRegistered struct {
	Name string `json:"name"`
}

// CurrentState is the snapshot sent to a joining teacher.
type CurrentState struct {
	ActivePoll        *models.Poll  `json:"activePoll"`
	ConnectedStudents []Participant `json:"connectedStudents"`
	CanCreateNewPoll  bool          `json:"canCreateNewPoll"`
}

// ChatMessage is a relayed chat message with sender identity.
type ChatMessage struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	IsTeacher bool      `json:"isTeacher"`
	SentAt    time.Time `json:"sentAt"`
}
