package models

import "time"

// Role distinguishes the teacher from students.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// TeacherName is the durable record name for the single teacher identity.
const TeacherName = "Teacher"

// User is the durable projection of a participant, keyed by (name, role).
// It backs long-term name reservation and the history API; live presence
// is owned by the session registry, never read back from here.
type User struct {
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	ConnectionID string    `json:"connectionId,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	CreatedAt    time.Time `json:"createdAt"`
}
