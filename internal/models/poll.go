package models

import (
	"time"

	"github.com/google/uuid"
)

// PollOption is one answer choice. IsCorrect is authoring metadata for the
// teacher's review screen; submitted answers are not validated against it.
type PollOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// PollResponse is one student's answer to a poll. A poll never holds two
// responses with the same StudentName.
type PollResponse struct {
	StudentName string    `json:"studentName"`
	Answer      string    `json:"answer"`
	Timestamp   time.Time `json:"timestamp"`
}

// Poll is a single classroom poll. TotalStudents is the count of online
// students at creation time and is not recomputed as students join.
type Poll struct {
	ID            uuid.UUID      `json:"id"`
	Question      string         `json:"question"`
	Options       []PollOption   `json:"options"`
	TimeLimit     int            `json:"timeLimit"` // seconds, advisory
	StartTime     time.Time      `json:"startTime"`
	EndTime       *time.Time     `json:"endTime,omitempty"`
	Responses     []PollResponse `json:"responses"`
	IsActive      bool           `json:"isActive"`
	TotalStudents int            `json:"totalStudents"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// DefaultTimeLimit is applied when a poll request carries no time limit.
const DefaultTimeLimit = 60
