package domain

import "time"

// Option is a single tagged answer choice. Plain-string options arriving on
// the wire are normalized to Option{Text: s, IsCorrect: false} at the codec
// boundary so the engine only ever sees this shape.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// ChatMessage is one entry of a session's append-only message log.
type ChatMessage struct {
	ID   string `json:"id"`
	From string `json:"from"` // "teacher" or "student"
	Name string `json:"name"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"` // unix millis
}

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// QuestionRecord is the frozen snapshot of a finished question handed to the
// archive store. Maps are copies taken under the session lock; the record is
// immutable once built.
type QuestionRecord struct {
	PollCode          string            `json:"pollCode"`
	OwnerID           string            `json:"teacherId"`
	Question          string            `json:"question"`
	Options           []Option          `json:"options"`
	Answers           map[string]string `json:"answers"`      // display name -> option text
	Participants      map[string]string `json:"students"`     // connection id -> display name
	DurationSeconds   int               `json:"duration"`
	ExpectedResponses int               `json:"expectedResponses,omitempty"`
	StartedAt         time.Time         `json:"startTime"`
	EndedAt           time.Time         `json:"endTime"`
	TotalResponses    int               `json:"totalResponses"`
	CorrectAnswers    []string          `json:"correctAnswers"`
	Messages          []ChatMessage     `json:"messages"`
}

// OwnerStats aggregates an owner's archived questions.
type OwnerStats struct {
	TotalPolls     int     `json:"totalPolls"`
	TotalResponses int     `json:"totalResponses"`
	AvgResponses   float64 `json:"avgResponses"`
	TotalStudents  int     `json:"totalStudents"`
}
