package poll

import (
	"context"
	"time"

	"livepoll/domain"
)

// Outbound event names. These are the protocol surface the clients key on.
const (
	EventPollCreated   = "poll_created"
	EventNewQuestion   = "new_question"
	EventRosterUpdated = "joined_poll_ack"
	EventJoinedPoll    = "joined_poll"
	EventResults       = "update_results"
	EventTimeUp        = "time_up"
	EventChatMessage   = "chat_message"
	EventPollState     = "poll_state"
	EventPollHistory   = "poll_history"
	EventPollDetails   = "poll_details"
	EventPollStats     = "poll_stats"
	EventError         = "error"
)

// Broadcaster delivers named events either to every connection joined to a
// session's room or to a single connection. Implementations must not block;
// the engine fires and forgets.
type Broadcaster interface {
	ToRoom(code, event string, payload any)
	ToConn(connID, event string, payload any)
}

// Archiver persists a frozen question snapshot. Failures are the caller's to
// log; they never reach the live session.
type Archiver interface {
	SavePollHistory(ctx context.Context, rec domain.QuestionRecord) error
}

// HistoryReader serves the archive retrieval events.
type HistoryReader interface {
	GetPollHistory(ctx context.Context, ownerID string, limit int) ([]domain.QuestionRecord, error)
	GetPollDetails(ctx context.Context, code string) (domain.QuestionRecord, error)
	GetPollStats(ctx context.Context, ownerID string) (domain.OwnerStats, error)
}

type PollCreatedPayload struct {
	PollCode    string `json:"pollCode"`
	ResumeToken string `json:"resumeToken,omitempty"`
}

type NewQuestionPayload struct {
	Question  string          `json:"question"`
	Options   []domain.Option `json:"options"`
	Duration  int             `json:"duration"`
	StartTime int64           `json:"startTime"`
}

type RosterPayload struct {
	Students map[string]string `json:"students"`
}

type ResultsPayload struct {
	Answers map[string]string `json:"answers"`
}

type ChatPayload struct {
	Message domain.ChatMessage `json:"message"`
}

// StateSnapshot is the full owner-view reconstruction returned by Subscribe.
type StateSnapshot struct {
	Question          string                  `json:"question"`
	Options           []domain.Option         `json:"options"`
	Answers           map[string]string       `json:"answers"`
	Students          map[string]string       `json:"students"`
	Duration          int                     `json:"duration"`
	StartTime         int64                   `json:"startTime"`
	ExpectedResponses int                     `json:"expectedResponses,omitempty"`
	IsActive          bool                    `json:"isActive"`
	Messages          []domain.ChatMessage    `json:"messages"`
	QuestionHistory   []domain.QuestionRecord `json:"questionHistory"`
}

// Info is the public REST view of a live session.
type Info struct {
	PollCode     string          `json:"pollCode"`
	Question     string          `json:"question"`
	Options      []domain.Option `json:"options"`
	StudentCount int             `json:"studentCount"`
	AnswerCount  int             `json:"answerCount"`
	IsActive     bool            `json:"isActive"`
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
