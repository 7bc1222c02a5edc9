package poll

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"livepoll/domain"
)

// Question is the active question of a session. All access goes through the
// owning Session's lock.
type Question struct {
	text              string
	options           []domain.Option
	answers           map[string]string // display name -> option text
	startedAt         time.Time
	durationSeconds   int
	expectedResponses int
	isActive          bool
	archived          bool // already handed to the archive bridge (expiry path)
}

// Session is the authoritative in-memory state of one polling room. Only the
// Service mutates it; everything else consumes copies taken under mu.
type Session struct {
	mu           sync.Mutex
	code         string
	ownerID      string
	question     *Question
	participants map[string]string // connection id -> display name
	messages     []domain.ChatMessage
	history      []domain.QuestionRecord
}

func newSession(code, ownerID string) *Session {
	return &Session{
		code:         code,
		ownerID:      ownerID,
		participants: make(map[string]string),
	}
}

func (s *Session) Code() string { return s.code }

// snapshotRecord freezes the current question for the archive. Caller holds mu.
func (s *Session) snapshotRecord(endedAt time.Time) domain.QuestionRecord {
	q := s.question
	return domain.QuestionRecord{
		PollCode:          s.code,
		OwnerID:           s.ownerID,
		Question:          q.text,
		Options:           append([]domain.Option(nil), q.options...),
		Answers:           lo.Assign(map[string]string{}, q.answers),
		Participants:      lo.Assign(map[string]string{}, s.participants),
		DurationSeconds:   q.durationSeconds,
		ExpectedResponses: q.expectedResponses,
		StartedAt:         q.startedAt,
		EndedAt:           endedAt,
		TotalResponses:    len(q.answers),
		CorrectAnswers: lo.FilterMap(q.options, func(o domain.Option, _ int) (string, bool) {
			return o.Text, o.IsCorrect
		}),
		Messages: append([]domain.ChatMessage(nil), s.messages...),
	}
}

// completionGate reports whether enough answers arrived to let the owner move
// on while the current question is still active. Caller holds mu.
func (s *Session) completionGate() bool {
	q := s.question
	answered := len(q.answers)
	joined := len(s.participants)

	expected := q.expectedResponses
	if expected == 0 {
		expected = joined
	}

	allExpectedAnswered := expected > 0 && answered >= expected
	allJoinedAnswered := joined > 0 && answered >= joined
	return allExpectedAnswered || allJoinedAnswered
}

func (s *Session) rosterCopy() map[string]string {
	return lo.Assign(map[string]string{}, s.participants)
}

func (s *Session) answersCopy() map[string]string {
	return lo.Assign(map[string]string{}, s.question.answers)
}
