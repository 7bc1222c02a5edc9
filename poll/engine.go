package poll

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"livepoll/domain"
)

// Clients get a little slack past the deadline to cover network and clock skew.
const expiryGrace = 5 * time.Second

const defaultDurationSeconds = 300

// QuestionSpec is a validated-on-entry request to start a new question.
type QuestionSpec struct {
	Question          string
	Options           []domain.Option
	Duration          int
	ExpectedResponses int
}

// Service is the session state engine. Every operation locks the target
// session, applies the transition, and releases the lock before any broadcast
// or archive write goes out.
type Service struct {
	store       *Store
	broadcaster Broadcaster
	archiver    Archiver
	clock       func() time.Time
}

func NewService(store *Store, broadcaster Broadcaster, archiver Archiver) *Service {
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		archiver:    archiver,
		clock:       time.Now,
	}
}

// CreateSession allocates a fresh session owned by the given connection and
// returns its shareable code.
func (sv *Service) CreateSession(ownerID string) (string, error) {
	s, err := sv.store.Create(ownerID)
	if err != nil {
		return "", err
	}
	log.Info().Str("code", s.code).Str("owner", ownerID).Msg("session created")
	return s.code, nil
}

// cleanOptions trims option texts and drops empty entries.
func cleanOptions(options []domain.Option) []domain.Option {
	return lo.FilterMap(options, func(o domain.Option, _ int) (domain.Option, bool) {
		text := strings.TrimSpace(o.Text)
		return domain.Option{Text: text, IsCorrect: o.IsCorrect}, text != ""
	})
}

// Validate reports whether the spec can start a question once trimmed.
func (spec QuestionSpec) Validate() error {
	if strings.TrimSpace(spec.Question) == "" || len(cleanOptions(spec.Options)) < 2 || spec.Duration <= 0 {
		return domain.ErrInvalidQuestion
	}
	return nil
}

// IssueQuestion replaces the session's current question. A still-active
// question blocks the switch until the completion gate is satisfied. The
// replaced question is frozen into the history and handed to the archive.
func (sv *Service) IssueQuestion(code, requesterID string, spec QuestionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	text := strings.TrimSpace(spec.Question)
	options := cleanOptions(spec.Options)

	s, ok := sv.store.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}

	now := sv.clock()
	var archive *domain.QuestionRecord

	s.mu.Lock()
	if s.ownerID != requesterID {
		s.mu.Unlock()
		return domain.ErrUnauthorized
	}
	if prev := s.question; prev != nil {
		if prev.isActive && !s.completionGate() {
			s.mu.Unlock()
			return domain.ErrQuestionInProgress
		}
		if prev.text != "" {
			rec := s.snapshotRecord(now)
			s.history = append(s.history, rec)
			if !prev.archived {
				archive = &rec
			}
		}
	}

	expected := spec.ExpectedResponses
	if expected == 0 && s.question != nil {
		// An unset quota inherits the previous question's.
		expected = s.question.expectedResponses
	}
	s.question = &Question{
		text:              text,
		options:           options,
		answers:           make(map[string]string),
		startedAt:         now,
		durationSeconds:   spec.Duration,
		expectedResponses: expected,
		isActive:          true,
	}
	payload := NewQuestionPayload{
		Question:  text,
		Options:   append([]domain.Option(nil), options...),
		Duration:  spec.Duration,
		StartTime: unixMilli(now),
	}
	s.mu.Unlock()

	sv.broadcaster.ToRoom(code, EventNewQuestion, payload)
	if archive != nil {
		sv.archiveAsync(*archive)
	}
	log.Info().Str("code", code).Msg("new question started")
	return nil
}

// JoinSession registers a display name for a connection. The roster goes to
// the whole room; the joiner privately receives the in-flight question so a
// late arrival can still answer.
func (sv *Service) JoinSession(code, connID, displayName string) error {
	s, ok := sv.store.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		return domain.ErrInvalidName
	}

	s.mu.Lock()
	if lo.Contains(lo.Values(s.participants), name) {
		s.mu.Unlock()
		return domain.ErrNameTaken
	}
	s.participants[connID] = name
	roster := s.rosterCopy()
	var current *NewQuestionPayload
	if q := s.question; q != nil {
		current = &NewQuestionPayload{
			Question:  q.text,
			Options:   append([]domain.Option(nil), q.options...),
			Duration:  q.durationSeconds,
			StartTime: unixMilli(q.startedAt),
		}
	}
	s.mu.Unlock()

	sv.broadcaster.ToRoom(code, EventRosterUpdated, RosterPayload{Students: roster})
	if current != nil {
		sv.broadcaster.ToConn(connID, EventJoinedPoll, *current)
	}
	log.Info().Str("code", code).Str("student", name).Msg("student joined")
	return nil
}

// SubmitAnswer records an answer for the participant's display name,
// last write wins. The full answer map fans out so every observer converges
// regardless of delivery order.
func (sv *Service) SubmitAnswer(code, connID, displayName, answer string) error {
	s, ok := sv.store.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}

	s.mu.Lock()
	q := s.question
	if q == nil || !q.isActive {
		s.mu.Unlock()
		return domain.ErrQuestionNotActive
	}
	if s.participants[connID] != displayName {
		s.mu.Unlock()
		return domain.ErrUnauthorized
	}
	if !lo.ContainsBy(q.options, func(o domain.Option) bool { return o.Text == answer }) {
		s.mu.Unlock()
		return domain.ErrInvalidOption
	}
	q.answers[displayName] = answer
	answers := s.answersCopy()
	s.mu.Unlock()

	sv.broadcaster.ToRoom(code, EventResults, ResultsPayload{Answers: answers})
	return nil
}

// Expire closes the question once its time budget (plus grace) has elapsed.
// Safe to call on any session at any time; a no-op unless the guard holds.
func (sv *Service) Expire(code string) {
	s, ok := sv.store.Get(code)
	if !ok {
		return
	}

	now := sv.clock()

	s.mu.Lock()
	q := s.question
	if q == nil || !q.isActive {
		s.mu.Unlock()
		return
	}
	budget := time.Duration(q.durationSeconds)*time.Second + expiryGrace
	if now.Sub(q.startedAt) <= budget {
		s.mu.Unlock()
		return
	}
	q.isActive = false
	q.archived = true
	rec := s.snapshotRecord(now)
	answers := s.answersCopy()
	s.mu.Unlock()

	sv.broadcaster.ToRoom(code, EventTimeUp, ResultsPayload{Answers: answers})
	sv.archiveAsync(rec)
	log.Info().Str("code", code).Msg("question timed out")
}

// RemoveParticipant drops a participant's roster and answer entries, freeing
// the display name for reuse. The removed connection is told why.
func (sv *Service) RemoveParticipant(code, requesterID, targetConnID string) error {
	s, ok := sv.store.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.ownerID != requesterID {
		s.mu.Unlock()
		return domain.ErrUnauthorized
	}
	if name, joined := s.participants[targetConnID]; joined {
		delete(s.participants, targetConnID)
		if s.question != nil {
			delete(s.question.answers, name)
		}
	}
	roster := s.rosterCopy()
	s.mu.Unlock()

	sv.broadcaster.ToRoom(code, EventRosterUpdated, RosterPayload{Students: roster})
	sv.broadcaster.ToConn(targetConnID, EventError, "removed-from-poll")
	return nil
}

// Subscribe rebuilds the owner's view after a reconnect without replaying
// events. State is untouched.
func (sv *Service) Subscribe(code, requesterID string) (StateSnapshot, error) {
	s, ok := sv.store.Get(code)
	if !ok {
		return StateSnapshot{}, domain.ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownerID != requesterID {
		return StateSnapshot{}, domain.ErrUnauthorized
	}

	snap := StateSnapshot{
		Students:        s.rosterCopy(),
		Answers:         map[string]string{},
		Messages:        append([]domain.ChatMessage(nil), s.messages...),
		QuestionHistory: append([]domain.QuestionRecord(nil), s.history...),
	}
	if q := s.question; q != nil {
		snap.Question = q.text
		snap.Options = append([]domain.Option(nil), q.options...)
		snap.Answers = s.answersCopy()
		snap.Duration = q.durationSeconds
		snap.StartTime = unixMilli(q.startedAt)
		snap.ExpectedResponses = q.expectedResponses
		snap.IsActive = q.isActive
	}
	return snap, nil
}

// AdoptOwner rebinds the session to a new owner connection. Callers must have
// checked a resume token for the session code first.
func (sv *Service) AdoptOwner(code, connID string) error {
	s, ok := sv.store.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.mu.Lock()
	s.ownerID = connID
	s.mu.Unlock()
	return nil
}

// PostMessage appends a chat entry. Owner messages reach the whole room;
// a participant's message reaches the owner and echoes back to the sender.
func (sv *Service) PostMessage(code, role, senderID, text string) error {
	body := strings.TrimSpace(text)
	if body == "" {
		return domain.ErrEmptyMessage
	}

	s, ok := sv.store.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}

	s.mu.Lock()
	var name string
	switch role {
	case domain.RoleTeacher:
		if s.ownerID != senderID {
			s.mu.Unlock()
			return domain.ErrUnauthorized
		}
		name = "Teacher"
	default:
		var joined bool
		name, joined = s.participants[senderID]
		if !joined {
			s.mu.Unlock()
			return domain.ErrUnauthorized
		}
	}
	msg := domain.ChatMessage{
		ID:   uuid.NewString(),
		From: role,
		Name: name,
		Text: body,
		Ts:   unixMilli(sv.clock()),
	}
	s.messages = append(s.messages, msg)
	ownerID := s.ownerID
	s.mu.Unlock()

	if role == domain.RoleTeacher {
		sv.broadcaster.ToRoom(code, EventChatMessage, ChatPayload{Message: msg})
	} else {
		sv.broadcaster.ToConn(ownerID, EventChatMessage, ChatPayload{Message: msg})
		sv.broadcaster.ToConn(senderID, EventChatMessage, ChatPayload{Message: msg})
	}
	return nil
}

// Disconnect is the transport telling us a connection is gone. Participant
// entries are removed everywhere; an owner's session goes inactive but stays
// resumable.
func (sv *Service) Disconnect(connID string) {
	type rosterUpdate struct {
		code   string
		roster map[string]string
	}
	var updates []rosterUpdate

	sv.store.ForEach(func(code string, s *Session) {
		s.mu.Lock()
		if s.ownerID == connID {
			if s.question != nil {
				s.question.isActive = false
			}
			s.mu.Unlock()
			return
		}
		name, joined := s.participants[connID]
		if !joined {
			s.mu.Unlock()
			return
		}
		delete(s.participants, connID)
		if s.question != nil {
			delete(s.question.answers, name)
		}
		updates = append(updates, rosterUpdate{code: code, roster: s.rosterCopy()})
		s.mu.Unlock()
	})

	for _, u := range updates {
		sv.broadcaster.ToRoom(u.code, EventRosterUpdated, RosterPayload{Students: u.roster})
	}
}

// Info is the public REST view of a live session.
func (sv *Service) Info(code string) (Info, error) {
	s, ok := sv.store.Get(code)
	if !ok {
		return Info{}, domain.ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		PollCode:     s.code,
		StudentCount: len(s.participants),
	}
	if q := s.question; q != nil {
		info.Question = q.text
		info.Options = append([]domain.Option(nil), q.options...)
		info.AnswerCount = len(q.answers)
		info.IsActive = q.isActive
	}
	return info, nil
}

// archiveAsync hands the frozen record to the archive store off the hot path.
// The in-memory history stays authoritative whether or not this succeeds.
func (sv *Service) archiveAsync(rec domain.QuestionRecord) {
	if sv.archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sv.archiver.SavePollHistory(ctx, rec); err != nil {
			log.Error().Err(err).Str("code", rec.PollCode).Msg("failed to save poll history")
		}
	}()
}
