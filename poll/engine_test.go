package poll

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"livepoll/domain"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *Store, *MockBroadcaster, *MockArchiver, *testClock) {
	t.Helper()
	store := NewStore()
	broadcaster := &MockBroadcaster{}
	broadcaster.On("ToRoom", mock.Anything, mock.Anything, mock.Anything).Return()
	broadcaster.On("ToConn", mock.Anything, mock.Anything, mock.Anything).Return()
	archiver := NewMockArchiver()
	archiver.On("SavePollHistory", mock.Anything, mock.Anything).Return(nil)

	clock := &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	sv := NewService(store, broadcaster, archiver)
	sv.clock = clock.Now
	return sv, store, broadcaster, archiver, clock
}

func countRoomEvents(b *MockBroadcaster, event string) int {
	n := 0
	for _, call := range b.Calls {
		if call.Method == "ToRoom" && call.Arguments.String(1) == event {
			n++
		}
	}
	return n
}

func validSpec() QuestionSpec {
	return QuestionSpec{
		Question: "2+2?",
		Options: []domain.Option{
			{Text: "3"},
			{Text: "4", IsCorrect: true},
		},
		Duration: 30,
	}
}

func waitForArchive(t *testing.T, archiver *MockArchiver) domain.QuestionRecord {
	t.Helper()
	select {
	case rec := <-archiver.saved:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("archive write never happened")
		return domain.QuestionRecord{}
	}
}

func TestCreateSession(t *testing.T) {
	sv, store, _, _, _ := newTestService(t)

	code, err := sv.CreateSession("teacher-conn")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	s, ok := store.Get(code)
	require.True(t, ok)
	assert.Equal(t, "teacher-conn", s.ownerID)
	assert.Nil(t, s.question)
	assert.Empty(t, s.participants)
}

func TestIssueQuestion_Validation(t *testing.T) {
	sv, _, _, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")

	testCases := []struct {
		desc string
		spec QuestionSpec
	}{
		{
			desc: "empty question text",
			spec: QuestionSpec{Question: "  ", Options: validSpec().Options, Duration: 30},
		},
		{
			desc: "single option",
			spec: QuestionSpec{Question: "q", Options: []domain.Option{{Text: "a"}}, Duration: 30},
		},
		{
			desc: "options empty after trimming",
			spec: QuestionSpec{Question: "q", Options: []domain.Option{{Text: "a"}, {Text: "   "}}, Duration: 30},
		},
		{
			desc: "non-positive duration",
			spec: QuestionSpec{Question: "q", Options: validSpec().Options, Duration: 0},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := sv.IssueQuestion(code, "teacher", tc.spec)
			assert.ErrorIs(t, err, domain.ErrInvalidQuestion)
		})
	}
}

func TestIssueQuestion_TrimsAndBroadcasts(t *testing.T) {
	sv, store, broadcaster, _, clock := newTestService(t)
	code, _ := sv.CreateSession("teacher")

	spec := QuestionSpec{
		Question: "  capital of France?  ",
		Options: []domain.Option{
			{Text: " Paris ", IsCorrect: true},
			{Text: ""},
			{Text: "London"},
		},
		Duration: 60,
	}
	require.NoError(t, sv.IssueQuestion(code, "teacher", spec))

	s, _ := store.Get(code)
	require.NotNil(t, s.question)
	assert.Equal(t, "capital of France?", s.question.text)
	assert.Equal(t, []domain.Option{{Text: "Paris", IsCorrect: true}, {Text: "London"}}, s.question.options)
	assert.True(t, s.question.isActive)
	assert.Empty(t, s.question.answers)

	broadcaster.AssertCalled(t, "ToRoom", code, EventNewQuestion, NewQuestionPayload{
		Question:  "capital of France?",
		Options:   []domain.Option{{Text: "Paris", IsCorrect: true}, {Text: "London"}},
		Duration:  60,
		StartTime: clock.now.UnixMilli(),
	})
}

func TestIssueQuestion_Unauthorized(t *testing.T) {
	sv, store, _, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))

	err := sv.IssueQuestion(code, "intruder", validSpec())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	s, _ := store.Get(code)
	assert.Equal(t, "2+2?", s.question.text)
	assert.Empty(t, s.history)
}

func TestIssueQuestion_SessionNotFound(t *testing.T) {
	sv, _, _, _, _ := newTestService(t)
	err := sv.IssueQuestion("000000", "teacher", validSpec())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestJoinSession(t *testing.T) {
	sv, store, broadcaster, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")

	t.Run("empty name rejected", func(t *testing.T) {
		assert.ErrorIs(t, sv.JoinSession(code, "c1", "   "), domain.ErrInvalidName)
	})

	t.Run("join broadcasts roster", func(t *testing.T) {
		require.NoError(t, sv.JoinSession(code, "c1", " Alice "))
		broadcaster.AssertCalled(t, "ToRoom", code, EventRosterUpdated,
			RosterPayload{Students: map[string]string{"c1": "Alice"}})
	})

	t.Run("duplicate trimmed name rejected", func(t *testing.T) {
		assert.ErrorIs(t, sv.JoinSession(code, "c2", "Alice"), domain.ErrNameTaken)
	})

	t.Run("name freed after removal", func(t *testing.T) {
		require.NoError(t, sv.RemoveParticipant(code, "teacher", "c1"))
		assert.NoError(t, sv.JoinSession(code, "c3", "Alice"))
		s, _ := store.Get(code)
		assert.Equal(t, map[string]string{"c3": "Alice"}, s.participants)
	})

	t.Run("unknown session", func(t *testing.T) {
		assert.ErrorIs(t, sv.JoinSession("999999", "c4", "Bob"), domain.ErrSessionNotFound)
	})
}

func TestJoinSession_LateJoinerGetsQuestion(t *testing.T) {
	sv, _, broadcaster, _, clock := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))

	require.NoError(t, sv.JoinSession(code, "late", "Late Joiner"))
	broadcaster.AssertCalled(t, "ToConn", "late", EventJoinedPoll, NewQuestionPayload{
		Question:  "2+2?",
		Options:   []domain.Option{{Text: "3"}, {Text: "4", IsCorrect: true}},
		Duration:  30,
		StartTime: clock.now.UnixMilli(),
	})
}

func TestSubmitAnswer(t *testing.T) {
	sv, store, broadcaster, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))

	t.Run("no active question", func(t *testing.T) {
		assert.ErrorIs(t, sv.SubmitAnswer(code, "c1", "Alice", "4"), domain.ErrQuestionNotActive)
	})

	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	s, _ := store.Get(code)

	t.Run("name spoofing rejected", func(t *testing.T) {
		assert.ErrorIs(t, sv.SubmitAnswer(code, "c1", "Bob", "4"), domain.ErrUnauthorized)
		assert.Empty(t, s.question.answers)
	})

	t.Run("invalid option rejected", func(t *testing.T) {
		assert.ErrorIs(t, sv.SubmitAnswer(code, "c1", "Alice", "5"), domain.ErrInvalidOption)
		assert.Empty(t, s.question.answers)
	})

	t.Run("answer recorded and broadcast", func(t *testing.T) {
		require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "3"))
		broadcaster.AssertCalled(t, "ToRoom", code, EventResults,
			ResultsPayload{Answers: map[string]string{"Alice": "3"}})
	})

	t.Run("resubmission overwrites, last write wins", func(t *testing.T) {
		require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))
		assert.Equal(t, map[string]string{"Alice": "4"}, s.question.answers)
	})
}

func TestCompletionGate(t *testing.T) {
	sv, _, _, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.JoinSession(code, "c2", "Bob"))
	require.NoError(t, sv.JoinSession(code, "c3", "Carol"))

	spec := validSpec()
	spec.ExpectedResponses = 3
	require.NoError(t, sv.IssueQuestion(code, "teacher", spec))

	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))
	require.NoError(t, sv.SubmitAnswer(code, "c2", "Bob", "3"))

	next := validSpec()
	next.Question = "3+3?"
	assert.ErrorIs(t, sv.IssueQuestion(code, "teacher", next), domain.ErrQuestionInProgress)

	require.NoError(t, sv.SubmitAnswer(code, "c3", "Carol", "4"))
	assert.NoError(t, sv.IssueQuestion(code, "teacher", next))
}

func TestCompletionGate_AllJoinedAnswered(t *testing.T) {
	sv, _, _, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))

	next := validSpec()
	next.Question = "3+3?"
	assert.ErrorIs(t, sv.IssueQuestion(code, "teacher", next), domain.ErrQuestionInProgress)

	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))
	assert.NoError(t, sv.IssueQuestion(code, "teacher", next))
}

func TestExpire(t *testing.T) {
	sv, store, broadcaster, _, clock := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))

	t.Run("within budget is a no-op", func(t *testing.T) {
		clock.Advance(30 * time.Second) // still inside the grace window
		sv.Expire(code)
		s, _ := store.Get(code)
		assert.True(t, s.question.isActive)
		assert.Zero(t, countRoomEvents(broadcaster, EventTimeUp))
	})

	t.Run("past budget plus grace closes the question", func(t *testing.T) {
		clock.Advance(6 * time.Second)
		sv.Expire(code)
		s, _ := store.Get(code)
		assert.False(t, s.question.isActive)
		broadcaster.AssertCalled(t, "ToRoom", code, EventTimeUp,
			ResultsPayload{Answers: map[string]string{"Alice": "4"}})
	})

	t.Run("second expiry is a no-op", func(t *testing.T) {
		sv.Expire(code)
		assert.Equal(t, 1, countRoomEvents(broadcaster, EventTimeUp))
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		sv.Expire("424242")
	})
}

func TestExpire_ArchivesOnce(t *testing.T) {
	sv, _, _, archiver, clock := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))

	clock.Advance(36 * time.Second)
	sv.Expire(code)
	rec := waitForArchive(t, archiver)
	assert.Equal(t, code, rec.PollCode)
	assert.Equal(t, 1, rec.TotalResponses)

	// The next question still lands in history but is not archived twice.
	next := validSpec()
	next.Question = "3+3?"
	require.NoError(t, sv.IssueQuestion(code, "teacher", next))
	select {
	case rec := <-archiver.saved:
		t.Fatalf("unexpected second archive write for %q", rec.Question)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoveParticipant(t *testing.T) {
	sv, store, broadcaster, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))

	t.Run("non-owner rejected", func(t *testing.T) {
		assert.ErrorIs(t, sv.RemoveParticipant(code, "c1", "c1"), domain.ErrUnauthorized)
	})

	t.Run("owner removes roster and answer entries", func(t *testing.T) {
		require.NoError(t, sv.RemoveParticipant(code, "teacher", "c1"))
		s, _ := store.Get(code)
		assert.Empty(t, s.participants)
		assert.Empty(t, s.question.answers)
		broadcaster.AssertCalled(t, "ToRoom", code, EventRosterUpdated,
			RosterPayload{Students: map[string]string{}})
		broadcaster.AssertCalled(t, "ToConn", "c1", EventError, "removed-from-poll")
	})
}

func TestSubscribe(t *testing.T) {
	sv, _, _, _, clock := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))
	require.NoError(t, sv.PostMessage(code, domain.RoleStudent, "c1", "hello"))

	t.Run("non-owner rejected", func(t *testing.T) {
		_, err := sv.Subscribe(code, "c1")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("owner gets full snapshot", func(t *testing.T) {
		snap, err := sv.Subscribe(code, "teacher")
		require.NoError(t, err)
		assert.Equal(t, "2+2?", snap.Question)
		assert.Equal(t, map[string]string{"Alice": "4"}, snap.Answers)
		assert.Equal(t, map[string]string{"c1": "Alice"}, snap.Students)
		assert.Equal(t, 30, snap.Duration)
		assert.Equal(t, clock.now.UnixMilli(), snap.StartTime)
		assert.True(t, snap.IsActive)
		require.Len(t, snap.Messages, 1)
		assert.Equal(t, "hello", snap.Messages[0].Text)
		assert.Empty(t, snap.QuestionHistory)
	})

	t.Run("adopted owner can subscribe", func(t *testing.T) {
		require.NoError(t, sv.AdoptOwner(code, "teacher-reborn"))
		_, err := sv.Subscribe(code, "teacher")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		snap, err := sv.Subscribe(code, "teacher-reborn")
		require.NoError(t, err)
		assert.Equal(t, "2+2?", snap.Question)
	})
}

func TestPostMessage(t *testing.T) {
	sv, _, broadcaster, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))

	t.Run("empty text rejected", func(t *testing.T) {
		assert.ErrorIs(t, sv.PostMessage(code, domain.RoleTeacher, "teacher", "  "), domain.ErrEmptyMessage)
	})

	t.Run("teacher role requires ownership", func(t *testing.T) {
		assert.ErrorIs(t, sv.PostMessage(code, domain.RoleTeacher, "c1", "hi"), domain.ErrUnauthorized)
	})

	t.Run("student must be on the roster", func(t *testing.T) {
		assert.ErrorIs(t, sv.PostMessage(code, domain.RoleStudent, "stranger", "hi"), domain.ErrUnauthorized)
	})

	t.Run("teacher message reaches the room", func(t *testing.T) {
		require.NoError(t, sv.PostMessage(code, domain.RoleTeacher, "teacher", "welcome"))
		assert.Equal(t, 1, countRoomEvents(broadcaster, EventChatMessage))
	})

	t.Run("student message goes to teacher and echoes back", func(t *testing.T) {
		require.NoError(t, sv.PostMessage(code, domain.RoleStudent, "c1", "question!"))
		sent := 0
		for _, call := range broadcaster.Calls {
			if call.Method == "ToConn" && call.Arguments.String(1) == EventChatMessage {
				assert.Contains(t, []string{"teacher", "c1"}, call.Arguments.String(0))
				sent++
			}
		}
		assert.Equal(t, 2, sent)
		// still only the teacher broadcast on the room channel
		assert.Equal(t, 1, countRoomEvents(broadcaster, EventChatMessage))
	})
}

func TestDisconnect(t *testing.T) {
	sv, store, broadcaster, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.JoinSession(code, "c2", "Bob"))
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))

	t.Run("participant disconnect clears roster and answer", func(t *testing.T) {
		sv.Disconnect("c1")
		s, _ := store.Get(code)
		assert.Equal(t, map[string]string{"c2": "Bob"}, s.participants)
		assert.Empty(t, s.question.answers)
		broadcaster.AssertCalled(t, "ToRoom", code, EventRosterUpdated,
			RosterPayload{Students: map[string]string{"c2": "Bob"}})
	})

	t.Run("owner disconnect deactivates but keeps the session", func(t *testing.T) {
		sv.Disconnect("teacher")
		s, ok := store.Get(code)
		require.True(t, ok)
		assert.False(t, s.question.isActive)
		assert.Equal(t, map[string]string{"c2": "Bob"}, s.participants)
	})
}

func TestInfo(t *testing.T) {
	sv, _, _, _, _ := newTestService(t)
	code, _ := sv.CreateSession("teacher")
	require.NoError(t, sv.JoinSession(code, "c1", "Alice"))
	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	require.NoError(t, sv.SubmitAnswer(code, "c1", "Alice", "4"))

	info, err := sv.Info(code)
	require.NoError(t, err)
	assert.Equal(t, Info{
		PollCode:     code,
		Question:     "2+2?",
		Options:      []domain.Option{{Text: "3"}, {Text: "4", IsCorrect: true}},
		StudentCount: 1,
		AnswerCount:  1,
		IsActive:     true,
	}, info)

	_, err = sv.Info("000001")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestFullLesson(t *testing.T) {
	sv, store, _, archiver, _ := newTestService(t)

	code, err := sv.CreateSession("teacher")
	require.NoError(t, err)
	require.NoError(t, sv.JoinSession(code, "conn-alice", "Alice"))
	require.NoError(t, sv.JoinSession(code, "conn-bob", "Bob"))

	require.NoError(t, sv.IssueQuestion(code, "teacher", validSpec()))
	require.NoError(t, sv.SubmitAnswer(code, "conn-alice", "Alice", "4"))
	require.NoError(t, sv.SubmitAnswer(code, "conn-bob", "Bob", "3"))

	next := QuestionSpec{
		Question: "capital of France?",
		Options:  []domain.Option{{Text: "Paris", IsCorrect: true}, {Text: "London"}},
		Duration: 60,
	}
	require.NoError(t, sv.IssueQuestion(code, "teacher", next))

	rec := waitForArchive(t, archiver)
	assert.Equal(t, code, rec.PollCode)
	assert.Equal(t, "teacher", rec.OwnerID)
	assert.Equal(t, "2+2?", rec.Question)
	assert.Equal(t, 2, rec.TotalResponses)
	assert.Equal(t, []string{"4"}, rec.CorrectAnswers)
	assert.Equal(t, map[string]string{"Alice": "4", "Bob": "3"}, rec.Answers)

	s, _ := store.Get(code)
	require.Len(t, s.history, 1)
	assert.Equal(t, "2+2?", s.history[0].Question)
	assert.Empty(t, s.question.answers)
	assert.Equal(t, "capital of France?", s.question.text)
}
