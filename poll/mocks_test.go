package poll

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"livepoll/domain"
)

// --- Broadcaster ---

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) ToRoom(code, event string, payload any) {
	m.Called(code, event, payload)
}

func (m *MockBroadcaster) ToConn(connID, event string, payload any) {
	m.Called(connID, event, payload)
}

// --- Archiver ---

type MockArchiver struct {
	mock.Mock
	saved chan domain.QuestionRecord
}

func NewMockArchiver() *MockArchiver {
	return &MockArchiver{saved: make(chan domain.QuestionRecord, 16)}
}

func (m *MockArchiver) SavePollHistory(ctx context.Context, rec domain.QuestionRecord) error {
	args := m.Called(ctx, rec)
	m.saved <- rec
	return args.Error(0)
}

// --- HistoryReader ---

type MockHistoryReader struct {
	mock.Mock
}

func (m *MockHistoryReader) GetPollHistory(ctx context.Context, ownerID string, limit int) ([]domain.QuestionRecord, error) {
	args := m.Called(ctx, ownerID, limit)
	return args.Get(0).([]domain.QuestionRecord), args.Error(1)
}

func (m *MockHistoryReader) GetPollDetails(ctx context.Context, code string) (domain.QuestionRecord, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(domain.QuestionRecord), args.Error(1)
}

func (m *MockHistoryReader) GetPollStats(ctx context.Context, ownerID string) (domain.OwnerStats, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(domain.OwnerStats), args.Error(1)
}

// --- ResumeTokenVerifier ---

type MockResumeTokens struct {
	mock.Mock
}

func (m *MockResumeTokens) Generate(pollCode string, now time.Time) (string, error) {
	args := m.Called(pollCode, now)
	return args.String(0), args.Error(1)
}

func (m *MockResumeTokens) Verify(tokenString string) (string, error) {
	args := m.Called(tokenString)
	return args.String(0), args.Error(1)
}

// --- NetworkSession ---

type MockNetworkSession struct {
	mock.Mock
}

func (m *MockNetworkSession) Close(reason string) {
	m.Called(reason)
}

func (m *MockNetworkSession) Write(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockNetworkSession) Read() ([]byte, error) {
	args := m.Called()
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockNetworkSession) Ping() error {
	args := m.Called()
	return args.Error(0)
}

// --- PeriodicTickerChannelCreator ---

type MockPeriodicTickerChannelCreator struct {
	mock.Mock
}

func (m *MockPeriodicTickerChannelCreator) Create(duration time.Duration) <-chan time.Time {
	args := m.Called(duration)
	return args.Get(0).(chan time.Time)
}
