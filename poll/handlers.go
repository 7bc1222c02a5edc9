package poll

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"livepoll/domain"
)

const historyDefaultLimit = 20

// ResumeTokenVerifier checks an owner's resume token and returns the session
// code it was minted for.
type ResumeTokenVerifier interface {
	Generate(pollCode string, now time.Time) (string, error)
	Verify(tokenString string) (string, error)
}

// Handler owns the websocket endpoint: it upgrades connections, pumps frames,
// and translates named events into engine operations.
type Handler struct {
	service  *Service
	hub      *Hub
	history  HistoryReader
	resume   ResumeTokenVerifier
	validate *validator.Validate
}

func NewHandler(service *Service, hub *Hub, history HistoryReader, resume ResumeTokenVerifier) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		history:  history,
		resume:   resume,
		validate: validator.New(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin gate runs in middleware
}

// ConnectHandler handles GET /ws for owners and participants alike; roles are
// decided per event, not per connection.
func (h *Handler) ConnectHandler(ctx *gin.Context) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("ip", ctx.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), NewWebsocketConnection(conn))
	h.hub.Register(client)
	log.Debug().Str("conn", client.id).Msg("new connection")

	go client.WritePump()
	client.ReadPump(h.dispatch, h.onClose)
}

// PollInfoHandler handles GET /api/poll/:code.
func (h *Handler) PollInfoHandler(ctx *gin.Context) {
	info, err := h.service.Info(ctx.Param("code"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	}
	ctx.JSON(http.StatusOK, info)
}

func (h *Handler) onClose(c *Client) {
	h.service.Disconnect(c.id)
	h.hub.Unregister(c.id)
	c.socket.Close("")
	log.Debug().Str("conn", c.id).Msg("connection closed")
}

// optionSpec accepts both the tagged {text, isCorrect} record and the legacy
// bare-string shape; a bare string means isCorrect=false.
type optionSpec domain.Option

func (o *optionSpec) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = optionSpec{Text: s, IsCorrect: false}
		return nil
	}
	var raw struct {
		Text      string `json:"text"`
		IsCorrect bool   `json:"isCorrect"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*o = optionSpec{Text: raw.Text, IsCorrect: raw.IsCorrect}
	return nil
}

type createPollRequest struct {
	Question          string       `json:"question"`
	Options           []optionSpec `json:"options"`
	Duration          int          `json:"duration"`
	ExpectedResponses int          `json:"expectedResponses"`
}

type newQuestionRequest struct {
	PollCode          string       `json:"pollCode" validate:"required"`
	Question          string       `json:"question" validate:"required"`
	Options           []optionSpec `json:"options" validate:"min=2"`
	Duration          int          `json:"duration"`
	ExpectedResponses int          `json:"expectedResponses"`
}

type joinRequest struct {
	PollCode    string `json:"pollCode" validate:"required"`
	StudentName string `json:"studentName"`
}

type answerRequest struct {
	PollCode    string `json:"pollCode" validate:"required"`
	StudentName string `json:"studentName" validate:"required"`
	Answer      string `json:"answer" validate:"required"`
}

type subscribeRequest struct {
	PollCode    string `json:"pollCode" validate:"required"`
	ResumeToken string `json:"resumeToken"`
}

type removeStudentRequest struct {
	PollCode  string `json:"pollCode" validate:"required"`
	StudentID string `json:"studentId" validate:"required"`
}

type chatRequest struct {
	PollCode string `json:"pollCode" validate:"required"`
	Text     string `json:"text"`
}

type historyRequest struct {
	TeacherID string `json:"teacherId" validate:"required"`
}

type detailsRequest struct {
	PollCode string `json:"pollCode" validate:"required"`
}

func (h *Handler) dispatch(c *Client, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.hub.ToConn(c.id, EventError, "invalid-payload")
		return
	}

	switch env.Event {
	case "teacher_create_poll":
		h.handleCreatePoll(c, env.Data)
	case "teacher_new_question":
		h.handleNewQuestion(c, env.Data)
	case "student_join":
		h.handleStudentJoin(c, env.Data)
	case "submit_answer":
		h.handleSubmitAnswer(c, env.Data)
	case "teacher_subscribe":
		h.handleSubscribe(c, env.Data)
	case "remove_student":
		h.handleRemoveStudent(c, env.Data)
	case "teacher_send_message":
		h.handleChat(c, env.Data, domain.RoleTeacher)
	case "student_send_message":
		h.handleChat(c, env.Data, domain.RoleStudent)
	case "get_poll_history":
		h.handleGetHistory(c, env.Data)
	case "get_poll_details":
		h.handleGetDetails(c, env.Data)
	case "get_poll_stats":
		h.handleGetStats(c, env.Data)
	default:
		log.Debug().Str("event", env.Event).Str("conn", c.id).Msg("unknown event")
	}
}

// decode unmarshals and validates an event payload, reporting failures to the
// requester. Returns false when the payload is unusable.
func (h *Handler) decode(c *Client, data json.RawMessage, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		h.hub.ToConn(c.id, EventError, "invalid-payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.hub.ToConn(c.id, EventError, "invalid-payload")
		return false
	}
	return true
}

func (h *Handler) reject(c *Client, err error) {
	h.hub.ToConn(c.id, EventError, err.Error())
}

func toOptions(specs []optionSpec) []domain.Option {
	options := make([]domain.Option, len(specs))
	for i, o := range specs {
		options[i] = domain.Option(o)
	}
	return options
}

func orDefaultDuration(duration int) int {
	if duration <= 0 {
		return defaultDurationSeconds
	}
	return duration
}

func (h *Handler) handleCreatePoll(c *Client, data json.RawMessage) {
	var req createPollRequest
	if !h.decode(c, data, &req) {
		return
	}

	// The creating request may carry the first question inline. A malformed
	// one is rejected before anything exists, so no empty session is left
	// behind.
	withQuestion := req.Question != "" || len(req.Options) > 0
	spec := QuestionSpec{
		Question:          req.Question,
		Options:           toOptions(req.Options),
		Duration:          orDefaultDuration(req.Duration),
		ExpectedResponses: req.ExpectedResponses,
	}
	if withQuestion {
		if err := spec.Validate(); err != nil {
			h.reject(c, err)
			return
		}
	}

	code, err := h.service.CreateSession(c.id)
	if err != nil {
		h.reject(c, err)
		return
	}
	h.hub.Join(code, c.id)

	payload := PollCreatedPayload{PollCode: code}
	if token, err := h.resume.Generate(code, time.Now()); err == nil {
		payload.ResumeToken = token
	} else {
		log.Error().Err(err).Str("code", code).Msg("failed to mint resume token")
	}
	h.hub.ToConn(c.id, EventPollCreated, payload)

	if !withQuestion {
		return
	}
	if err := h.service.IssueQuestion(code, c.id, spec); err != nil {
		h.reject(c, err)
	}
}

func (h *Handler) handleNewQuestion(c *Client, data json.RawMessage) {
	var req newQuestionRequest
	if !h.decode(c, data, &req) {
		return
	}
	err := h.service.IssueQuestion(req.PollCode, c.id, QuestionSpec{
		Question:          req.Question,
		Options:           toOptions(req.Options),
		Duration:          orDefaultDuration(req.Duration),
		ExpectedResponses: req.ExpectedResponses,
	})
	if err != nil {
		h.reject(c, err)
	}
}

func (h *Handler) handleStudentJoin(c *Client, data json.RawMessage) {
	var req joinRequest
	if !h.decode(c, data, &req) {
		return
	}
	// Join the room first so the roster broadcast reaches the joiner too.
	h.hub.Join(req.PollCode, c.id)
	if err := h.service.JoinSession(req.PollCode, c.id, req.StudentName); err != nil {
		h.hub.Leave(req.PollCode, c.id)
		h.reject(c, err)
	}
}

func (h *Handler) handleSubmitAnswer(c *Client, data json.RawMessage) {
	var req answerRequest
	if !h.decode(c, data, &req) {
		return
	}
	if err := h.service.SubmitAnswer(req.PollCode, c.id, req.StudentName, req.Answer); err != nil {
		h.reject(c, err)
	}
}

func (h *Handler) handleSubscribe(c *Client, data json.RawMessage) {
	var req subscribeRequest
	if !h.decode(c, data, &req) {
		return
	}

	// A reconnected owner proves ownership with the resume token minted at
	// creation; the session then rebinds to the new connection id.
	if req.ResumeToken != "" {
		code, err := h.resume.Verify(req.ResumeToken)
		if err == nil && code == req.PollCode {
			if err := h.service.AdoptOwner(req.PollCode, c.id); err != nil {
				h.reject(c, err)
				return
			}
		}
	}

	snap, err := h.service.Subscribe(req.PollCode, c.id)
	if err != nil {
		h.reject(c, err)
		return
	}
	h.hub.Join(req.PollCode, c.id)
	h.hub.ToConn(c.id, EventPollState, snap)
}

func (h *Handler) handleRemoveStudent(c *Client, data json.RawMessage) {
	var req removeStudentRequest
	if !h.decode(c, data, &req) {
		return
	}
	if err := h.service.RemoveParticipant(req.PollCode, c.id, req.StudentID); err != nil {
		h.reject(c, err)
		return
	}
	h.hub.Leave(req.PollCode, req.StudentID)
}

func (h *Handler) handleChat(c *Client, data json.RawMessage, role string) {
	var req chatRequest
	if !h.decode(c, data, &req) {
		return
	}
	if err := h.service.PostMessage(req.PollCode, role, c.id, req.Text); err != nil {
		h.reject(c, err)
	}
}

func (h *Handler) handleGetHistory(c *Client, data json.RawMessage) {
	var req historyRequest
	if !h.decode(c, data, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := h.history.GetPollHistory(ctx, req.TeacherID, historyDefaultLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch poll history")
		h.hub.ToConn(c.id, EventError, domain.DatabaseError.Error())
		return
	}
	h.hub.ToConn(c.id, EventPollHistory, records)
}

func (h *Handler) handleGetDetails(c *Client, data json.RawMessage) {
	var req detailsRequest
	if !h.decode(c, data, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := h.history.GetPollDetails(ctx, req.PollCode)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			h.hub.ToConn(c.id, EventError, err.Error())
			return
		}
		log.Error().Err(err).Msg("failed to fetch poll details")
		h.hub.ToConn(c.id, EventError, domain.DatabaseError.Error())
		return
	}
	h.hub.ToConn(c.id, EventPollDetails, rec)
}

func (h *Handler) handleGetStats(c *Client, data json.RawMessage) {
	var req historyRequest
	if !h.decode(c, data, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := h.history.GetPollStats(ctx, req.TeacherID)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch poll stats")
		h.hub.ToConn(c.id, EventError, domain.DatabaseError.Error())
		return
	}
	h.hub.ToConn(c.id, EventPollStats, stats)
}
