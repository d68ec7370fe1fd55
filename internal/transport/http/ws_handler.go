package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/domain"
)

type WSHandler struct {
	service  *app.AttemptService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	QuizID         string `json:"quizId"`
	Specialisation string `json:"specialisation"`
	Level          int    `json:"level"`
}

type resumePayload struct {
	AttemptID string `json:"attemptId"`
}

type answerPayload struct {
	QuestionID  string `json:"questionId"`
	SelectedKey string `json:"selectedKey"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ServeWS upgrades the request and drives one attempt at a time over the socket.
// Query parameters: userId (required), then either attemptId to resume, or quizId /
// specialisation+level to start right away. Closing the socket abandons an unfinished attempt.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s := &wsSession{
		h:          h,
		userID:     userID,
		send:       make(chan outboundMessage, 16),
		writerDone: make(chan struct{}),
	}

	go func() {
		defer close(s.writerDone)
		for msg := range s.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.String("user_id", userID), zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}()

	ctx := r.Context()
	level, _ := strconv.Atoi(q.Get("level"))
	switch {
	case q.Get("attemptId") != "":
		s.resume(ctx, q.Get("attemptId"))
	case q.Get("quizId") != "" || q.Get("specialisation") != "":
		s.start(ctx, startPayload{QuizID: q.Get("quizId"), Specialisation: q.Get("specialisation"), Level: level})
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				s.emit(outboundMessage{Type: domain.EventError, Payload: errorPayload{Message: "invalid start payload"}})
				continue
			}
			s.start(ctx, payload)
		case "resume":
			var payload resumePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.AttemptID == "" {
				s.emit(outboundMessage{Type: domain.EventError, Payload: errorPayload{Message: "invalid resume payload"}})
				continue
			}
			s.resume(ctx, payload.AttemptID)
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				s.emit(outboundMessage{Type: domain.EventError, Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			s.answer(ctx, payload)
		case "submit":
			s.submit(ctx)
		case "abandon":
			s.release()
			s.emit(outboundMessage{Type: "abandoned"})
		default:
			s.emit(outboundMessage{Type: domain.EventError, Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	s.release()
	close(s.send)
	<-s.writerDone
}

// wsSession is the per-connection state. Only the read loop touches attemptID and sub.
type wsSession struct {
	h          *WSHandler
	userID     string
	send       chan outboundMessage
	writerDone chan struct{}

	attemptID string
	sub       *subscription
}

type subscription struct {
	cancel func()
	stop   chan struct{}
	done   chan struct{}
}

func (s *wsSession) start(ctx context.Context, p startPayload) {
	s.release()

	var (
		snap domain.AttemptSnapshot
		err  error
	)
	switch {
	case p.QuizID != "":
		snap, err = s.h.service.StartQuiz(ctx, s.userID, p.QuizID)
	case p.Specialisation != "" && p.Level > 0:
		snap, err = s.h.service.StartAttempt(ctx, s.userID, p.Specialisation, p.Level)
	default:
		s.emit(outboundMessage{Type: domain.EventError, Payload: errorPayload{Message: "quizId or specialisation and level required"}})
		return
	}
	if err != nil {
		s.emitError(err)
		return
	}
	s.emit(outboundMessage{Type: "started", Payload: snap})
	s.follow(ctx, snap.AttemptID)
}

func (s *wsSession) resume(ctx context.Context, attemptID string) {
	if attemptID != s.attemptID {
		s.release()
	}
	snap, err := s.h.service.Resume(ctx, s.userID, attemptID)
	if err != nil {
		s.emitError(err)
		return
	}
	s.emit(outboundMessage{Type: "resumed", Payload: snap})
	s.follow(ctx, attemptID)
}

func (s *wsSession) answer(ctx context.Context, p answerPayload) {
	if s.attemptID == "" {
		s.emitError(domain.ErrAttemptNotFound)
		return
	}
	snap, err := s.h.service.Answer(ctx, s.userID, s.attemptID, p.QuestionID, p.SelectedKey)
	if err != nil {
		s.emitError(err)
		return
	}
	s.emit(outboundMessage{Type: "answered", Payload: snap})
}

// submit relies on the subscription for the result event. Submission failures are also
// streamed there, so only other errors are reported directly.
func (s *wsSession) submit(ctx context.Context) {
	if s.attemptID == "" {
		s.emitError(domain.ErrAttemptNotFound)
		return
	}
	if _, err := s.h.service.Submit(ctx, s.userID, s.attemptID); err != nil {
		var submitErr *domain.SubmissionError
		if !errors.As(err, &submitErr) {
			s.emitError(err)
		}
	}
}

func (s *wsSession) follow(ctx context.Context, attemptID string) {
	s.unfollow()
	s.attemptID = attemptID
	events, cancel, err := s.h.service.Subscribe(ctx, s.userID, attemptID)
	if err != nil {
		s.emitError(err)
		return
	}
	sub := &subscription{cancel: cancel, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case s.send <- outboundMessage{Type: event.Type, Payload: event}:
				case <-sub.stop:
					return
				case <-s.writerDone:
					return
				}
			case <-sub.stop:
				return
			}
		}
	}()
	s.sub = sub
}

func (s *wsSession) unfollow() {
	if s.sub == nil {
		return
	}
	close(s.sub.stop)
	s.sub.cancel()
	<-s.sub.done
	s.sub = nil
}

// release stops following and abandons the attempt unless it already completed.
func (s *wsSession) release() {
	s.unfollow()
	if s.attemptID == "" {
		return
	}
	attemptID := s.attemptID
	s.attemptID = ""

	ctx := context.Background()
	snap, err := s.h.service.Get(ctx, s.userID, attemptID)
	if err != nil || snap.State == domain.StateCompleted {
		return
	}
	if err := s.h.service.Abandon(ctx, s.userID, attemptID); err != nil {
		s.h.logger.Debug("abandon on release failed", zap.String("attempt_id", attemptID), zap.Error(err))
	}
}

func (s *wsSession) emit(msg outboundMessage) {
	select {
	case s.send <- msg:
	case <-s.writerDone:
	}
}

func (s *wsSession) emitError(err error) {
	_, body := errorBody(err)
	s.emit(outboundMessage{Type: domain.EventError, Payload: errorPayload{
		Message:   body.Message,
		Code:      body.Code,
		Retryable: body.Retryable,
	}})
}
