package backend

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// Service implements the chat backend operations shared by the REST
// surface and the websocket invoke handlers.
type Service struct {
	store     *Store
	hub       *Hub
	clock     clock.Clock
	logger    zerolog.Logger
	responder *Responder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock injects a clock for deterministic timestamps in tests.
func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithoutResponder disables the automated responder; used by tests that
// script the AI side themselves.
func WithoutResponder() ServiceOption {
	return func(s *Service) { s.responder = nil }
}

// NewService wires the backend pieces together.
func NewService(store *Store, hub *Hub, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		hub:    hub,
		clock:  clock.System(),
		logger: logger.With().Str("component", "backend").Logger(),
	}
	s.responder = NewResponder(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession provisions a durable session.
func (s *Service) CreateSession(guestName, guestEmail string) *Session {
	sess := s.store.CreateSession(guestName, guestEmail, s.clock.Now())
	s.logger.Info().Str("session_id", sess.ID).Str("guest", guestName).Msg("Session created")
	return sess
}

// Session returns one session by id.
func (s *Service) Session(id string) (*Session, bool) {
	return s.store.Session(id)
}

// PostMessage persists one message, pushes it to the session group and,
// for visitor messages, hands it to the automated responder.
func (s *Service) PostMessage(msg message.Message, origin *Client) (message.Message, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return message.Message{}, fmt.Errorf("message content is empty")
	}
	if len(msg.Content) > constants.MaxContentLength {
		return message.Message{}, fmt.Errorf("message content exceeds %d characters", constants.MaxContentLength)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = s.clock.Now()
	}
	if msg.Type == "" {
		msg.Type = message.TypeText
	}

	stored, ok := s.store.AppendMessage(msg)
	if !ok {
		return message.Message{}, fmt.Errorf("unknown or closed session %q", msg.SessionID)
	}

	s.pushMessage(stored, origin)

	if stored.Sender == message.SenderUser && s.responder != nil {
		userMsg := stored
		util.SafeGo(s.logger, "responder", func() { s.responder.Respond(userMsg) })
	}
	return stored, nil
}

// Escalate marks a session escalated and notifies its group.
func (s *Service) Escalate(sessionID, reason string) error {
	if !s.store.Escalate(sessionID) {
		return fmt.Errorf("unknown or closed session %q", sessionID)
	}

	frame := &message.Frame{
		Kind:  message.FrameEvent,
		Event: constants.EventSessionEscalated,
		Data:  mustMarshal(&message.EscalatedEvent{SessionID: sessionID, Reason: reason}),
	}
	s.hub.BroadcastToSession(sessionID, frame, nil)

	s.logger.Info().Str("session_id", sessionID).Str("reason", reason).Msg("Session escalated")
	return nil
}

// ActiveSessions lists open sessions in creation order.
func (s *Service) ActiveSessions() []Session {
	return s.store.Active()
}

// SessionMessages returns one session's transcript.
func (s *Service) SessionMessages(sessionID string) ([]message.Message, bool) {
	if _, ok := s.store.Session(sessionID); !ok {
		return nil, false
	}
	return s.store.Messages(sessionID), true
}

// pushMessage fans the confirmed copy out to the session group. The
// origin connection is excluded for websocket-submitted messages, which
// already receive theirs in the invoke result.
func (s *Service) pushMessage(msg message.Message, origin *Client) {
	frame := &message.Frame{
		Kind:  message.FrameEvent,
		Event: constants.EventMessageReceived,
		Data:  mustMarshal(&msg),
	}
	s.hub.BroadcastToSession(msg.SessionID, frame, origin)
}

// TypingArgs is the payload of the send-typing invoke.
type TypingArgs struct {
	SessionID string             `json:"session_id"`
	Sender    message.SenderRole `json:"sender"`
	Typing    bool               `json:"typing"`
}

// HandleInvoke executes one client invoke frame and replies with a
// correlated result frame.
func (s *Service) HandleInvoke(c *Client, frame *message.Frame) {
	switch frame.Method {
	case constants.MethodJoinSession:
		s.handleJoin(c, frame, true)
	case constants.MethodLeaveSession:
		s.handleJoin(c, frame, false)
	case constants.MethodSendMessage:
		s.handleSendMessage(c, frame)
	case constants.MethodSendTyping:
		s.handleTyping(c, frame)
	default:
		s.replyError(c, frame, fmt.Sprintf("unknown method %q", frame.Method))
	}
}

type joinArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Service) handleJoin(c *Client, frame *message.Frame, join bool) {
	var args joinArgs
	if err := util.UnmarshalJSON(frame.Args, &args); err != nil || args.SessionID == "" {
		s.replyError(c, frame, "invalid session id")
		return
	}
	if _, ok := s.store.Session(args.SessionID); !ok {
		s.replyError(c, frame, fmt.Sprintf("unknown session %q", args.SessionID))
		return
	}

	if join {
		c.join(args.SessionID)
		s.notifyAdminJoined(c, args.SessionID)
	} else {
		c.leave(args.SessionID)
	}
	s.replyOK(c, frame, nil)
}

// notifyAdminJoined tells the session group a human agent is now
// watching. Visitors joining produce no announcement.
func (s *Service) notifyAdminJoined(c *Client, sessionID string) {
	if c.claims == nil || !(c.claims.HasRole(constants.RoleAdmin) || c.claims.HasRole(constants.RoleChatAgent)) {
		return
	}

	frame := &message.Frame{
		Kind:  message.FrameEvent,
		Event: constants.EventAdminJoined,
		Data: mustMarshal(&message.AdminJoinedEvent{
			SessionID: sessionID,
			AdminID:   c.claims.UserID,
			AdminName: c.claims.Name,
		}),
	}
	s.hub.BroadcastToSession(sessionID, frame, c)
}

func (s *Service) handleSendMessage(c *Client, frame *message.Frame) {
	var msg message.Message
	if err := util.UnmarshalJSON(frame.Args, &msg); err != nil {
		s.replyError(c, frame, "invalid message payload")
		return
	}

	stored, err := s.PostMessage(msg, c)
	if err != nil {
		s.replyError(c, frame, err.Error())
		return
	}
	s.replyOK(c, frame, &stored)
}

func (s *Service) handleTyping(c *Client, frame *message.Frame) {
	var args TypingArgs
	if err := util.UnmarshalJSON(frame.Args, &args); err != nil || args.SessionID == "" {
		s.replyError(c, frame, "invalid typing payload")
		return
	}

	push := &message.Frame{
		Kind:  message.FrameEvent,
		Event: constants.EventTypingIndicator,
		Data: mustMarshal(&message.TypingState{
			SessionID: args.SessionID,
			Sender:    args.Sender,
			Typing:    args.Typing,
		}),
	}
	s.hub.BroadcastToSession(args.SessionID, push, c)
	s.replyOK(c, frame, nil)
}

func (s *Service) replyOK(c *Client, frame *message.Frame, result interface{}) {
	reply := &message.Frame{Kind: message.FrameResult, ID: frame.ID}
	if result != nil {
		reply.Result = mustMarshal(result)
	}
	c.SafeSend(reply)
}

func (s *Service) replyError(c *Client, frame *message.Frame, detail string) {
	c.SafeSend(&message.Frame{Kind: message.FrameResult, ID: frame.ID, Error: detail})
}
