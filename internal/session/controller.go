package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/realtime"
	"github.com/Waito3007/SHNGear-sub002/internal/rest"
	"github.com/Waito3007/SHNGear-sub002/internal/syncer"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// Realtime is the slice of the connection manager the controller needs.
type Realtime interface {
	Invoke(ctx context.Context, method string, args interface{}) (json.RawMessage, error)
	On(event string, fn realtime.EventHandler) realtime.Subscription
	State() realtime.State
}

// JoinArgs is the payload of the join-session and leave-session calls.
type JoinArgs struct {
	SessionID string `json:"session_id"`
}

// Controller drives one visitor conversation end to end. Safe for
// concurrent use.
type Controller struct {
	rt     Realtime
	api    *rest.Client
	conv   *syncer.Synchronizer
	store  Store
	clock  clock.Clock
	logger zerolog.Logger

	mu          sync.Mutex
	status      Status
	sessionID   string
	participant Participant
	reconnSub   realtime.Subscription
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock injects a clock for deterministic message timestamps.
func WithClock(c clock.Clock) ControllerOption {
	return func(ctl *Controller) { ctl.clock = c }
}

// NewController creates a lifecycle controller. The store may be nil, in
// which case nothing is persisted across restarts.
func NewController(rt Realtime, api *rest.Client, conv *syncer.Synchronizer, store Store, logger zerolog.Logger, opts ...ControllerOption) *Controller {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Controller{
		rt:     rt,
		api:    api,
		conv:   conv,
		store:  store,
		clock:  clock.System(),
		logger: logger.With().Str("component", "session").Logger(),
		status: StatusNotStarted,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins or resumes a conversation for the given participant and
// returns the durable session id. Calling Start again with the same
// identity is a no-op returning the active session; a different identity
// is rejected until Close.
func (c *Controller) Start(ctx context.Context, p Participant) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	switch c.status {
	case StatusActive, StatusEscalated:
		if c.participant.Same(p) {
			id := c.sessionID
			c.mu.Unlock()
			return id, nil
		}
		c.mu.Unlock()
		return "", chaterrors.ErrInvalidInput("a session is active for a different participant; close it first")
	}
	c.mu.Unlock()

	sessionID, err := c.resolveSessionID(ctx, p)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.status = StatusActive
	c.sessionID = sessionID
	c.participant = p
	if c.reconnSub == nil {
		c.reconnSub = c.rt.On(constants.EventReconnected, func(*message.Event) { c.rejoin() })
	}
	c.mu.Unlock()

	c.join(ctx, sessionID)
	c.logger.Info().Str("session_id", sessionID).Str("participant", p.DisplayName()).Msg("Support session started")
	return sessionID, nil
}

// resolveSessionID resumes the persisted session when one exists for the
// same identity, otherwise provisions a new one. Resuming seeds the
// conversation with the server-side history so the transcript survives a
// page reload.
func (c *Controller) resolveSessionID(ctx context.Context, p Participant) (string, error) {
	if saved, err := c.store.Load(); err == nil && c.resumable(saved, p) {
		history, err := c.api.SessionMessages(ctx, saved.SessionID)
		if err == nil {
			c.conv.Seed(history)
			c.logger.Info().Str("session_id", saved.SessionID).Int("history", len(history)).Msg("Resuming saved session")
			return saved.SessionID, nil
		}
		c.logger.Warn().Err(err).Str("session_id", saved.SessionID).Msg("Saved session not resumable; starting fresh")
	}

	resp, err := c.api.CreateSession(ctx, &rest.CreateSessionRequest{
		GuestName:  p.DisplayName(),
		GuestEmail: p.GuestEmail,
	})
	if err != nil {
		return "", err
	}
	c.conv.Seed(resp.Messages)

	saved := &SavedSession{SessionID: resp.SessionID, GuestName: p.GuestName, GuestEmail: p.GuestEmail}
	if err := c.store.Save(saved); err != nil {
		c.logger.Warn().Err(err).Msg("Could not persist session id; resume disabled")
	}
	return resp.SessionID, nil
}

// resumable reports whether a persisted session belongs to the same
// identity. Authenticated customers are matched by token on the backend;
// guests must present the same name and email pair.
func (c *Controller) resumable(saved *SavedSession, p Participant) bool {
	if p.Authenticated() {
		return true
	}
	return saved.GuestName == p.GuestName && saved.GuestEmail == p.GuestEmail
}

// Send transmits one visitor message. The conversation shows it
// immediately as an optimistic entry; on backend rejection the entry
// becomes a failure notice and the error is returned.
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return chaterrors.ErrInvalidInput("message content is empty")
	}
	if len(content) > constants.MaxContentLength {
		return chaterrors.ErrInvalidInput(
			fmt.Sprintf("message content exceeds %d characters", constants.MaxContentLength))
	}

	c.mu.Lock()
	if c.status != StatusActive && c.status != StatusEscalated {
		c.mu.Unlock()
		return chaterrors.ErrNoActiveSession()
	}
	sessionID := c.sessionID
	participant := c.participant
	c.mu.Unlock()

	// Nothing is appended while offline; the caller keeps the draft and
	// retries once the connection recovers.
	if c.rt.State() != realtime.StateConnected {
		return chaterrors.ErrNotConnected("send message")
	}

	optimistic := message.Message{
		TempID:    uuid.NewString(),
		SessionID: sessionID,
		Sender:    message.SenderUser,
		Type:      message.TypeText,
		Content:   content,
		SentAt:    c.clock.Now(),
	}
	c.conv.AppendOptimistic(optimistic)

	confirmed, err := c.api.SendMessage(ctx, &rest.SendMessageRequest{
		SessionID:  sessionID,
		TempID:     optimistic.TempID,
		Sender:     message.SenderUser,
		Content:    content,
		GuestName:  participant.GuestName,
		GuestEmail: participant.GuestEmail,
	})
	if err != nil {
		c.conv.Fail(optimistic.TempID)
		util.LogError(c.logger, "session", "send message", err)
		return err
	}

	// The realtime broadcast may deliver the same confirmed copy; the
	// synchronizer drops it by permanent id.
	c.conv.Apply(*confirmed)
	return nil
}

// MarkEscalated records that the backend handed this session to a human.
func (c *Controller) MarkEscalated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusActive {
		c.status = StatusEscalated
	}
}

// Close ends the conversation and leaves the realtime group. The
// persisted session id is kept so a later Start in the same browsing
// context resumes the conversation. Idempotent.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusActive && c.status != StatusEscalated {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.sessionID
	c.status = StatusClosed
	if c.reconnSub != nil {
		c.reconnSub.Off()
		c.reconnSub = nil
	}
	c.mu.Unlock()

	if _, err := c.rt.Invoke(ctx, constants.MethodLeaveSession, &JoinArgs{SessionID: sessionID}); err != nil {
		c.logger.Debug().Err(err).Msg("Leave call skipped; connection not established")
	}

	c.logger.Info().Str("session_id", sessionID).Msg("Support session closed")
	return nil
}

// SessionID returns the active session id, empty when none.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusActive || c.status == StatusEscalated {
		return c.sessionID
	}
	return ""
}

// Status returns the lifecycle phase.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Participant returns the identity bound at Start.
func (c *Controller) Participant() Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

// join subscribes the connection to the session's push group. Best
// effort: when the connection is down the reconnect handler re-joins.
func (c *Controller) join(ctx context.Context, sessionID string) {
	if _, err := c.rt.Invoke(ctx, constants.MethodJoinSession, &JoinArgs{SessionID: sessionID}); err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Join deferred until connection recovers")
	}
}

// rejoin restores push membership after a reconnection. Runs on the
// dispatch goroutine; the invoke uses a background context bounded by the
// default request timeout.
func (c *Controller) rejoin() {
	c.mu.Lock()
	active := c.status == StatusActive || c.status == StatusEscalated
	sessionID := c.sessionID
	c.mu.Unlock()

	if !active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
	defer cancel()
	c.join(ctx, sessionID)
}
