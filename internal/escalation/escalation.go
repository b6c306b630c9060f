// Package escalation decides when a conversation leaves the automated
// responder and is handed to a human agent: explicitly on the visitor's
// request, or automatically when the responder signals low confidence.
package escalation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/metrics"
	"github.com/Waito3007/SHNGear-sub002/internal/rest"
	"github.com/Waito3007/SHNGear-sub002/internal/syncer"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// handOffNotice is shown in the conversation once a hand-off succeeds.
const handOffNotice = "A human agent has been requested and will join shortly."

// Trigger labels why an escalation was raised.
const (
	TriggerManual = "manual"
	TriggerAuto   = "auto"
)

// Controller raises hand-off requests for one session. Safe for
// concurrent use.
type Controller struct {
	api    *rest.Client
	conv   *syncer.Synchronizer
	clock  clock.Clock
	logger zerolog.Logger

	mu        sync.Mutex
	escalated bool
	// lastMessageID is the AI message that already produced a successful
	// auto-escalation; redeliveries of it must not raise another one.
	lastMessageID string
	// inFlightID guards against concurrent attempts for the same message.
	inFlightID string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects a clock for deterministic notice timestamps.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// NewController creates an escalation controller. The conversation, when
// non-nil, receives a system notice on every successful hand-off.
func NewController(api *rest.Client, conv *syncer.Synchronizer, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		api:    api,
		conv:   conv,
		clock:  clock.System(),
		logger: logger.With().Str("component", "escalation").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// notifyHandOff surfaces the successful hand-off to the visitor.
func (c *Controller) notifyHandOff(sessionID string) {
	if c.conv == nil {
		return
	}
	c.conv.AppendSystem(sessionID, handOffNotice, c.clock.Now())
}

// Request raises an explicit hand-off on the visitor's behalf.
func (c *Controller) Request(ctx context.Context, sessionID, reason string) error {
	reason = strings.TrimSpace(reason)
	if len(reason) > constants.MaxReasonLength {
		return chaterrors.ErrInvalidInput(
			fmt.Sprintf("escalation reason exceeds %d characters", constants.MaxReasonLength))
	}
	if sessionID == "" {
		return chaterrors.ErrNoActiveSession()
	}
	if reason == "" {
		reason = "Customer requested human assistance"
	}

	if err := c.api.Escalate(ctx, sessionID, reason); err != nil {
		util.LogError(c.logger, "escalation", "request human hand-off", err)
		return err
	}

	c.mu.Lock()
	c.escalated = true
	c.mu.Unlock()

	c.notifyHandOff(sessionID)
	metrics.Escalations.WithLabelValues(TriggerManual).Inc()
	c.logger.Info().Str("session_id", sessionID).Str("reason", reason).Msg("Session escalated on request")
	return nil
}

// Observe evaluates one inbound message and auto-escalates when the
// automated responder reports low confidence or asks for a human.
// The hand-off call runs off the caller's goroutine; each qualifying
// message raises at most one successful escalation, and a failed attempt
// leaves the message eligible for retry on redelivery.
func (c *Controller) Observe(msg *message.Message) {
	if msg.Sender != message.SenderAI {
		return
	}
	if !msg.NeedsHuman && msg.Confidence >= constants.ConfidenceThreshold {
		return
	}

	c.mu.Lock()
	if c.escalated || msg.ID == "" || msg.ID == c.lastMessageID || msg.ID == c.inFlightID {
		c.mu.Unlock()
		return
	}
	c.inFlightID = msg.ID
	c.mu.Unlock()

	reason := fmt.Sprintf("Automated response confidence %.2f below threshold", msg.Confidence)
	if msg.NeedsHuman {
		reason = "Automated responder requested human assistance"
	}

	sessionID := msg.SessionID
	messageID := msg.ID
	util.SafeGo(c.logger, "autoEscalate", func() {
		c.autoEscalate(sessionID, messageID, reason)
	})
}

func (c *Controller) autoEscalate(sessionID, messageID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
	defer cancel()

	err := c.api.Escalate(ctx, sessionID, reason)

	c.mu.Lock()
	c.inFlightID = ""
	if err == nil {
		c.escalated = true
		c.lastMessageID = messageID
	}
	c.mu.Unlock()

	if err != nil {
		util.LogError(c.logger, "escalation", "auto escalate", err)
		return
	}

	c.notifyHandOff(sessionID)
	metrics.Escalations.WithLabelValues(TriggerAuto).Inc()
	c.logger.Info().Str("session_id", sessionID).Str("message_id", messageID).Str("reason", reason).Msg("Session auto-escalated")
}

// MarkEscalated records an externally observed hand-off (the
// session-escalated push event) so no further automatic attempts fire.
func (c *Controller) MarkEscalated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escalated = true
}

// Escalated reports whether the session has been handed to a human.
func (c *Controller) Escalated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.escalated
}
