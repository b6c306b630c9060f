// Package typing coordinates composing indicators in both directions:
// outbound signals are coalesced so fast keystrokes cost one frame per
// window, and inbound indicators auto-expire when the counterpart's
// stop signal is lost.
package typing

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/metrics"
)

// SendFunc transmits one typing signal. It is fire-and-forget: delivery
// failures are logged, never surfaced, and never retried.
type SendFunc func(typing bool)

// RemoteHandler observes inbound indicator transitions for a counterpart.
type RemoteHandler func(sender message.SenderRole, typing bool)

// Coordinator manages the typing state of one session. Safe for
// concurrent use.
type Coordinator struct {
	clock  clock.Clock
	logger zerolog.Logger
	send   SendFunc

	mu        sync.Mutex
	lastSent  time.Time
	active    bool
	idleTimer clock.Timer

	remote   map[message.SenderRole]*remoteState
	onRemote RemoteHandler
	closed   bool
}

type remoteState struct {
	typing bool
	expiry clock.Timer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects a clock, used by tests to drive window expiry.
func WithClock(c clock.Clock) Option {
	return func(t *Coordinator) { t.clock = c }
}

// NewCoordinator creates a typing coordinator sending outbound signals
// through send.
func NewCoordinator(send SendFunc, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		clock:  clock.System(),
		logger: logger.With().Str("component", "typing").Logger(),
		send:   send,
		remote: make(map[message.SenderRole]*remoteState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnRemote registers the observer for inbound indicator transitions.
// Only transitions are reported; refreshes inside the window are silent.
func (c *Coordinator) OnRemote(fn RemoteHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemote = fn
}

// NotifyTyping records local keystroke activity. At most one start signal
// goes out per window; a stop signal follows automatically once activity
// ceases for a full window.
func (c *Coordinator) NotifyTyping() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	now := c.clock.Now()
	shouldSend := !c.active || now.Sub(c.lastSent) >= constants.TypingWindow
	if shouldSend {
		c.lastSent = now
		c.active = true
	}

	// Every keystroke pushes the stop signal out by a full window.
	if c.idleTimer == nil {
		c.idleTimer = c.clock.AfterFunc(constants.TypingWindow, c.idleExpired)
	} else {
		c.idleTimer.Reset(constants.TypingWindow)
	}
	c.mu.Unlock()

	if shouldSend {
		metrics.TypingSignalsSent.Inc()
		c.send(true)
	}
}

// idleExpired fires when a full window passed with no local activity.
func (c *Coordinator) idleExpired() {
	c.mu.Lock()
	if c.closed || !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.lastSent = time.Time{}
	c.mu.Unlock()

	c.send(false)
}

// HandleRemote applies one inbound indicator. A start arms (or re-arms)
// the expiry window; a stop clears immediately. Indicators for an unknown
// counterpart create its entry on first use.
func (c *Coordinator) HandleRemote(state *message.TypingState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	rs := c.remote[state.Sender]
	if rs == nil {
		rs = &remoteState{}
		c.remote[state.Sender] = rs
	}

	changed := rs.typing != state.Typing
	rs.typing = state.Typing

	if state.Typing {
		sender := state.Sender
		if rs.expiry == nil {
			rs.expiry = c.clock.AfterFunc(constants.TypingWindow, func() { c.remoteExpired(sender) })
		} else {
			rs.expiry.Reset(constants.TypingWindow)
		}
	} else if rs.expiry != nil {
		rs.expiry.Stop()
	}

	fn := c.onRemote
	c.mu.Unlock()

	if changed && fn != nil {
		fn(state.Sender, state.Typing)
	}
}

// remoteExpired clears a counterpart's indicator after a window with no
// refresh. Covers lost stop signals.
func (c *Coordinator) remoteExpired(sender message.SenderRole) {
	c.mu.Lock()
	rs := c.remote[sender]
	if c.closed || rs == nil || !rs.typing {
		c.mu.Unlock()
		return
	}
	rs.typing = false
	fn := c.onRemote
	c.mu.Unlock()

	c.logger.Debug().Str("sender", string(sender)).Msg("Remote typing indicator expired")
	if fn != nil {
		fn(sender, false)
	}
}

// RemoteTyping reports whether the given counterpart is currently shown
// as composing.
func (c *Coordinator) RemoteTyping(sender message.SenderRole) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs := c.remote[sender]
	return rs != nil && rs.typing
}

// Close stops all timers and, when a start signal is outstanding, sends a
// final stop so the counterpart's view does not linger until expiry.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasActive := c.active
	c.active = false
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	for _, rs := range c.remote {
		if rs.expiry != nil {
			rs.expiry.Stop()
		}
	}
	c.mu.Unlock()

	if wasActive {
		c.send(false)
	}
}
