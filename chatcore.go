// Package chatcore is the realtime support chat core of the storefront:
// the visitor-facing ChatWidget and the agent-facing AdminConsole, both
// built on one reconnecting realtime channel, a REST boundary for durable
// operations, and an optimistic conversation synchronizer.
package chatcore

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/admin"
	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/config"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/escalation"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/realtime"
	"github.com/Waito3007/SHNGear-sub002/internal/rest"
	"github.com/Waito3007/SHNGear-sub002/internal/session"
	"github.com/Waito3007/SHNGear-sub002/internal/syncer"
	"github.com/Waito3007/SHNGear-sub002/internal/typing"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// Re-exported types so embedding applications only import this package.
type (
	// Message is one conversation entry.
	Message = message.Message
	// Participant identifies the visitor side of a conversation.
	Participant = session.Participant
	// SessionSummary is one row of the agent's session listing.
	SessionSummary = rest.SessionSummary
	// ConnectionState is the realtime connection lifecycle state.
	ConnectionState = realtime.State
)

// Connection states.
const (
	StateDisconnected = realtime.StateDisconnected
	StateConnecting   = realtime.StateConnecting
	StateConnected    = realtime.StateConnected
	StateReconnecting = realtime.StateReconnecting
)

// Options configures a widget or console.
type Options struct {
	// Config is the client configuration; zero values fall back to
	// defaults.
	Config config.ClientConfig
	// LogLevel controls log verbosity, default "info".
	LogLevel string
	// LogOutput receives log lines; nil discards them.
	LogOutput io.Writer

	// clock and dialer hooks for tests.
	clock  clock.Clock
	dialer realtime.Dialer
}

func (o *Options) fill() {
	if o.Config.BackendURL == "" {
		o.Config.BackendURL = constants.DefaultBackendURL
	}
	if o.Config.PathPrefix == "" {
		o.Config.PathPrefix = constants.DefaultPathPrefix
	}
	if o.LogLevel == "" {
		o.LogLevel = constants.DefaultLogLevel
	}
	if o.LogOutput == nil {
		o.LogOutput = io.Discard
	}
	if o.clock == nil {
		o.clock = clock.System()
	}
	if o.dialer == nil {
		o.dialer = &realtime.WSDialer{
			BackendURL: o.Config.BackendURL,
			PathPrefix: o.Config.PathPrefix,
		}
	}
}

// ChatWidget is the visitor-side entry point. Open it once, send
// messages, observe the conversation, close it when the visitor leaves.
type ChatWidget struct {
	logger  zerolog.Logger
	manager *realtime.Manager
	api     *rest.Client
	conv    *syncer.Synchronizer
	typing  *typing.Coordinator
	session *session.Controller
	esc     *escalation.Controller
	subs    []realtime.Subscription

	onEscalated   func(reason string)
	onAdminJoined func(adminName string)
}

// NewChatWidget assembles a widget from options. Nothing connects until
// Open.
func NewChatWidget(opts Options) *ChatWidget {
	opts.fill()
	logger := util.NewLogger(opts.LogLevel, opts.LogOutput)

	w := &ChatWidget{logger: logger}
	w.manager = realtime.NewManager(opts.dialer, logger, realtime.WithClock(opts.clock))
	w.api = rest.NewClient(opts.Config.BackendURL, opts.Config.PathPrefix, logger,
		rest.WithTimeout(opts.Config.RequestTimeout))
	w.conv = syncer.New(logger)
	w.typing = typing.NewCoordinator(w.sendTyping, logger, typing.WithClock(opts.clock))
	w.esc = escalation.NewController(w.api, w.conv, logger, escalation.WithClock(opts.clock))

	var store session.Store
	if opts.Config.SessionFile != "" {
		store = session.NewFileStore(opts.Config.SessionFile)
	}
	w.session = session.NewController(w.manager, w.api, w.conv, store, logger,
		session.WithClock(opts.clock))
	return w
}

// Open connects the realtime channel and starts (or resumes) the
// participant's session. The returned id is the durable session id.
func (w *ChatWidget) Open(ctx context.Context, p Participant) (string, error) {
	if _, err := w.manager.Connect(ctx, p.Token); err != nil {
		return "", err
	}

	w.subs = []realtime.Subscription{
		w.manager.On(constants.EventMessageReceived, w.handleMessage),
		w.manager.On(constants.EventTypingIndicator, w.handleTyping),
		w.manager.On(constants.EventSessionEscalated, w.handleEscalated),
		w.manager.On(constants.EventAdminJoined, w.handleAdminJoined),
	}

	sessionID, err := w.session.Start(ctx, p)
	if err != nil {
		w.manager.Disconnect()
		return "", err
	}
	return sessionID, nil
}

// Send delivers one visitor message. It appears in the conversation
// immediately; on failure the entry becomes a failure notice and the
// error is returned for the retry affordance.
func (w *ChatWidget) Send(ctx context.Context, content string) error {
	return w.session.Send(ctx, content)
}

// NotifyTyping records local keystroke activity; outbound signals are
// coalesced to one per window.
func (w *ChatWidget) NotifyTyping() {
	w.typing.NotifyTyping()
}

// RequestHuman asks for a human agent on the visitor's behalf.
func (w *ChatWidget) RequestHuman(ctx context.Context, reason string) error {
	sessionID := w.session.SessionID()
	if sessionID == "" {
		return nil
	}
	return w.esc.Request(ctx, sessionID, reason)
}

// Messages returns the conversation in display order.
func (w *ChatWidget) Messages() []Message {
	return w.conv.Snapshot()
}

// CounterpartTyping reports whether the support side is composing.
func (w *ChatWidget) CounterpartTyping() bool {
	return w.typing.RemoteTyping(message.SenderAdmin) || w.typing.RemoteTyping(message.SenderAI)
}

// ConnectionState returns the realtime channel state.
func (w *ChatWidget) ConnectionState() ConnectionState {
	return w.manager.State()
}

// OnMessages registers the conversation observer.
func (w *ChatWidget) OnMessages(fn func(messages []Message)) {
	w.conv.OnChange(fn)
}

// OnTyping registers the counterpart composing observer.
func (w *ChatWidget) OnTyping(fn func(typing bool)) {
	w.typing.OnRemote(func(_ message.SenderRole, active bool) { fn(active) })
}

// OnConnectionState registers the connection state observer.
func (w *ChatWidget) OnConnectionState(fn func(state ConnectionState)) {
	w.subs = append(w.subs, w.manager.OnStateChange(fn))
}

// OnEscalated registers the hand-off observer.
func (w *ChatWidget) OnEscalated(fn func(reason string)) {
	w.onEscalated = fn
}

// OnAdminJoined registers the agent-arrival observer.
func (w *ChatWidget) OnAdminJoined(fn func(adminName string)) {
	w.onAdminJoined = fn
}

// Close ends the session and tears down the connection. Idempotent.
func (w *ChatWidget) Close(ctx context.Context) error {
	w.typing.Close()
	for _, sub := range w.subs {
		sub.Off()
	}
	w.subs = nil

	err := w.session.Close(ctx)
	w.manager.Shutdown()
	return err
}

func (w *ChatWidget) handleMessage(ev *message.Event) {
	msg := ev.MessageReceived
	if msg == nil || msg.SessionID != w.session.SessionID() {
		return
	}
	// A message from the counterpart supersedes their typing indicator.
	w.typing.HandleRemote(&message.TypingState{SessionID: msg.SessionID, Sender: msg.Sender, Typing: false})
	w.conv.Apply(*msg)
	w.esc.Observe(msg)
}

func (w *ChatWidget) handleTyping(ev *message.Event) {
	state := ev.TypingIndicator
	if state == nil || state.SessionID != w.session.SessionID() {
		return
	}
	w.typing.HandleRemote(state)
}

func (w *ChatWidget) handleEscalated(ev *message.Event) {
	esc := ev.SessionEscalated
	if esc == nil || esc.SessionID != w.session.SessionID() {
		return
	}
	w.session.MarkEscalated()
	w.esc.MarkEscalated()
	if w.onEscalated != nil {
		w.onEscalated(esc.Reason)
	}
}

func (w *ChatWidget) handleAdminJoined(ev *message.Event) {
	joined := ev.AdminJoined
	if joined == nil || joined.SessionID != w.session.SessionID() {
		return
	}
	if w.onAdminJoined != nil {
		w.onAdminJoined(joined.AdminName)
	}
}

// sendTyping transmits one typing signal, fire and forget.
func (w *ChatWidget) sendTyping(active bool) {
	sessionID := w.session.SessionID()
	if sessionID == "" {
		return
	}

	util.SafeGo(w.logger, "sendTyping", func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
		defer cancel()
		args := map[string]interface{}{
			"session_id": sessionID,
			"sender":     message.SenderUser,
			"typing":     active,
		}
		if _, err := w.manager.Invoke(ctx, constants.MethodSendTyping, args); err != nil {
			w.logger.Debug().Err(err).Msg("Typing signal dropped")
		}
	})
}

// AdminConsole is the agent-side entry point: a live session registry
// plus one focused conversation at a time.
type AdminConsole struct {
	logger  zerolog.Logger
	manager *realtime.Manager
	api     *rest.Client
	router  *admin.Router
	typing  *typing.Coordinator
	token   string
	subs    []realtime.Subscription
}

// NewAdminConsole assembles a console for the given agent bearer token.
func NewAdminConsole(token string, opts Options) *AdminConsole {
	opts.fill()
	logger := util.NewLogger(opts.LogLevel, opts.LogOutput)

	c := &AdminConsole{logger: logger, token: token}
	c.manager = realtime.NewManager(opts.dialer, logger, realtime.WithClock(opts.clock))
	c.api = rest.NewClient(opts.Config.BackendURL, opts.Config.PathPrefix, logger,
		rest.WithTimeout(opts.Config.RequestTimeout),
		rest.WithToken(token))
	c.router = admin.NewRouter(c.manager, c.api, logger,
		admin.WithClock(opts.clock),
		admin.WithRefreshInterval(opts.Config.RefreshInterval))
	c.typing = typing.NewCoordinator(c.sendTyping, logger, typing.WithClock(opts.clock))
	return c
}

// Open connects the realtime channel and starts tracking active sessions.
func (c *AdminConsole) Open(ctx context.Context) error {
	if _, err := c.manager.Connect(ctx, c.token); err != nil {
		return err
	}

	c.subs = []realtime.Subscription{
		c.manager.On(constants.EventTypingIndicator, c.handleTyping),
	}

	if err := c.router.Start(ctx); err != nil {
		c.manager.Disconnect()
		return err
	}
	return nil
}

// Sessions returns the tracked sessions in first-seen order.
func (c *AdminConsole) Sessions() []SessionSummary {
	return c.router.Sessions()
}

// Select focuses one session: its push group is joined (leaving the
// previous one) and its transcript loaded on first visit.
func (c *AdminConsole) Select(ctx context.Context, sessionID string) error {
	return c.router.Select(ctx, sessionID)
}

// Selected returns the focused session id, empty when none.
func (c *AdminConsole) Selected() string {
	return c.router.Selected()
}

// Messages returns the focused session's conversation, empty when none.
func (c *AdminConsole) Messages() []Message {
	conv := c.router.Conversation(c.router.Selected())
	if conv == nil {
		return nil
	}
	return conv.Snapshot()
}

// Send delivers one agent message to the focused session.
func (c *AdminConsole) Send(ctx context.Context, content string) error {
	return c.router.Send(ctx, content)
}

// NotifyTyping records agent keystroke activity for the focused session.
func (c *AdminConsole) NotifyTyping() {
	c.typing.NotifyTyping()
}

// OnSessions registers the registry observer.
func (c *AdminConsole) OnSessions(fn func(sessions []SessionSummary)) {
	c.router.OnUpdate(fn)
}

// OnVisitorTyping registers the visitor composing observer.
func (c *AdminConsole) OnVisitorTyping(fn func(typing bool)) {
	c.typing.OnRemote(func(_ message.SenderRole, active bool) { fn(active) })
}

// OnConnectionState registers the connection state observer.
func (c *AdminConsole) OnConnectionState(fn func(state ConnectionState)) {
	c.subs = append(c.subs, c.manager.OnStateChange(fn))
}

// ConnectionState returns the realtime channel state.
func (c *AdminConsole) ConnectionState() ConnectionState {
	return c.manager.State()
}

// Close stops tracking and tears down the connection.
func (c *AdminConsole) Close() error {
	c.typing.Close()
	c.router.Stop()
	for _, sub := range c.subs {
		sub.Off()
	}
	c.subs = nil
	c.manager.Shutdown()
	return nil
}

func (c *AdminConsole) handleTyping(ev *message.Event) {
	state := ev.TypingIndicator
	if state == nil || state.SessionID != c.router.Selected() {
		return
	}
	c.typing.HandleRemote(state)
}

func (c *AdminConsole) sendTyping(active bool) {
	sessionID := c.router.Selected()
	if sessionID == "" {
		return
	}

	util.SafeGo(c.logger, "sendTyping", func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
		defer cancel()
		args := map[string]interface{}{
			"session_id": sessionID,
			"sender":     message.SenderAdmin,
			"typing":     active,
		}
		if _, err := c.manager.Invoke(ctx, constants.MethodSendTyping, args); err != nil {
			c.logger.Debug().Err(err).Msg("Typing signal dropped")
		}
	})
}
