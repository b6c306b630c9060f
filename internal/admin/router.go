// Package admin powers the agent console: a live registry of active
// support sessions, one conversation view per session, and message
// delivery on the agent's behalf.
package admin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/metrics"
	"github.com/Waito3007/SHNGear-sub002/internal/realtime"
	"github.com/Waito3007/SHNGear-sub002/internal/rest"
	"github.com/Waito3007/SHNGear-sub002/internal/session"
	"github.com/Waito3007/SHNGear-sub002/internal/syncer"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// UpdateHandler observes changes to the session registry.
type UpdateHandler func(sessions []rest.SessionSummary)

// Router tracks active support sessions for one agent. The registry keeps
// first-seen order: refreshes update rows in place and append newcomers
// at the end, so the agent's list never reshuffles underneath them.
// Safe for concurrent use.
type Router struct {
	rt      session.Realtime
	api     *rest.Client
	clock   clock.Clock
	refresh time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	entries  []*entry
	index    map[string]*entry
	selected string
	started  bool
	stop     chan struct{}
	subs     []realtime.Subscription
	onUpdate UpdateHandler
}

// entry is one tracked session. The conversation synchronizer survives
// refreshes; only the summary row is overwritten.
type entry struct {
	summary       rest.SessionSummary
	conv          *syncer.Synchronizer
	historyLoaded bool
}

// Option configures a Router.
type Option func(*Router)

// WithClock injects a clock, used by tests to drive the refresh ticker.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithRefreshInterval overrides the periodic listing cadence. Zero or
// negative values keep the default.
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.refresh = d
		}
	}
}

// NewRouter creates an admin session router. The REST client must carry
// an agent bearer token.
func NewRouter(rt session.Realtime, api *rest.Client, logger zerolog.Logger, opts ...Option) *Router {
	r := &Router{
		rt:      rt,
		api:     api,
		clock:   clock.System(),
		refresh: constants.SessionRefreshInterval,
		logger:  logger.With().Str("component", "admin").Logger(),
		index:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnUpdate registers the registry observer.
func (r *Router) OnUpdate(fn UpdateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

// Start performs the initial listing, subscribes to push events and
// begins the periodic refresh.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.stop = make(chan struct{})
	r.mu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		return err
	}

	r.subs = []realtime.Subscription{
		r.rt.On(constants.EventMessageReceived, r.handleMessage),
		r.rt.On(constants.EventSessionEscalated, r.handleEscalated),
		r.rt.On(constants.EventReconnected, func(*message.Event) { r.rejoinSelected() }),
	}

	util.SafeGo(r.logger, "refreshLoop", r.refreshLoop)
	return nil
}

// Stop halts the refresh loop and unsubscribes from push events.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stop)
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Off()
	}
}

func (r *Router) refreshLoop() {
	ticker := r.clock.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Session refresh failed; keeping previous listing")
			}
			cancel()
		case <-r.stop:
			return
		}
	}
}

// Refresh reconciles the registry with the backend listing. Known rows
// are updated in place, new sessions are appended, and sessions gone from
// the listing are dropped unless currently selected.
func (r *Router) Refresh(ctx context.Context) error {
	listed, err := r.api.ActiveSessions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	live := make(map[string]struct{}, len(listed))
	for _, summary := range listed {
		live[summary.SessionID] = struct{}{}
		if e, ok := r.index[summary.SessionID]; ok {
			e.summary = summary
			continue
		}
		e := &entry{summary: summary, conv: syncer.New(r.logger)}
		r.index[summary.SessionID] = e
		r.entries = append(r.entries, e)
	}

	kept := r.entries[:0]
	for _, e := range r.entries {
		_, stillLive := live[e.summary.SessionID]
		if stillLive || e.summary.SessionID == r.selected {
			kept = append(kept, e)
			continue
		}
		delete(r.index, e.summary.SessionID)
	}
	r.entries = kept

	metrics.TrackedAdminSessions.Set(float64(len(r.entries)))
	snapshot, fn := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot, fn)
	return nil
}

// Sessions returns the registry rows in first-seen order.
func (r *Router) Sessions() []rest.SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot, _ := r.snapshotLocked()
	if snapshot == nil {
		snapshot = make([]rest.SessionSummary, 0, len(r.entries))
		for _, e := range r.entries {
			snapshot = append(snapshot, e.summary)
		}
	}
	return snapshot
}

// Select makes one session the agent's focus: the previously selected
// push group is left, the new one joined, and its persisted transcript
// loaded on first visit.
func (r *Router) Select(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	e, ok := r.index[sessionID]
	if !ok {
		r.mu.Unlock()
		return chaterrors.ErrInvalidInput(fmt.Sprintf("unknown session %q", sessionID))
	}
	previous := r.selected
	if previous == sessionID {
		r.mu.Unlock()
		return nil
	}
	r.selected = sessionID
	needHistory := !e.historyLoaded
	r.mu.Unlock()

	if previous != "" {
		if _, err := r.rt.Invoke(ctx, constants.MethodLeaveSession, &session.JoinArgs{SessionID: previous}); err != nil {
			r.logger.Debug().Err(err).Str("session_id", previous).Msg("Leave call skipped")
		}
	}
	if _, err := r.rt.Invoke(ctx, constants.MethodJoinSession, &session.JoinArgs{SessionID: sessionID}); err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Join deferred until connection recovers")
	}

	if needHistory {
		history, err := r.api.SessionMessages(ctx, sessionID)
		if err != nil {
			return err
		}
		r.mu.Lock()
		e.conv.Seed(history)
		e.historyLoaded = true
		r.mu.Unlock()
	}

	r.logger.Info().Str("session_id", sessionID).Msg("Session selected")
	return nil
}

// Selected returns the focused session id, empty when none.
func (r *Router) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Conversation returns the synchronizer of a tracked session, nil when
// the session is unknown.
func (r *Router) Conversation(sessionID string) *syncer.Synchronizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.index[sessionID]; ok {
		return e.conv
	}
	return nil
}

// Send delivers one agent message to the selected session, optimistically
// shown in its conversation.
func (r *Router) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return chaterrors.ErrInvalidInput("message content is empty")
	}

	r.mu.Lock()
	sessionID := r.selected
	e := r.index[sessionID]
	r.mu.Unlock()

	if sessionID == "" || e == nil {
		return chaterrors.ErrNoActiveSession()
	}

	optimistic := message.Message{
		TempID:    uuid.NewString(),
		SessionID: sessionID,
		Sender:    message.SenderAdmin,
		Type:      message.TypeText,
		Content:   content,
		SentAt:    r.clock.Now(),
	}
	e.conv.AppendOptimistic(optimistic)

	confirmed, err := r.api.SendMessage(ctx, &rest.SendMessageRequest{
		SessionID: sessionID,
		TempID:    optimistic.TempID,
		Sender:    message.SenderAdmin,
		Content:   content,
	})
	if err != nil {
		e.conv.Fail(optimistic.TempID)
		util.LogError(r.logger, "admin", "send message", err)
		return err
	}

	e.conv.Apply(*confirmed)
	return nil
}

// handleMessage routes an inbound push to the conversation it belongs
// to. Pushes arrive only for the selected session's group, but a refresh
// race may deliver for a just-deselected one; those still route if the
// session is tracked, and drop otherwise.
func (r *Router) handleMessage(ev *message.Event) {
	msg := ev.MessageReceived
	if msg == nil {
		return
	}

	r.mu.Lock()
	e := r.index[msg.SessionID]
	if e != nil {
		e.summary.LastMessage = msg.Content
		e.summary.LastActivity = msg.SentAt
	}
	snapshot, fn := r.snapshotLocked()
	r.mu.Unlock()

	if e == nil {
		return
	}
	e.conv.Apply(*msg)
	r.notify(snapshot, fn)
}

func (r *Router) handleEscalated(ev *message.Event) {
	esc := ev.SessionEscalated
	if esc == nil {
		return
	}

	r.mu.Lock()
	if e, ok := r.index[esc.SessionID]; ok {
		e.summary.Escalated = true
	}
	snapshot, fn := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot, fn)
}

// rejoinSelected restores push membership after a reconnection. Only the
// selected session is rejoined; the registry itself is REST-fed.
func (r *Router) rejoinSelected() {
	r.mu.Lock()
	sessionID := r.selected
	r.mu.Unlock()

	if sessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
	defer cancel()
	if _, err := r.rt.Invoke(ctx, constants.MethodJoinSession, &session.JoinArgs{SessionID: sessionID}); err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Rejoin deferred until connection recovers")
	}
}

func (r *Router) snapshotLocked() ([]rest.SessionSummary, UpdateHandler) {
	if r.onUpdate == nil {
		return nil, nil
	}
	out := make([]rest.SessionSummary, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.summary)
	}
	return out, r.onUpdate
}

func (r *Router) notify(snapshot []rest.SessionSummary, fn UpdateHandler) {
	if fn != nil {
		fn(snapshot)
	}
}
