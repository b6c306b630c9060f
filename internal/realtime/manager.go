// Package realtime owns the lifecycle of one persistent bidirectional
// connection to the support backend: handshake, request/response invokes,
// inbound event dispatch, and automatic reconnection with a fixed backoff
// schedule.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/metrics"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// State is the connection lifecycle state exposed to the presentation layer.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventHandler receives one inbound push event. Handlers run one at a time
// on the manager's dispatch goroutine; a slow handler delays every later
// event, mirroring a cooperative event loop.
type EventHandler func(*message.Event)

// StateHandler receives connection state transitions, in order.
type StateHandler func(State)

// Subscription is a registered handler; Off removes it. Off is idempotent.
type Subscription interface {
	Off()
}

// Manager establishes and supervises one realtime connection.
// All methods are safe for concurrent use.
type Manager struct {
	dialer Dialer
	clock  clock.Clock
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	connID    string
	token     string
	transport Transport
	// generation increments on every (re)established transport so a stale
	// read loop can tell it has been superseded.
	generation uint64
	// lost is closed when the current transport fails; pending invokes
	// select on it to fail fast.
	lost chan struct{}
	// stop is closed by Disconnect to cancel the reconnect loop.
	stop chan struct{}

	pending map[string]chan invokeResult

	handlerMu sync.Mutex
	nextSubID uint64
	handlers  map[string]map[uint64]EventHandler
	stateSubs map[uint64]StateHandler

	dispatch     chan dispatchItem
	dispatchOnce sync.Once
	dispatchDone chan struct{}
}

type invokeResult struct {
	data json.RawMessage
	err  error
}

// dispatchItem carries either an event or a state transition so both reach
// subscribers in one ordered stream.
type dispatchItem struct {
	event *message.Event
	state *State
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock, used by tests to drive the backoff schedule.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a connection manager using the given dialer.
func NewManager(dialer Dialer, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		dialer:       dialer,
		clock:        clock.System(),
		logger:       logger.With().Str("component", "realtime").Logger(),
		state:        StateDisconnected,
		pending:      make(map[string]chan invokeResult),
		handlers:     make(map[string]map[uint64]EventHandler),
		stateSubs:    make(map[uint64]StateHandler),
		dispatch:     make(chan dispatchItem, 512),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the server-negotiated connection id, or empty when
// not connected.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// Connect performs a single handshake attempt and starts the supervision
// loops. It does NOT retry: a failed handshake returns ErrConnectionFailed
// and leaves the manager Disconnected. The identity token, when non-empty,
// is attached to the handshake and reused for every reconnection attempt.
func (m *Manager) Connect(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return "", chaterrors.New(chaterrors.CategoryConnection, chaterrors.ErrCodeConnectionFailed,
			fmt.Sprintf("connect called while %s", state), false, nil)
	}
	m.state = StateConnecting
	m.token = token
	m.stop = make(chan struct{})
	m.mu.Unlock()

	m.startDispatcher()
	m.notifyState(StateConnecting)

	transport, connID, err := m.dialer.Dial(ctx, token)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.notifyState(StateDisconnected)
		util.LogError(m.logger, "realtime", "establish realtime connection", err)
		return "", chaterrors.ErrConnectionFailed(err)
	}

	m.mu.Lock()
	// Disconnect may have raced the handshake; the fresh transport is
	// then discarded instead of resurrecting the connection.
	if m.state != StateConnecting || m.stop == nil {
		m.mu.Unlock()
		transport.Close()
		return "", chaterrors.ErrConnectionFailed(fmt.Errorf("disconnected during handshake"))
	}
	m.transport = transport
	m.connID = connID
	m.state = StateConnected
	m.generation++
	gen := m.generation
	m.lost = make(chan struct{})
	m.mu.Unlock()

	metrics.RealtimeConnections.Inc()
	m.notifyState(StateConnected)
	m.logger.Info().Str("connection_id", connID).Msg("Realtime connection established")

	util.SafeGo(m.logger, "readLoop", func() { m.readLoop(transport, gen) })

	return connID, nil
}

// Disconnect tears down the connection and cancels any reconnection in
// progress. It is idempotent and safe to call when already disconnected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}

	m.state = StateDisconnected
	m.connID = ""
	transport := m.transport
	m.transport = nil
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.generation++
	m.mu.Unlock()

	m.failPending(chaterrors.ErrNotConnected("complete call"))

	if transport != nil {
		if err := transport.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Error closing realtime transport")
		}
		metrics.RealtimeConnections.Dec()
	}

	m.notifyState(StateDisconnected)
	m.logger.Info().Msg("Realtime connection closed")
	return nil
}

// Invoke performs a request/response call over the open connection.
// It fails fast with ErrNotConnected while the connection is anything other
// than Connected, Reconnecting included; callers re-issue after observing
// a reconnected event.
func (m *Manager) Invoke(ctx context.Context, method string, args interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil, chaterrors.ErrNotConnected(method)
	}
	transport := m.transport
	lost := m.lost

	id := uuid.NewString()
	resultCh := make(chan invokeResult, 1)
	m.pending[id] = resultCh
	m.mu.Unlock()

	argData, err := util.MarshalJSON(args)
	if err != nil {
		m.removePending(id)
		return nil, err
	}

	frame := &message.Frame{
		Kind:   message.FrameInvoke,
		ID:     id,
		Method: method,
		Args:   argData,
	}

	if err := transport.WriteFrame(frame); err != nil {
		m.removePending(id)
		return nil, chaterrors.ErrNotConnected(method)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	case <-lost:
		m.removePending(id)
		return nil, chaterrors.ErrNotConnected(method)
	case <-ctx.Done():
		m.removePending(id)
		return nil, ctx.Err()
	}
}

// On subscribes a handler to a named inbound event. Each occurrence is
// delivered at most once per registered handler.
func (m *Manager) On(event string, fn EventHandler) Subscription {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[uint64]EventHandler)
	}
	m.handlers[event][id] = fn

	return &subscription{off: func() {
		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		delete(m.handlers[event], id)
	}}
}

// OnStateChange subscribes to connection state transitions. Transitions are
// delivered in order on the dispatch goroutine.
func (m *Manager) OnStateChange(fn StateHandler) Subscription {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	m.stateSubs[id] = fn

	return &subscription{off: func() {
		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		delete(m.stateSubs, id)
	}}
}

type subscription struct {
	once sync.Once
	off  func()
}

func (s *subscription) Off() { s.once.Do(s.off) }

// readLoop consumes frames from one transport until it fails or the
// manager moves on to a newer transport generation.
func (m *Manager) readLoop(transport Transport, gen uint64) {
	for {
		frame, err := transport.ReadFrame()
		if err != nil {
			m.handleTransportLoss(gen, err)
			return
		}

		switch frame.Kind {
		case message.FrameResult:
			m.resolvePending(frame)
		case message.FrameEvent:
			ev, decodeErr := message.DecodeEvent(frame.Event, frame.Data)
			if decodeErr != nil {
				m.logger.Warn().Err(decodeErr).Str("event", frame.Event).Msg("Dropping undecodable event")
				continue
			}
			m.enqueue(dispatchItem{event: ev})
		default:
			m.logger.Warn().Str("kind", string(frame.Kind)).Msg("Dropping unexpected frame kind")
		}
	}
}

// resolvePending routes a result frame to its waiting invoke.
// Results for unknown ids are dropped: the invoke already failed over or
// timed out.
func (m *Manager) resolvePending(frame *message.Frame) {
	m.mu.Lock()
	ch, ok := m.pending[frame.ID]
	if ok {
		delete(m.pending, frame.ID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if frame.Error != "" {
		ch <- invokeResult{err: chaterrors.New(chaterrors.CategoryConnection, chaterrors.ErrCodeBackendError,
			frame.Error, true, nil)}
		return
	}
	ch <- invokeResult{data: frame.Result}
}

// handleTransportLoss transitions to Reconnecting and runs the fixed
// backoff schedule until recovery or explicit Disconnect.
func (m *Manager) handleTransportLoss(gen uint64, cause error) {
	m.mu.Lock()
	// A Disconnect or a newer transport already superseded this loop
	if m.generation != gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.transport = nil
	if m.lost != nil {
		close(m.lost)
		m.lost = nil
	}
	stop := m.stop
	token := m.token
	m.mu.Unlock()

	metrics.RealtimeConnections.Dec()
	m.failPending(chaterrors.ErrNotConnected("complete call"))
	m.notifyState(StateReconnecting)
	m.logger.Warn().Err(cause).Msg("Realtime transport lost, reconnecting")

	util.SafeGo(m.logger, "reconnectLoop", func() { m.reconnectLoop(stop, token) })
}

// reconnectLoop retries the handshake on the fixed schedule (immediate,
// 2s, 10s, 30s, then every 30s) until success or Disconnect. Retries are
// unbounded in count.
func (m *Manager) reconnectLoop(stop chan struct{}, token string) {
	for attempt := 0; ; attempt++ {
		delay := constants.ReconnectSchedule[min(attempt, len(constants.ReconnectSchedule)-1)]
		if !m.waitOrStop(delay, stop) {
			return
		}

		select {
		case <-stop:
			return
		default:
		}

		metrics.ReconnectAttempts.Inc()
		m.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("Reconnection attempt")

		transport, connID, err := m.dialer.Dial(context.Background(), token)
		if err != nil {
			m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Reconnection attempt failed")
			continue
		}

		m.mu.Lock()
		// Disconnect won the race: discard the fresh transport
		if m.state != StateReconnecting {
			m.mu.Unlock()
			transport.Close()
			return
		}
		m.transport = transport
		m.connID = connID
		m.state = StateConnected
		m.generation++
		gen := m.generation
		m.lost = make(chan struct{})
		m.mu.Unlock()

		metrics.RealtimeConnections.Inc()
		metrics.Reconnections.Inc()

		// Emit the reconnected event before resuming traffic so higher
		// layers re-join session membership first (the dispatch queue is
		// ordered, and the read loop only starts after the enqueue).
		ev := &message.Event{
			Name:        constants.EventReconnected,
			Reconnected: &message.ReconnectedEvent{ConnectionID: connID},
		}
		m.enqueue(dispatchItem{event: ev})
		m.notifyState(StateConnected)
		m.logger.Info().Str("connection_id", connID).Msg("Realtime connection recovered")

		util.SafeGo(m.logger, "readLoop", func() { m.readLoop(transport, gen) })
		return
	}
}

// waitOrStop sleeps for d on the injected clock. Returns false when stop
// closed first.
func (m *Manager) waitOrStop(d time.Duration, stop chan struct{}) bool {
	if d <= 0 {
		return true
	}

	fired := make(chan struct{})
	t := m.clock.AfterFunc(d, func() { close(fired) })
	defer t.Stop()

	select {
	case <-fired:
		return true
	case <-stop:
		return false
	}
}

// failPending errors out every in-flight invoke.
func (m *Manager) failPending(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]chan invokeResult)
	m.mu.Unlock()

	for _, ch := range pending {
		ch <- invokeResult{err: err}
	}
}

func (m *Manager) removePending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// startDispatcher launches the single goroutine that delivers events and
// state transitions to subscribers. It runs for the life of the manager.
func (m *Manager) startDispatcher() {
	m.dispatchOnce.Do(func() {
		util.SafeGo(m.logger, "dispatcher", func() {
			defer close(m.dispatchDone)
			for item := range m.dispatch {
				m.deliver(item)
			}
		})
	})
}

// Shutdown disconnects and stops the dispatch goroutine. The manager
// cannot be reused afterwards.
func (m *Manager) Shutdown() {
	m.Disconnect()
	m.startDispatcher() // ensure dispatchDone is eventually closed even if never connected
	close(m.dispatch)
	<-m.dispatchDone
}

func (m *Manager) enqueue(item dispatchItem) {
	select {
	case m.dispatch <- item:
	default:
		// The presentation layer has stalled for 512 events; dropping is
		// preferable to blocking the read loop and losing the transport.
		m.logger.Warn().Msg("Dispatch queue full, dropping item")
	}
}

func (m *Manager) notifyState(s State) {
	state := s
	m.enqueue(dispatchItem{state: &state})
}

// deliver runs one queue item through the registered handlers. A snapshot
// is taken under the lock so handlers may subscribe/unsubscribe freely.
func (m *Manager) deliver(item dispatchItem) {
	if item.state != nil {
		m.handlerMu.Lock()
		subs := make([]StateHandler, 0, len(m.stateSubs))
		for _, fn := range m.stateSubs {
			subs = append(subs, fn)
		}
		m.handlerMu.Unlock()

		for _, fn := range subs {
			fn(*item.state)
		}
		return
	}

	if item.event == nil {
		return
	}

	m.handlerMu.Lock()
	regs := m.handlers[item.event.Name]
	subs := make([]EventHandler, 0, len(regs))
	for _, fn := range regs {
		subs = append(subs, fn)
	}
	m.handlerMu.Unlock()

	for _, fn := range subs {
		fn(item.event)
	}
}
