// Package testutil provides shared helpers for the chat core test
// suites: a quiet logger, a scriptable realtime stub and an in-process
// backend server.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/backend"
	"github.com/Waito3007/SHNGear-sub002/internal/config"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/realtime"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// TestJWTSecret satisfies the server's secret policy for tests.
const TestJWTSecret = "kU3xq9ZmPf2vR8wN4tYh6bJc1sLd5gQa0eVi7oXn"

// Logger returns a silenced logger for tests.
func Logger() zerolog.Logger {
	return util.NewLogger("disabled", io.Discard)
}

// AgentToken mints a valid agent bearer token for the test backend.
func AgentToken(t *testing.T, userID, name string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"user_id": userID,
		"name":    name,
		"roles":   []string{constants.RoleChatAgent},
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(TestJWTSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

// BackendServer is an in-process support backend for integration-style
// tests.
type BackendServer struct {
	Server  *httptest.Server
	Store   *backend.Store
	Service *backend.Service
	Hub     *backend.Hub
}

// StartBackend boots the reference backend on an ephemeral port. The
// server is torn down with the test.
func StartBackend(t *testing.T, opts ...backend.ServiceOption) *BackendServer {
	t.Helper()

	logger := Logger()
	store := backend.NewStore()
	hub := backend.NewHub(logger)
	service := backend.NewService(store, hub, logger, opts...)
	router := backend.NewRouter(service, hub, config.ServerConfig{
		JWTSecret:  TestJWTSecret,
		PathPrefix: constants.DefaultPathPrefix,
	}, logger)

	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)

	return &BackendServer{Server: srv, Store: store, Service: service, Hub: hub}
}

// URL returns the backend base URL.
func (b *BackendServer) URL() string {
	return b.Server.URL
}

// StubRealtime is a scriptable implementation of the realtime surface the
// session controller and admin router depend on. Invokes are recorded;
// events fire synchronously on the test goroutine.
type StubRealtime struct {
	mu        sync.Mutex
	state     realtime.State
	invokes   []StubInvoke
	failWith  error
	nextSubID uint64
	handlers  map[string]map[uint64]realtime.EventHandler
}

// StubInvoke is one recorded Invoke call.
type StubInvoke struct {
	Method string
	Args   json.RawMessage
}

// NewStubRealtime creates a stub in the Connected state.
func NewStubRealtime() *StubRealtime {
	return &StubRealtime{
		state:    realtime.StateConnected,
		handlers: make(map[string]map[uint64]realtime.EventHandler),
	}
}

// SetState changes the reported connection state.
func (s *StubRealtime) SetState(state realtime.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// FailInvokesWith makes every subsequent Invoke return err. Pass nil to
// restore normal behavior.
func (s *StubRealtime) FailInvokesWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Invokes returns the recorded calls for a method, all methods when
// method is empty.
func (s *StubRealtime) Invokes(method string) []StubInvoke {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubInvoke, 0, len(s.invokes))
	for _, inv := range s.invokes {
		if method == "" || inv.Method == method {
			out = append(out, inv)
		}
	}
	return out
}

// Fire delivers an event to every subscribed handler.
func (s *StubRealtime) Fire(ev *message.Event) {
	s.mu.Lock()
	regs := s.handlers[ev.Name]
	fns := make([]realtime.EventHandler, 0, len(regs))
	for _, fn := range regs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *StubRealtime) Invoke(_ context.Context, method string, args interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != realtime.StateConnected {
		return nil, chaterrors.ErrNotConnected(method)
	}
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.invokes = append(s.invokes, StubInvoke{Method: method, Args: data})
	return nil, nil
}

func (s *StubRealtime) On(event string, fn realtime.EventHandler) realtime.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]realtime.EventHandler)
	}
	s.handlers[event][id] = fn

	return &stubSubscription{off: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}}
}

func (s *StubRealtime) State() realtime.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type stubSubscription struct {
	once sync.Once
	off  func()
}

func (s *stubSubscription) Off() { s.once.Do(s.off) }
