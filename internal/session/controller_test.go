package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waito3007/SHNGear-sub002/internal/backend"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/realtime"
	"github.com/Waito3007/SHNGear-sub002/internal/rest"
	"github.com/Waito3007/SHNGear-sub002/internal/syncer"
	"github.com/Waito3007/SHNGear-sub002/internal/testutil"
)

type controllerFixture struct {
	ctrl    *Controller
	rt      *testutil.StubRealtime
	conv    *syncer.Synchronizer
	store   Store
	backend *testutil.BackendServer
}

func newControllerFixture(t *testing.T, store Store) *controllerFixture {
	t.Helper()

	// The responder is disabled so tests control every message.
	b := testutil.StartBackend(t, backend.WithoutResponder())
	logger := testutil.Logger()
	rt := testutil.NewStubRealtime()
	conv := syncer.New(logger)
	api := rest.NewClient(b.URL(), constants.DefaultPathPrefix, logger)
	if store == nil {
		store = NewMemoryStore()
	}
	ctrl := NewController(rt, api, conv, store, logger)

	return &controllerFixture{ctrl: ctrl, rt: rt, conv: conv, store: store, backend: b}
}

func TestStartCreatesAndJoinsSession(t *testing.T) {
	f := newControllerFixture(t, nil)

	sessionID, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, StatusActive, f.ctrl.Status())
	assert.Equal(t, sessionID, f.ctrl.SessionID())

	joins := f.rt.Invokes(constants.MethodJoinSession)
	require.Len(t, joins, 1)

	saved, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, sessionID, saved.SessionID)
}

func TestStartIsIdempotentForSameParticipant(t *testing.T) {
	f := newControllerFixture(t, nil)

	first, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	second, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.backend.Store.Active(), 1, "no second durable session may be created")
}

func TestStartRejectsDifferentParticipantWhileActive(t *testing.T) {
	f := newControllerFixture(t, nil)

	_, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)

	_, err = f.ctrl.Start(context.Background(), Participant{GuestName: "Riley"})
	require.Error(t, err)

	var chatErr *chaterrors.ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chaterrors.ErrCodeInvalidInput, chatErr.Code)
}

func TestStartResumesSavedSession(t *testing.T) {
	store := NewMemoryStore()
	f := newControllerFixture(t, store)

	first, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Send(context.Background(), "where is my order?"))

	// A fresh controller with the same store resumes, not recreates, and
	// seeds the conversation with the persisted transcript.
	logger := testutil.Logger()
	api := rest.NewClient(f.backend.URL(), constants.DefaultPathPrefix, logger)
	conv := syncer.New(logger)
	again := NewController(testutil.NewStubRealtime(), api, conv, store, logger)

	resumed, err := again.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, first, resumed)
	assert.Len(t, f.backend.Store.Active(), 1)

	history := conv.Snapshot()
	require.Len(t, history, 1)
	assert.Equal(t, "where is my order?", history[0].Content)
}

func TestStartFallsBackWhenSavedSessionUnknown(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(&SavedSession{SessionID: "gone", GuestName: "Dana"}))
	f := newControllerFixture(t, store)

	sessionID, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	assert.NotEqual(t, "gone", sessionID, "a stale id must not be resurrected")

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sessionID, saved.SessionID)
}

func TestStartDoesNotResumeDifferentGuest(t *testing.T) {
	store := NewMemoryStore()
	f := newControllerFixture(t, store)

	first, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana", GuestEmail: "dana@example.com"})
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Close(context.Background()))

	logger := testutil.Logger()
	api := rest.NewClient(f.backend.URL(), constants.DefaultPathPrefix, logger)
	other := NewController(testutil.NewStubRealtime(), api, syncer.New(logger), store, logger)

	second, err := other.Start(context.Background(), Participant{GuestName: "Riley", GuestEmail: "riley@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "a different guest gets a fresh session")
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	f := newControllerFixture(t, nil)

	_, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Send(context.Background(), "where is my order?"))

	snapshot := f.conv.Snapshot()
	require.Len(t, snapshot, 1)
	assert.False(t, snapshot[0].Temporary, "REST confirmation must replace the optimistic entry")
	assert.NotEmpty(t, snapshot[0].ID)
	assert.Equal(t, "where is my order?", snapshot[0].Content)
	assert.Equal(t, message.SenderUser, snapshot[0].Sender)
}

func TestSendValidation(t *testing.T) {
	f := newControllerFixture(t, nil)

	err := f.ctrl.Send(context.Background(), "hello")
	var chatErr *chaterrors.ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chaterrors.ErrCodeNoActiveSession, chatErr.Code)

	_, err = f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)

	err = f.ctrl.Send(context.Background(), "   ")
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chaterrors.ErrCodeInvalidInput, chatErr.Code)
}

func TestSendWhileDisconnectedRejects(t *testing.T) {
	f := newControllerFixture(t, nil)

	_, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)

	f.rt.SetState(realtime.StateDisconnected)

	err = f.ctrl.Send(context.Background(), "Xin chào")
	var chatErr *chaterrors.ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chaterrors.ErrCodeNotConnected, chatErr.Code)
	assert.True(t, chatErr.Recoverable)
	assert.Empty(t, f.conv.Snapshot(), "nothing may be appended while offline")

	// Recovery makes the same draft deliverable.
	f.rt.SetState(realtime.StateConnected)
	require.NoError(t, f.ctrl.Send(context.Background(), "Xin chào"))
	require.Len(t, f.conv.Snapshot(), 1)
}

func TestSendFailureLeavesNotice(t *testing.T) {
	f := newControllerFixture(t, nil)

	_, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)

	// Kill the backend so delivery fails.
	f.backend.Server.Close()

	err = f.ctrl.Send(context.Background(), "lost message")
	require.Error(t, err)

	var chatErr *chaterrors.ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chaterrors.ErrCodeSendFailed, chatErr.Code)
	assert.True(t, chatErr.Recoverable)

	snapshot := f.conv.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, message.SenderSystem, snapshot[0].Sender, "failed send becomes a local notice")
}

func TestCloseLeavesAndKeepsSavedSession(t *testing.T) {
	f := newControllerFixture(t, nil)

	sessionID, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Close(context.Background()))

	assert.Equal(t, StatusClosed, f.ctrl.Status())
	assert.Empty(t, f.ctrl.SessionID())

	leaves := f.rt.Invokes(constants.MethodLeaveSession)
	require.Len(t, leaves, 1)

	// The persisted id survives Close so the conversation can resume.
	saved, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, sessionID, saved.SessionID)

	// Close again is a no-op.
	require.NoError(t, f.ctrl.Close(context.Background()))
	assert.Len(t, f.rt.Invokes(constants.MethodLeaveSession), 1)

	// A later Start in the same browsing context resumes the conversation.
	next, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, sessionID, next)
}

func TestReconnectRejoinsActiveSession(t *testing.T) {
	f := newControllerFixture(t, nil)

	sessionID, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)
	require.Len(t, f.rt.Invokes(constants.MethodJoinSession), 1)

	f.rt.Fire(&message.Event{
		Name:        constants.EventReconnected,
		Reconnected: &message.ReconnectedEvent{ConnectionID: "conn-2"},
	})

	joins := f.rt.Invokes(constants.MethodJoinSession)
	require.Len(t, joins, 2, "recovery must rejoin the active session")
	assert.Contains(t, string(joins[1].Args), sessionID)

	// Reconnects after Close do nothing.
	require.NoError(t, f.ctrl.Close(context.Background()))
	f.rt.Fire(&message.Event{
		Name:        constants.EventReconnected,
		Reconnected: &message.ReconnectedEvent{ConnectionID: "conn-3"},
	})
	assert.Len(t, f.rt.Invokes(constants.MethodJoinSession), 2)
}

func TestMarkEscalatedKeepsSendingEnabled(t *testing.T) {
	f := newControllerFixture(t, nil)

	_, err := f.ctrl.Start(context.Background(), Participant{GuestName: "Dana"})
	require.NoError(t, err)

	f.ctrl.MarkEscalated()
	assert.Equal(t, StatusEscalated, f.ctrl.Status())
	assert.NoError(t, f.ctrl.Send(context.Background(), "still here"))
}

func TestParticipantIdentityImmutable(t *testing.T) {
	f := newControllerFixture(t, nil)

	p := Participant{GuestName: "Dana"}
	_, err := f.ctrl.Start(context.Background(), p)
	require.NoError(t, err)

	got := f.ctrl.Participant()
	assert.Equal(t, "Dana", got.DisplayName())

	// Identity on the controller never changes after Start.
	require.NoError(t, f.ctrl.Send(context.Background(), "hi"))
	assert.Equal(t, "Dana", f.ctrl.Participant().DisplayName())
}

func TestParticipantValidation(t *testing.T) {
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}

	err := Participant{GuestName: string(long)}.Validate()
	require.Error(t, err)

	err = Participant{UserID: "u-1"}.Validate()
	require.Error(t, err, "authenticated identity requires a token")

	err = Participant{GuestName: "Dana", GuestEmail: "not-an-address"}.Validate()
	require.Error(t, err, "email without @ is rejected")

	longEmail := make([]byte, 250)
	for i := range longEmail {
		longEmail[i] = 'a'
	}
	err = Participant{GuestEmail: string(longEmail) + "@example.com"}.Validate()
	require.Error(t, err)

	assert.NoError(t, Participant{GuestName: "Dana"}.Validate())
	assert.NoError(t, Participant{GuestName: "Dana", GuestEmail: "dana@example.com"}.Validate())
	assert.NoError(t, Participant{UserID: "u-1", Token: "tok"}.Validate())
}

func TestParticipantSameComparesGuestContact(t *testing.T) {
	dana := Participant{GuestName: "Dana", GuestEmail: "dana@example.com"}

	assert.True(t, dana.Same(Participant{GuestName: "Dana", GuestEmail: "dana@example.com"}))
	assert.False(t, dana.Same(Participant{GuestName: "Dana", GuestEmail: "other@example.com"}))
	assert.False(t, dana.Same(Participant{GuestName: "Riley", GuestEmail: "dana@example.com"}))

	// Authenticated identity wins over guest fields.
	auth := Participant{UserID: "u-1", Token: "tok"}
	assert.True(t, auth.Same(Participant{UserID: "u-1", Token: "other"}))
	assert.False(t, auth.Same(dana))
}
