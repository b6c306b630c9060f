package typing

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waito3007/SHNGear-sub002/internal/clock"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// signalRecorder collects outbound typing signals.
type signalRecorder struct {
	mu      sync.Mutex
	signals []bool
}

func (r *signalRecorder) send(typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, typing)
}

func (r *signalRecorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.signals))
	copy(out, r.signals)
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *signalRecorder, *clock.Fake) {
	t.Helper()

	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	rec := &signalRecorder{}
	c := NewCoordinator(rec.send, util.NewLogger("disabled", io.Discard), WithClock(fake))
	t.Cleanup(c.Close)
	return c, rec, fake
}

func TestKeystrokesCoalesceToOneSignalPerWindow(t *testing.T) {
	c, rec, fake := newTestCoordinator(t)

	c.NotifyTyping()
	fake.Advance(500 * time.Millisecond)
	c.NotifyTyping()
	fake.Advance(500 * time.Millisecond)
	c.NotifyTyping()

	assert.Equal(t, []bool{true}, rec.all(), "rapid keystrokes must emit one start signal")
}

func TestStopSignalAfterInactivity(t *testing.T) {
	c, rec, fake := newTestCoordinator(t)

	c.NotifyTyping()
	fake.Advance(3 * time.Second)

	assert.Equal(t, []bool{true, false}, rec.all())
}

func TestActivityExtendsStopSignal(t *testing.T) {
	c, rec, fake := newTestCoordinator(t)

	c.NotifyTyping()
	fake.Advance(2 * time.Second)
	c.NotifyTyping() // pushes the stop out, but no new start inside the window
	fake.Advance(2 * time.Second)

	assert.Equal(t, []bool{true}, rec.all(), "stop must not fire while activity continues")

	fake.Advance(time.Second)
	assert.Equal(t, []bool{true, false}, rec.all())
}

func TestNewWindowEmitsFreshStart(t *testing.T) {
	c, rec, fake := newTestCoordinator(t)

	c.NotifyTyping()
	fake.Advance(3 * time.Second) // start + stop
	c.NotifyTyping()

	assert.Equal(t, []bool{true, false, true}, rec.all())
}

func TestRemoteIndicatorExpiresWithoutRefresh(t *testing.T) {
	c, _, fake := newTestCoordinator(t)

	var transitions []bool
	c.OnRemote(func(_ message.SenderRole, typing bool) {
		transitions = append(transitions, typing)
	})

	c.HandleRemote(&message.TypingState{Sender: message.SenderAdmin, Typing: true})
	require.True(t, c.RemoteTyping(message.SenderAdmin))

	fake.Advance(3 * time.Second)

	assert.False(t, c.RemoteTyping(message.SenderAdmin))
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestRemoteRefreshExtendsExpiry(t *testing.T) {
	c, _, fake := newTestCoordinator(t)

	c.HandleRemote(&message.TypingState{Sender: message.SenderAdmin, Typing: true})
	fake.Advance(2 * time.Second)
	c.HandleRemote(&message.TypingState{Sender: message.SenderAdmin, Typing: true})
	fake.Advance(2 * time.Second)

	assert.True(t, c.RemoteTyping(message.SenderAdmin), "refresh inside the window must extend expiry")

	fake.Advance(time.Second)
	assert.False(t, c.RemoteTyping(message.SenderAdmin))
}

func TestRemoteStopClearsImmediately(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	var transitions []bool
	c.OnRemote(func(_ message.SenderRole, typing bool) {
		transitions = append(transitions, typing)
	})

	c.HandleRemote(&message.TypingState{Sender: message.SenderAI, Typing: true})
	c.HandleRemote(&message.TypingState{Sender: message.SenderAI, Typing: false})

	assert.False(t, c.RemoteTyping(message.SenderAI))
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestRemoteRefreshDoesNotRepeatTransition(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	var count int
	c.OnRemote(func(message.SenderRole, bool) { count++ })

	c.HandleRemote(&message.TypingState{Sender: message.SenderAdmin, Typing: true})
	c.HandleRemote(&message.TypingState{Sender: message.SenderAdmin, Typing: true})
	c.HandleRemote(&message.TypingState{Sender: message.SenderAdmin, Typing: true})

	assert.Equal(t, 1, count, "refreshes inside the window are not transitions")
}

func TestCountersTrackedPerCounterpart(t *testing.T) {
	c, _, fake := newTestCoordinator(t)

	c.HandleRemote(&message.TypingState{Sender: message.SenderAdmin, Typing: true})
	fake.Advance(2 * time.Second)
	c.HandleRemote(&message.TypingState{Sender: message.SenderAI, Typing: true})
	fake.Advance(time.Second)

	// Admin's window (3s) elapsed; AI's (1s so far) did not.
	assert.False(t, c.RemoteTyping(message.SenderAdmin))
	assert.True(t, c.RemoteTyping(message.SenderAI))
}

func TestCloseSendsFinalStopWhenActive(t *testing.T) {
	c, rec, _ := newTestCoordinator(t)

	c.NotifyTyping()
	c.Close()

	assert.Equal(t, []bool{true, false}, rec.all())

	// Close is idempotent and later activity is ignored.
	c.Close()
	c.NotifyTyping()
	assert.Equal(t, []bool{true, false}, rec.all())
}
