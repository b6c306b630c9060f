package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	f := NewFake(epoch)

	var fired []string
	f.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	f.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	f.AfterFunc(10*time.Second, func() { fired = append(fired, "late") })

	f.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired, "due timers fire in deadline order")
	assert.Equal(t, epoch.Add(3*time.Second), f.Now())

	f.Advance(7 * time.Second)
	assert.Equal(t, []string{"a", "b", "late"}, fired)
}

func TestFakeTimerObservesOwnDeadlineAsNow(t *testing.T) {
	f := NewFake(epoch)

	var at time.Time
	f.AfterFunc(time.Second, func() { at = f.Now() })

	f.Advance(time.Minute)
	assert.Equal(t, epoch.Add(time.Second), at)
}

func TestFakeStopPreventsFiring(t *testing.T) {
	f := NewFake(epoch)

	fired := false
	timer := f.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports inactive")

	f.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeResetReschedules(t *testing.T) {
	f := NewFake(epoch)

	count := 0
	timer := f.AfterFunc(time.Second, func() { count++ })
	timer.Reset(10 * time.Second)

	f.Advance(5 * time.Second)
	assert.Zero(t, count)
	f.Advance(5 * time.Second)
	assert.Equal(t, 1, count)

	// Reset after firing re-arms the timer.
	timer.Reset(time.Second)
	f.Advance(time.Second)
	assert.Equal(t, 2, count)
}

func TestFakeTickerTicksEveryInterval(t *testing.T) {
	f := NewFake(epoch)

	tk := f.NewTicker(time.Second)
	defer tk.Stop()

	f.Advance(3 * time.Second)

	var ticks []time.Time
	for i := 0; i < 3; i++ {
		select {
		case at := <-tk.C():
			ticks = append(ticks, at)
		default:
			t.Fatalf("expected 3 buffered ticks, got %d", i)
		}
	}
	require.Len(t, ticks, 3)
	assert.Equal(t, epoch.Add(time.Second), ticks[0])
	assert.Equal(t, epoch.Add(3*time.Second), ticks[2])

	tk.Stop()
	f.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker must not tick")
	default:
	}
}

func TestFakeBlockUntilReleasesOnSchedule(t *testing.T) {
	f := NewFake(epoch)

	released := make(chan struct{})
	go func() {
		f.BlockUntil(1)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("BlockUntil returned before any timer was scheduled")
	case <-time.After(20 * time.Millisecond):
	}

	f.AfterFunc(time.Second, func() {})
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("BlockUntil never released")
	}
}

func TestSystemClockBasics(t *testing.T) {
	c := System()

	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before.Add(-time.Second)))

	done := make(chan struct{})
	timer := c.AfterFunc(time.Millisecond, func() { close(done) })
	defer timer.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("system AfterFunc never fired")
	}
}
