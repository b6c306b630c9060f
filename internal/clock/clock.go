// Package clock provides an injectable time source so components that
// schedule work (typing expiry, reconnection backoff, periodic refresh)
// can be unit-tested without a real clock.
package clock

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. Returns false if the
	// callback already fired or was already stopped.
	Stop() bool
	// Reset reschedules the callback to fire after d.
	Reset(d time.Duration) bool
}

// Ticker delivers ticks on C at a fixed interval until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts the time operations used across the chat core.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run after d and returns a cancellable handle.
	AfterFunc(d time.Duration, fn func()) Timer
	NewTicker(d time.Duration) Ticker
}

// System returns a Clock backed by the standard library.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (st systemTimer) Stop() bool                 { return st.t.Stop() }
func (st systemTimer) Reset(d time.Duration) bool { return st.t.Reset(d) }

type systemTicker struct {
	t *time.Ticker
}

func (st *systemTicker) C() <-chan time.Time { return st.t.C }
func (st *systemTicker) Stop()               { st.t.Stop() }
