package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time only moves when Advance
// is called; due timers fire synchronously inside Advance, in deadline
// order, so tests observe the exact behavior of the 3-second typing
// window or the reconnection backoff schedule without sleeping.
type Fake struct {
	mu     sync.Mutex
	cond   *sync.Cond
	now    time.Time
	timers []*fakeTimer
}

// NewFake creates a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// BlockUntil waits until at least n timers are scheduled and unstopped.
// Lets tests synchronize with a goroutine that is about to sleep before
// advancing the clock past its deadline.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.cond.Wait()
	}
}

func (f *Fake) pendingLocked() int {
	count := 0
	for _, t := range f.timers {
		if !t.stopped {
			count++
		}
	}
	return count
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn at now+d on the fake timeline.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{clock: f, deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	f.cond.Broadcast()
	return t
}

// NewTicker returns a ticker driven by Advance.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	tk := &fakeTicker{ch: make(chan time.Time, 64)}
	t := &fakeTimer{clock: f, deadline: f.now.Add(d), interval: d, ch: tk.ch}
	tk.timer = t
	f.timers = append(f.timers, t)
	f.cond.Broadcast()
	return tk
}

// Advance moves the fake time forward by d, firing every timer whose
// deadline falls inside the advanced window, in deadline order.
// Callbacks run on the calling goroutine.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		next := f.nextDueLocked(target)
		// No more timers due inside the window
		if next == nil {
			break
		}

		f.now = next.deadline
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.stopped = true
		}

		fn := next.fn
		ch := next.ch
		now := f.now
		f.mu.Unlock()

		if fn != nil {
			fn()
		}
		if ch != nil {
			select {
			case ch <- now:
			default:
			}
		}

		f.mu.Lock()
	}

	f.now = target
	f.mu.Unlock()
}

// nextDueLocked returns the unstopped timer with the earliest deadline
// at or before target, or nil.
func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due[0]
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	interval time.Duration
	fn       func()
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = false
	t.deadline = t.clock.now.Add(d)
	t.clock.cond.Broadcast()
	return wasActive
}

type fakeTicker struct {
	timer *fakeTimer
	ch    chan time.Time
}

func (tk *fakeTicker) C() <-chan time.Time { return tk.ch }
func (tk *fakeTicker) Stop()               { tk.timer.Stop() }
