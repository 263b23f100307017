package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Timers fire synchronously
// inside Advance, in deadline order, so tests observe deterministic
// interleavings without real sleeps.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake creates a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{
		clk:      f,
		ch:       make(chan time.Time, 1),
		deadline: f.now.Add(d),
		armed:    true,
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every armed timer whose
// deadline falls within the window. Fires are delivered before Advance
// returns; a timer that is re-armed by a consumer during the same window
// fires again if its new deadline is also due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		next := f.nextDueLocked(target)
		if next == nil {
			break
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		next.armed = false
		ch := next.ch
		at := f.now
		f.mu.Unlock()
		ch <- at
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}

// nextDueLocked returns the armed timer with the earliest deadline <= target.
func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var due *fakeTimer
	for _, t := range f.timers {
		if !t.armed || t.deadline.After(target) {
			continue
		}
		if due == nil || t.deadline.Before(due.deadline) {
			due = t
		}
	}
	return due
}

type fakeTimer struct {
	clk      *Fake
	ch       chan time.Time
	deadline time.Time
	armed    bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Reset(d time.Duration) {
	t.clk.mu.Lock()
	t.deadline = t.clk.now.Add(d)
	t.armed = true
	t.clk.mu.Unlock()
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	wasArmed := t.armed
	t.armed = false
	t.clk.mu.Unlock()
	return wasArmed
}
