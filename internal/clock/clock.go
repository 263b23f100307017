// Package clock provides an injectable time source and re-armable timer
// handle so components can be driven by a virtual clock in tests instead
// of wall-clock sleeps.
package clock

import "time"

// Timer is a cancellable, re-armable timer handle. Semantics follow
// time.Timer: Reset must only be called on a stopped or fired timer
// whose channel has been drained.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop() bool
}

// Clock abstracts the time source used by heartbeat loops and TTL checks.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// System is the wall-clock implementation used outside of tests.
type System struct{}

// NewSystem returns the real time source.
func NewSystem() System { return System{} }

func (System) Now() time.Time { return time.Now() }

func (System) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s *systemTimer) C() <-chan time.Time    { return s.t.C }
func (s *systemTimer) Reset(d time.Duration)  { s.t.Reset(d) }
func (s *systemTimer) Stop() bool             { return s.t.Stop() }
