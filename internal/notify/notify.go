// Package notify carries user-facing alerts out of the core. The core
// only decides that something is worth telling the user; display
// duration, stacking and dismissal belong to whoever implements Sink.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/trackdeck/trackdeck/internal/clock"
)

// Kind identifies an alert class. Debouncing is per kind, so a flapping
// link cannot drown out an unrelated stale-data alert.
type Kind string

const (
	KindConnectionLost     Kind = "connection_lost"
	KindConnectionRestored Kind = "connection_restored"
	KindStaleData          Kind = "stale_data"
)

// Event is one fire-and-forget user notification.
type Event struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Notify(ev Event)
}

// LogSink writes events to the process log. The default sink when no
// UI bridge is attached.
type LogSink struct{}

func (LogSink) Notify(ev Event) {
	log.Printf("[notify] %s: %s", ev.Kind, ev.Message)
}

// Debouncer wraps a Sink and suppresses repeats of the same kind within
// a quiet period, so a link that flaps several times in a few seconds
// produces one toast instead of a storm.
type Debouncer struct {
	sink  Sink
	clk   clock.Clock
	quiet func() time.Duration

	mu       sync.Mutex
	lastSent map[Kind]time.Time
}

// NewDebouncer creates a Debouncer. quiet is a closure for hot-reload.
func NewDebouncer(sink Sink, clk clock.Clock, quiet func() time.Duration) *Debouncer {
	if sink == nil {
		panic("notify: NewDebouncer requires non-nil sink")
	}
	if clk == nil {
		panic("notify: NewDebouncer requires non-nil clock")
	}
	if quiet == nil {
		panic("notify: NewDebouncer requires non-nil quiet period")
	}
	return &Debouncer{
		sink:     sink,
		clk:      clk,
		quiet:    quiet,
		lastSent: make(map[Kind]time.Time),
	}
}

// Notify forwards the event unless one of the same kind was forwarded
// within the quiet period. Returns whether the event was forwarded.
func (d *Debouncer) Notify(kind Kind, message string) bool {
	now := d.clk.Now()

	d.mu.Lock()
	if last, ok := d.lastSent[kind]; ok && now.Sub(last) < d.quiet() {
		d.mu.Unlock()
		return false
	}
	d.lastSent[kind] = now
	d.mu.Unlock()

	d.sink.Notify(Event{Kind: kind, Message: message, At: now})
	return true
}
