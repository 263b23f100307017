// Package freshness derives the staleness story every UI surface renders
// from. One global last-update timestamp plus two thresholds produce the
// whole state; surfaces never compute their own.
package freshness

import (
	"sync"
	"time"

	"github.com/trackdeck/trackdeck/internal/clock"
)

// State is the derived freshness snapshot. Never stored; recomputed on
// demand from the tracker's inputs so all consumers see the same story.
type State struct {
	LastGlobalUpdate *time.Time `json:"last_global_update,omitempty"`
	IsFresh          bool       `json:"is_fresh"`
	IsOutdated       bool       `json:"is_outdated"`
	IsStale          bool       `json:"is_stale"`
	IsRefreshing     bool       `json:"is_refreshing"`
	Online           bool       `json:"online"`
}

// Compute derives a State from its inputs. lastUpdate zero means no
// successful refresh has happened yet; that reads as stale, not fresh,
// so a cold start shows the strongest indicator until data arrives.
// outdated must be shorter than stale; config validation enforces it.
func Compute(now time.Time, lastUpdate time.Time, refreshing, online bool, outdated, stale time.Duration) State {
	st := State{
		IsRefreshing: refreshing,
		Online:       online,
	}
	if lastUpdate.IsZero() {
		st.IsStale = true
		st.IsOutdated = true
		return st
	}

	t := lastUpdate
	st.LastGlobalUpdate = &t

	age := now.Sub(lastUpdate)
	switch {
	case age >= stale:
		st.IsStale = true
		st.IsOutdated = true
	case age >= outdated:
		st.IsOutdated = true
	default:
		st.IsFresh = true
	}
	return st
}

// TrackerConfig wires the tracker's inputs. Thresholds are closures for
// hot-reload; Online is polled from the connectivity monitor.
type TrackerConfig struct {
	Clock             clock.Clock
	OutdatedThreshold func() time.Duration
	StaleThreshold    func() time.Duration
	Online            func() bool
}

// Tracker owns the global last-update timestamp and the refreshing flag.
type Tracker struct {
	clk       clock.Clock
	outdated  func() time.Duration
	staleness func() time.Duration
	online    func() bool

	mu         sync.Mutex
	lastUpdate time.Time
	refreshing bool
}

// NewTracker creates a tracker with no recorded update yet.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Clock == nil {
		panic("freshness: NewTracker requires non-nil Clock")
	}
	if cfg.OutdatedThreshold == nil || cfg.StaleThreshold == nil {
		panic("freshness: NewTracker requires threshold callbacks")
	}
	if cfg.Online == nil {
		cfg.Online = func() bool { return true }
	}
	return &Tracker{
		clk:       cfg.Clock,
		outdated:  cfg.OutdatedThreshold,
		staleness: cfg.StaleThreshold,
		online:    cfg.Online,
	}
}

// Touch records a successful refresh at the current time.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.lastUpdate = t.clk.Now()
	t.mu.Unlock()
}

// SetRefreshing toggles the refresh-in-progress flag.
func (t *Tracker) SetRefreshing(v bool) {
	t.mu.Lock()
	t.refreshing = v
	t.mu.Unlock()
}

// LastUpdate returns the global timestamp, zero if none yet.
func (t *Tracker) LastUpdate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUpdate
}

// Snapshot computes the current derived state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	lastUpdate := t.lastUpdate
	refreshing := t.refreshing
	t.mu.Unlock()

	return Compute(t.clk.Now(), lastUpdate, refreshing, t.online(), t.outdated(), t.staleness())
}
