// Package refresh owns the single process-wide answer to "when do we
// refresh data". Surfaces register callbacks; the coordinator runs them
// on a heartbeat, on reconnect, or on demand, and guarantees at most one
// refresh cycle in flight.
package refresh

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/trackdeck/trackdeck/internal/clock"
	"github.com/trackdeck/trackdeck/internal/freshness"
	"github.com/trackdeck/trackdeck/internal/notify"
)

// Callback refreshes one surface's data. Failures are isolated: a
// callback returning an error never cancels or delays the others.
type Callback func(ctx context.Context) error

// State is the coordinator's externally visible mode.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	StatePaused     State = "paused"
)

// CoordinatorConfig wires the coordinator. All tunables are closures so
// UpdateConfig takes effect without reconstruction.
type CoordinatorConfig struct {
	Clock    clock.Clock
	Tracker  *freshness.Tracker
	Notifier *notify.Debouncer

	Enabled            func() bool
	Interval           func() time.Duration
	RefreshOnReconnect func() bool
	OnlyWhenVisible    func() bool
	RefreshOnResume    func() bool
}

// Coordinator multiplexes heartbeat, reconnect and manual triggers into
// serialized refresh cycles over the registered callbacks.
type Coordinator struct {
	clk      clock.Clock
	tracker  *freshness.Tracker
	notifier *notify.Debouncer

	enabled            func() bool
	interval           func() time.Duration
	refreshOnReconnect func() bool
	onlyWhenVisible    func() bool
	refreshOnResume    func() bool

	callbacks *xsync.Map[string, Callback]

	// refreshing is the mutual-exclusion guard: a trigger arriving
	// while a cycle is in flight is dropped, never queued.
	refreshing atomic.Bool
	visible    atomic.Bool

	stopCh     chan struct{}
	triggerCh  chan struct{}
	reconfigCh chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewCoordinator creates a stopped coordinator; call Start to arm the
// heartbeat.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Clock == nil {
		panic("refresh: NewCoordinator requires non-nil Clock")
	}
	if cfg.Tracker == nil {
		panic("refresh: NewCoordinator requires non-nil Tracker")
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	if cfg.Interval == nil {
		panic("refresh: NewCoordinator requires non-nil Interval")
	}
	if cfg.RefreshOnReconnect == nil {
		cfg.RefreshOnReconnect = func() bool { return true }
	}
	if cfg.OnlyWhenVisible == nil {
		cfg.OnlyWhenVisible = func() bool { return false }
	}
	if cfg.RefreshOnResume == nil {
		cfg.RefreshOnResume = func() bool { return false }
	}

	c := &Coordinator{
		clk:                cfg.Clock,
		tracker:            cfg.Tracker,
		notifier:           cfg.Notifier,
		enabled:            cfg.Enabled,
		interval:           cfg.Interval,
		refreshOnReconnect: cfg.RefreshOnReconnect,
		onlyWhenVisible:    cfg.OnlyWhenVisible,
		refreshOnResume:    cfg.RefreshOnResume,
		callbacks:          xsync.NewMap[string, Callback](),
		stopCh:             make(chan struct{}),
		triggerCh:          make(chan struct{}, 1),
		reconfigCh:         make(chan struct{}, 1),
	}
	c.visible.Store(true)
	return c
}

// Register adds (or replaces) the refresh callback for key. Surfaces
// register on mount; the latest registration for a key wins.
func (c *Coordinator) Register(key string, cb Callback) {
	if cb == nil {
		panic("refresh: Register requires non-nil callback")
	}
	c.callbacks.Store(key, cb)
}

// Unregister removes the callback for key. Unknown keys are a no-op.
func (c *Coordinator) Unregister(key string) {
	c.callbacks.Delete(key)
}

// Registered returns the currently registered surface keys.
func (c *Coordinator) Registered() []string {
	var keys []string
	c.callbacks.Range(func(key string, _ Callback) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// State reports the coordinator's current mode.
func (c *Coordinator) State() State {
	if c.refreshing.Load() {
		return StateRefreshing
	}
	if c.onlyWhenVisible() && !c.visible.Load() {
		return StatePaused
	}
	return StateIdle
}

// RefreshAll runs every registered callback concurrently and waits for
// all of them to settle. The global freshness timestamp is touched
// exactly once per cycle, however many callbacks ran and however many
// failed. Returns false without doing anything when a cycle is already
// in flight.
func (c *Coordinator) RefreshAll(ctx context.Context) bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		return false
	}
	defer c.refreshing.Store(false)

	c.tracker.SetRefreshing(true)
	defer c.tracker.SetRefreshing(false)

	cycle := uuid.NewString()

	type job struct {
		key string
		cb  Callback
	}
	var jobs []job
	c.callbacks.Range(func(key string, cb Callback) bool {
		jobs = append(jobs, job{key: key, cb: cb})
		return true
	})

	var wg sync.WaitGroup
	var failed atomic.Int32
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			if err := j.cb(ctx); err != nil {
				failed.Add(1)
				log.Printf("[refresh] cycle %s: surface %q failed: %v", cycle, j.key, err)
			}
		}(j)
	}
	wg.Wait()

	c.tracker.Touch()

	if n := failed.Load(); n > 0 {
		log.Printf("[refresh] cycle %s settled: %d/%d surfaces failed", cycle, n, len(jobs))
	}
	return true
}

// TriggerRefresh requests a refresh cycle from the background loop.
// Non-blocking; a trigger arriving while one is already pending is
// coalesced.
func (c *Coordinator) TriggerRefresh() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// OnConnectivityChange is wired to the connectivity monitor's transition
// callback. Both directions emit a debounced user notification; coming
// back online additionally triggers a refresh when configured. The
// reconnect refresh rides the notification's quiet period, so a link
// that genuinely flaps several times in a few seconds still runs at
// most one reconnect cycle.
func (c *Coordinator) OnConnectivityChange(online bool) {
	if online {
		restored := true
		if c.notifier != nil {
			restored = c.notifier.Notify(notify.KindConnectionRestored, "Connection restored")
		}
		if restored && c.refreshOnReconnect() {
			c.TriggerRefresh()
		}
		return
	}
	if c.notifier != nil {
		c.notifier.Notify(notify.KindConnectionLost, "Connection lost, showing cached data")
	}
}

// SetVisible records application visibility. Regaining visibility may
// trigger an immediate refresh when configured.
func (c *Coordinator) SetVisible(visible bool) {
	was := c.visible.Swap(visible)
	if visible && !was && c.refreshOnResume() {
		c.TriggerRefresh()
	}
}

// UpdateConfig re-arms the heartbeat so new interval/enabled settings
// take effect immediately instead of after the old timer fires. The
// tunables themselves are closures and need no update here.
func (c *Coordinator) UpdateConfig() {
	select {
	case c.reconfigCh <- struct{}{}:
	default:
	}
}

// Start launches the heartbeat loop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop terminates the loop. Blocks until a cycle in flight settles.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	timer := c.clk.NewTimer(c.interval())
	defer timer.Stop()

	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C():
			default:
			}
		}
		timer.Reset(c.interval())
	}

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.reconfigCh:
			rearm()
		case <-c.triggerCh:
			if c.paused() {
				continue
			}
			c.runCycle()
		case <-timer.C():
			if c.enabled() && !c.paused() {
				c.runCycle()
			}
			timer.Reset(c.interval())
		}
	}
}

func (c *Coordinator) paused() bool {
	return c.onlyWhenVisible() && !c.visible.Load()
}

func (c *Coordinator) runCycle() {
	c.RefreshAll(context.Background())
}
