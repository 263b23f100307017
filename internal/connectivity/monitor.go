// Package connectivity maintains the single authoritative belief about
// backend reachability. The platform's own online/offline signal is
// unreliable (a pulled cable can leave DNS and ARP caches warm), so the
// belief is driven by active probing, with platform signals demoted to
// probe triggers.
package connectivity

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trackdeck/trackdeck/internal/clock"
)

// State is the shared connectivity belief read by every other component.
type State struct {
	Online              bool      `json:"is_online"`
	Checking            bool      `json:"is_checking"`
	LastChecked         time.Time `json:"last_checked,omitzero"`
	LastOnline          time.Time `json:"last_online,omitzero"`
	Quality             Quality   `json:"connection_quality"`
	ConsecutiveFailures int       `json:"consecutive_failure_count"`
}

// MonitorConfig configures the Monitor. Interval and threshold fields are
// closures for hot-reload from RuntimeConfig.
type MonitorConfig struct {
	Prober  Prober
	Clock   clock.Clock
	Quality *QualityTable

	BaseURL               func() string
	ProbePath             func() string
	ProbeHeaders          func() map[string]string
	ProbeTimeout          func() time.Duration
	OnlineInterval        func() time.Duration
	OfflineInterval       func() time.Duration
	FailuresBeforeOffline func() int
	FastLatencyThreshold  func() time.Duration

	// OnTransition is called outside the state lock whenever the online
	// belief flips. Keep handlers lightweight and non-blocking.
	OnTransition func(online bool)
}

// Monitor owns the connectivity State and the probe heartbeat.
// All mutation happens in applyProbeResult; everything else reads copies.
type Monitor struct {
	cfg     MonitorConfig
	clk     clock.Clock
	quality *QualityTable

	mu          sync.Mutex
	st          State
	established bool // a probe has completed since start or endpoint change

	flight    singleflight.Group
	stopCh    chan struct{}
	triggerCh chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewMonitor creates a Monitor. Prober, Clock, and the config closures
// must be non-nil.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Prober == nil {
		panic("connectivity: NewMonitor requires non-nil Prober")
	}
	if cfg.Clock == nil {
		panic("connectivity: NewMonitor requires non-nil Clock")
	}
	if cfg.Quality == nil {
		panic("connectivity: NewMonitor requires non-nil Quality table")
	}
	return &Monitor{
		cfg:       cfg,
		clk:       cfg.Clock,
		quality:   cfg.Quality,
		st:        State{Quality: QualityUnknown},
		stopCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

// Status returns a copy of the current connectivity state.
func (m *Monitor) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// IsOnline reports the current online belief.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Online
}

// HeartbeatInterval returns the interval the heartbeat loop uses for its
// next tick: long while stably online, short while offline or while
// failures are accumulating, for fast recovery detection.
func (m *Monitor) HeartbeatInterval() time.Duration {
	m.mu.Lock()
	stable := m.st.Online && m.st.ConsecutiveFailures == 0 && m.established
	m.mu.Unlock()
	if stable {
		return m.cfg.OnlineInterval()
	}
	return m.cfg.OfflineInterval()
}

// ProbeOnce issues a single probe against the configured endpoint without
// touching shared state, so it stays composable and testable in isolation.
// A nil error means reachable.
func (m *Monitor) ProbeOnce(ctx context.Context) (time.Duration, error) {
	probeURL := m.probeURL()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout())
	defer cancel()
	return m.cfg.Prober(ctx, probeURL, m.cfg.ProbeHeaders())
}

// CheckNow runs a probe and applies the result to the shared state.
// Concurrent callers share one in-flight probe instead of issuing
// duplicates; the underlying probe is a non-cancellable leaf — a caller
// abandoning the wait does not abort it.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	online, _, _ := m.flight.Do("probe", func() (any, error) {
		m.setChecking(true)
		// The probe is shared by every waiter, so it must not die with
		// whichever caller happened to start it; only the probe timeout
		// bounds it.
		latency, err := m.ProbeOnce(context.WithoutCancel(ctx))
		return m.applyProbeResult(latency, err), nil
	})
	return online.(bool)
}

// TriggerProbe requests an immediate probe from the heartbeat loop without
// waiting for the next tick. Used for platform online/offline events,
// window focus, and visibility restoration. Non-blocking; coalesces with
// an already-pending trigger.
func (m *Monitor) TriggerProbe() {
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

// NoteEndpointChanged invalidates reachability assumptions tied to the
// previous base URL and forces an immediate re-probe.
func (m *Monitor) NoteEndpointChanged(oldBaseURL string) {
	if oldBaseURL != "" {
		m.quality.Forget(oldBaseURL)
	}
	m.mu.Lock()
	m.st.ConsecutiveFailures = 0
	m.st.Quality = QualityUnknown
	m.established = false
	m.mu.Unlock()
	m.TriggerProbe()
}

// StartMonitoring launches the heartbeat loop. The first probe fires
// immediately to establish a belief.
func (m *Monitor) StartMonitoring() {
	m.wg.Add(1)
	go m.run()
}

// Stop signals the heartbeat loop to exit and waits for it.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	m.CheckNow(context.Background())

	timer := m.clk.NewTimer(m.HeartbeatInterval())
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.triggerCh:
			m.CheckNow(context.Background())
		case <-timer.C():
			m.CheckNow(context.Background())
		}

		// Re-arm atomically: never two live timers for one schedule.
		if !timer.Stop() {
			select {
			case <-timer.C():
			default:
			}
		}
		timer.Reset(m.HeartbeatInterval())
	}
}

func (m *Monitor) setChecking(v bool) {
	m.mu.Lock()
	m.st.Checking = v
	m.mu.Unlock()
}

// applyProbeResult folds one probe outcome into the shared state and
// returns the resulting online belief. Hysteresis is asymmetric: offline
// only after FailuresBeforeOffline consecutive failures, online on the
// first success.
func (m *Monitor) applyProbeResult(latency time.Duration, err error) bool {
	endpoint := m.cfg.BaseURL()
	now := m.clk.Now()

	var transitioned, online bool

	m.mu.Lock()
	wasOnline := m.st.Online
	wasEstablished := m.established
	m.st.Checking = false
	m.st.LastChecked = now
	m.established = true

	if err == nil {
		m.st.ConsecutiveFailures = 0
		m.st.Online = true
		m.st.LastOnline = now
		transitioned = wasEstablished && !wasOnline
	} else {
		m.st.ConsecutiveFailures++
		if m.st.ConsecutiveFailures >= m.cfg.FailuresBeforeOffline() {
			m.st.Online = false
			m.st.Quality = QualityUnknown
			transitioned = wasEstablished && wasOnline
		}
	}
	online = m.st.Online
	m.mu.Unlock()

	if err == nil {
		m.quality.Observe(endpoint, latency)
		m.mu.Lock()
		m.st.Quality = m.quality.Classify(endpoint, m.cfg.FastLatencyThreshold())
		m.mu.Unlock()
	} else {
		log.Printf("[connectivity] probe failed: %v", err)
	}

	if transitioned && m.cfg.OnTransition != nil {
		m.cfg.OnTransition(online)
	}
	return online
}

func (m *Monitor) probeURL() string {
	base := strings.TrimSuffix(m.cfg.BaseURL(), "/")
	path := m.cfg.ProbePath()
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
