package config

import (
	"fmt"
	"net/url"
	"time"

	"golang.org/x/net/http/httpguts"
)

// RuntimeConfig holds all hot-updatable settings. A snapshot lives in an
// atomic.Pointer owned by the daemon; components read through closures so
// a PATCH takes effect on the next tick without restarts.
type RuntimeConfig struct {
	// Backend
	BaseURL      string            `json:"base_url" yaml:"base_url"`
	ProbePath    string            `json:"probe_path" yaml:"probe_path"`
	ProbeHeaders map[string]string `json:"probe_headers" yaml:"probe_headers"`
	ProbeTimeout Duration          `json:"probe_timeout" yaml:"probe_timeout"`

	// Connectivity
	OnlineInterval        Duration `json:"online_interval" yaml:"online_interval"`
	OfflineInterval       Duration `json:"offline_interval" yaml:"offline_interval"`
	FailuresBeforeOffline int      `json:"failures_before_offline" yaml:"failures_before_offline"`
	FastLatencyThreshold  Duration `json:"fast_latency_threshold" yaml:"fast_latency_threshold"`

	// Cache
	CacheEnabled    bool     `json:"cache_enabled" yaml:"cache_enabled"`
	DefaultCacheTTL Duration `json:"default_cache_ttl" yaml:"default_cache_ttl"`

	// Freshness thresholds (outdated < stale). Tunable, not load-bearing.
	OutdatedThreshold Duration `json:"outdated_threshold" yaml:"outdated_threshold"`
	StaleThreshold    Duration `json:"stale_threshold" yaml:"stale_threshold"`

	// Refresh coordination
	RefreshEnabled     bool     `json:"refresh_enabled" yaml:"refresh_enabled"`
	RefreshInterval    Duration `json:"refresh_interval" yaml:"refresh_interval"`
	RefreshOnReconnect bool     `json:"refresh_on_reconnect" yaml:"refresh_on_reconnect"`
	OnlyWhenVisible    bool     `json:"only_when_visible" yaml:"only_when_visible"`
	RefreshOnResume    bool     `json:"refresh_on_resume" yaml:"refresh_on_resume"`

	// Notifications
	NotifyQuietPeriod Duration `json:"notify_quiet_period" yaml:"notify_quiet_period"`

	// Retry
	RetryMaxAttempts    int      `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryInitialBackoff Duration `json:"retry_initial_backoff" yaml:"retry_initial_backoff"`

	// Mirror persistence
	MirrorFlushInterval       Duration `json:"mirror_flush_interval" yaml:"mirror_flush_interval"`
	MirrorFlushDirtyThreshold int      `json:"mirror_flush_dirty_threshold" yaml:"mirror_flush_dirty_threshold"`
}

// NewDefaultRuntimeConfig returns the defaults the daemon starts with
// before any overlay file or PATCH is applied.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		BaseURL:      "",
		ProbePath:    "/api/health",
		ProbeHeaders: map[string]string{},
		ProbeTimeout: Duration(3 * time.Second),

		OnlineInterval:        Duration(30 * time.Second),
		OfflineInterval:       Duration(5 * time.Second),
		FailuresBeforeOffline: 2,
		FastLatencyThreshold:  Duration(400 * time.Millisecond),

		CacheEnabled:    true,
		DefaultCacheTTL: Duration(7 * 24 * time.Hour),

		OutdatedThreshold: Duration(2 * time.Minute),
		StaleThreshold:    Duration(10 * time.Minute),

		RefreshEnabled:     true,
		RefreshInterval:    Duration(5 * time.Minute),
		RefreshOnReconnect: true,
		OnlyWhenVisible:    false,
		RefreshOnResume:    true,

		NotifyQuietPeriod: Duration(5 * time.Second),

		RetryMaxAttempts:    3,
		RetryInitialBackoff: Duration(500 * time.Millisecond),

		MirrorFlushInterval:       Duration(time.Minute),
		MirrorFlushDirtyThreshold: 256,
	}
}

// Validate checks cross-field constraints. Called after overlay load and
// after every PATCH merge, so a bad update never reaches the atomic pointer.
func (c *RuntimeConfig) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url: %q is not an absolute URL", c.BaseURL)
		}
	}
	for name, value := range c.ProbeHeaders {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("probe_headers: invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("probe_headers: invalid value for header %q", name)
		}
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	if c.OnlineInterval <= 0 || c.OfflineInterval <= 0 {
		return fmt.Errorf("online_interval and offline_interval must be positive")
	}
	if c.FailuresBeforeOffline < 1 {
		return fmt.Errorf("failures_before_offline must be at least 1")
	}
	if c.FastLatencyThreshold <= 0 {
		return fmt.Errorf("fast_latency_threshold must be positive")
	}
	if c.DefaultCacheTTL <= 0 {
		return fmt.Errorf("default_cache_ttl must be positive")
	}
	if c.OutdatedThreshold <= 0 || c.StaleThreshold <= 0 {
		return fmt.Errorf("freshness thresholds must be positive")
	}
	if c.OutdatedThreshold >= c.StaleThreshold {
		return fmt.Errorf("outdated_threshold (%s) must be less than stale_threshold (%s)",
			c.OutdatedThreshold.Std(), c.StaleThreshold.Std())
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive")
	}
	if c.NotifyQuietPeriod < 0 {
		return fmt.Errorf("notify_quiet_period must not be negative")
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry_max_attempts must not be negative")
	}
	if c.RetryInitialBackoff <= 0 {
		return fmt.Errorf("retry_initial_backoff must be positive")
	}
	if c.MirrorFlushInterval <= 0 {
		return fmt.Errorf("mirror_flush_interval must be positive")
	}
	if c.MirrorFlushDirtyThreshold < 1 {
		return fmt.Errorf("mirror_flush_dirty_threshold must be at least 1")
	}
	return nil
}

// Clone returns a deep copy, so PATCH merges never mutate the snapshot
// other readers hold.
func (c *RuntimeConfig) Clone() *RuntimeConfig {
	out := *c
	out.ProbeHeaders = make(map[string]string, len(c.ProbeHeaders))
	for k, v := range c.ProbeHeaders {
		out.ProbeHeaders[k] = v
	}
	return &out
}
