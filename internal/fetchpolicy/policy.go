// Package fetchpolicy implements the fetch-with-fallback access pattern:
// try the network when the connectivity monitor says it is worth trying,
// write successes through to the cache, and fall back to cached data
// (stale included) when the network fails or is known to be down.
package fetchpolicy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// Outcome classifies how a fetch was satisfied. Callers render different
// affordances per outcome: nothing for Success, a passive staleness
// badge for StaleDataServed, an empty state for NetworkUnavailable.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeStaleDataServed    Outcome = "stale_data_served"
	OutcomeNetworkUnavailable Outcome = "network_unavailable"
)

// FetchFn performs the actual remote read. It must honor ctx.
type FetchFn func(ctx context.Context) (json.RawMessage, error)

// Result is what a fetch-with-fallback call hands back to the caller.
type Result struct {
	Data    json.RawMessage
	Stale   bool
	Cached  bool
	Outcome Outcome
}

// Cache is the slice of the cache store the policy needs.
type Cache interface {
	Get(key string, allowStale bool) (json.RawMessage, bool)
	Set(key string, data json.RawMessage, ttl time.Duration)
}

// PolicyConfig wires the policy's collaborators. Retry settings are
// closures for hot-reload.
type PolicyConfig struct {
	Cache  Cache
	Online func() bool
	// OnFreshData runs after every successful network fetch; the
	// coordinator uses it to touch the global freshness timestamp.
	OnFreshData func()

	RetryMaxAttempts    func() int
	RetryInitialBackoff func() time.Duration
}

// Policy decides, per call, whether to hit the network or the cache.
type Policy struct {
	cache       Cache
	online      func() bool
	onFreshData func()

	retryMaxAttempts    func() int
	retryInitialBackoff func() time.Duration
}

// Options tunes a single fetch.
type Options struct {
	// TTL for the cache write on success; <= 0 selects the store default.
	TTL time.Duration
	// AllowStale lets the offline path serve entries past their TTL.
	// The failure-fallback path always allows stale: by the time the
	// network has failed, old data beats no data.
	AllowStale bool
}

// NewPolicy creates a Policy.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.Cache == nil {
		panic("fetchpolicy: NewPolicy requires non-nil Cache")
	}
	if cfg.Online == nil {
		panic("fetchpolicy: NewPolicy requires non-nil Online")
	}
	if cfg.OnFreshData == nil {
		cfg.OnFreshData = func() {}
	}
	if cfg.RetryMaxAttempts == nil {
		cfg.RetryMaxAttempts = func() int { return 1 }
	}
	if cfg.RetryInitialBackoff == nil {
		cfg.RetryInitialBackoff = func() time.Duration { return 500 * time.Millisecond }
	}
	return &Policy{
		cache:               cfg.Cache,
		online:              cfg.Online,
		onFreshData:         cfg.OnFreshData,
		retryMaxAttempts:    cfg.RetryMaxAttempts,
		retryInitialBackoff: cfg.RetryInitialBackoff,
	}
}

// FetchWithCache is the required access pattern for any remote read that
// should survive connectivity loss.
//
// Offline: fetchFn is never invoked. A guaranteed-timeout request wastes
// the user's time and risks half-applied failures, so the cache answers
// directly (subject to AllowStale) and the result is flagged stale.
//
// Online: fetchFn runs (with retry). Success writes through to the cache
// and reports fresh data. Transient failure falls back to the cache with
// stale always allowed; only when the cache is also empty does the
// caller see an error. Permanent client errors skip the fallback and
// propagate untouched.
func (p *Policy) FetchWithCache(ctx context.Context, key string, fetchFn FetchFn, opts Options) (Result, error) {
	if !p.online() {
		return p.serveFromCache(key, opts.AllowStale)
	}

	data, err := p.fetchWithRetry(ctx, fetchFn)
	if err == nil {
		p.cache.Set(key, data, opts.TTL)
		p.onFreshData()
		return Result{Data: data, Outcome: OutcomeSuccess}, nil
	}

	// Permanent client errors (4xx other than 429) propagate as-is:
	// retrying cannot help, and masking a bad request or an expired
	// session with cached data would hide a real bug.
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && !retryableStatus(statusErr.StatusCode) {
		return Result{}, err
	}

	log.Printf("[fetchpolicy] fetch %q failed, falling back to cache: %v", key, err)

	if data, ok := p.cache.Get(key, true); ok {
		return Result{Data: data, Stale: true, Cached: true, Outcome: OutcomeStaleDataServed}, nil
	}
	return Result{Stale: true, Outcome: OutcomeNetworkUnavailable},
		fmt.Errorf("%w: %w", ErrNoData, err)
}

func (p *Policy) serveFromCache(key string, allowStale bool) (Result, error) {
	if data, ok := p.cache.Get(key, allowStale); ok {
		return Result{Data: data, Stale: true, Cached: true, Outcome: OutcomeStaleDataServed}, nil
	}
	return Result{Stale: true, Outcome: OutcomeNetworkUnavailable}, ErrNoData
}
