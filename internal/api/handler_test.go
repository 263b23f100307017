package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trackdeck/trackdeck/internal/cachestore"
	"github.com/trackdeck/trackdeck/internal/clock"
	"github.com/trackdeck/trackdeck/internal/config"
	"github.com/trackdeck/trackdeck/internal/connectivity"
	"github.com/trackdeck/trackdeck/internal/fetchpolicy"
	"github.com/trackdeck/trackdeck/internal/freshness"
	"github.com/trackdeck/trackdeck/internal/refresh"
)

type apiHarness struct {
	server     *Server
	clk        *clock.Fake
	store      *cachestore.Store
	tracker    *freshness.Tracker
	coord      *refresh.Coordinator
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]
	patched    int
	online     bool
}

func newAPIHarness(t *testing.T, adminToken string) *apiHarness {
	t.Helper()

	h := &apiHarness{
		clk:    clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		online: true,
	}

	h.runtimeCfg = &atomic.Pointer[config.RuntimeConfig]{}
	h.runtimeCfg.Store(config.NewDefaultRuntimeConfig())
	cfg := func() *config.RuntimeConfig { return h.runtimeCfg.Load() }

	quality := connectivity.NewQualityTable(4, time.Minute)
	t.Cleanup(quality.Close)
	monitor := connectivity.NewMonitor(connectivity.MonitorConfig{
		Prober: func(ctx context.Context, probeURL string, headers map[string]string) (time.Duration, error) {
			return 50 * time.Millisecond, nil
		},
		Clock:                 h.clk,
		Quality:               quality,
		BaseURL:               func() string { return cfg().BaseURL },
		ProbePath:             func() string { return cfg().ProbePath },
		ProbeHeaders:          func() map[string]string { return cfg().ProbeHeaders },
		ProbeTimeout:          func() time.Duration { return cfg().ProbeTimeout.Std() },
		OnlineInterval:        func() time.Duration { return cfg().OnlineInterval.Std() },
		OfflineInterval:       func() time.Duration { return cfg().OfflineInterval.Std() },
		FailuresBeforeOffline: func() int { return cfg().FailuresBeforeOffline },
		FastLatencyThreshold:  func() time.Duration { return cfg().FastLatencyThreshold.Std() },
	})

	h.store = cachestore.NewStore(cachestore.StoreConfig{
		Clock:      h.clk,
		DefaultTTL: func() time.Duration { return cfg().DefaultCacheTTL.Std() },
	})
	h.tracker = freshness.NewTracker(freshness.TrackerConfig{
		Clock:             h.clk,
		OutdatedThreshold: func() time.Duration { return cfg().OutdatedThreshold.Std() },
		StaleThreshold:    func() time.Duration { return cfg().StaleThreshold.Std() },
		Online:            monitor.IsOnline,
	})
	h.coord = refresh.NewCoordinator(refresh.CoordinatorConfig{
		Clock:    h.clk,
		Tracker:  h.tracker,
		Interval: func() time.Duration { return cfg().RefreshInterval.Std() },
	})

	// The policy's online view is the harness flag, not the monitor, so
	// tests can flip connectivity without scripting probes.
	policy := fetchpolicy.NewPolicy(fetchpolicy.PolicyConfig{
		Cache:       h.store,
		Online:      func() bool { return h.online },
		OnFreshData: h.tracker.Touch,
	})

	h.server = NewServer("127.0.0.1", 0, adminToken, 1<<20, Deps{
		Monitor:     monitor,
		Store:       h.store,
		Tracker:     h.tracker,
		Coordinator: h.coord,
		Policy:      policy,
		RuntimeCfg:  h.runtimeCfg,
		OnConfigPatched: func(old, applied *config.RuntimeConfig) {
			h.patched++
		},
	})
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	h := newAPIHarness(t, "sekrit-Tr4ckd3ck-9821")

	rec := h.do(t, "GET", "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuth_RejectsMissingAndWrongToken(t *testing.T) {
	h := newAPIHarness(t, "sekrit-Tr4ckd3ck-9821")

	if rec := h.do(t, "GET", "/api/v1/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := h.do(t, "GET", "/api/v1/status", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", rec.Code)
	}
	if rec := h.do(t, "GET", "/api/v1/status", "sekrit-Tr4ckd3ck-9821", ""); rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", rec.Code)
	}
}

func TestAuth_EmptyTokenDisablesAuth(t *testing.T) {
	h := newAPIHarness(t, "")

	if rec := h.do(t, "GET", "/api/v1/status", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without auth, got %d", rec.Code)
	}
}

func TestStatus_ReportsAllComponents(t *testing.T) {
	h := newAPIHarness(t, "")

	h.store.Set("projects", json.RawMessage(`[]`), time.Hour)
	h.tracker.Touch()

	rec := h.do(t, "GET", "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cache.Entries != 1 {
		t.Fatalf("expected 1 cache entry, got %d", resp.Cache.Entries)
	}
	if !resp.Freshness.IsFresh {
		t.Fatalf("expected fresh state, got %+v", resp.Freshness)
	}
	if resp.Refresh.State != refresh.StateIdle {
		t.Fatalf("expected idle coordinator, got %s", resp.Refresh.State)
	}
}

func TestPatchConfig_AppliesAndValidates(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, "PATCH", "/api/v1/config", "", `{"base_url":"https://api.example.org","refresh_interval":"2m"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := h.runtimeCfg.Load()
	if got.BaseURL != "https://api.example.org" {
		t.Fatalf("base URL not applied: %q", got.BaseURL)
	}
	if got.RefreshInterval.Std() != 2*time.Minute {
		t.Fatalf("interval not applied: %v", got.RefreshInterval.Std())
	}
	if h.patched != 1 {
		t.Fatalf("expected one onApplied call, got %d", h.patched)
	}
}

func TestPatchConfig_RejectsInvalidWithoutApplying(t *testing.T) {
	h := newAPIHarness(t, "")
	before := h.runtimeCfg.Load()

	// outdated >= stale violates threshold ordering.
	rec := h.do(t, "PATCH", "/api/v1/config", "", `{"outdated_threshold":"20m","stale_threshold":"10m"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if h.runtimeCfg.Load() != before {
		t.Fatal("invalid patch must leave the running config untouched")
	}
	if h.patched != 0 {
		t.Fatal("onApplied must not run for a rejected patch")
	}
}

func TestRefreshNow_ReportsStarted(t *testing.T) {
	h := newAPIHarness(t, "")

	var calls atomic.Int32
	h.coord.Register("dashboard", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	rec := h.do(t, "POST", "/api/v1/actions/refresh", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["started"] || calls.Load() != 1 {
		t.Fatalf("expected one started cycle, got started=%v calls=%d", resp["started"], calls.Load())
	}
}

func TestCacheClear_EmptiesStore(t *testing.T) {
	h := newAPIHarness(t, "")

	h.store.Set("projects", json.RawMessage(`[]`), time.Hour)
	rec := h.do(t, "POST", "/api/v1/cache/clear", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if h.store.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", h.store.Len())
	}
}

func TestVisibility_TogglesPause(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, "POST", "/api/v1/visibility", "", `{"visible":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if rec := h.do(t, "POST", "/api/v1/visibility", "", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing field, got %d", rec.Code)
	}
}

func TestProbeNow_ReturnsState(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, "POST", "/api/v1/actions/probe", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st connectivity.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Online {
		t.Fatalf("expected online after successful probe, got %+v", st)
	}
}
