package fetchpolicy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeCache struct {
	entries map[string]json.RawMessage
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]json.RawMessage{}}
}

func (c *fakeCache) Get(key string, allowStale bool) (json.RawMessage, bool) {
	data, ok := c.entries[key]
	return data, ok
}

func (c *fakeCache) Set(key string, data json.RawMessage, ttl time.Duration) {
	c.entries[key] = data
	c.sets++
}

type policyHarness struct {
	cache   *fakeCache
	online  bool
	touched int
	policy  *Policy
}

func newPolicyHarness(attempts int) *policyHarness {
	h := &policyHarness{cache: newFakeCache(), online: true}
	h.policy = NewPolicy(PolicyConfig{
		Cache:               h.cache,
		Online:              func() bool { return h.online },
		OnFreshData:         func() { h.touched++ },
		RetryMaxAttempts:    func() int { return attempts },
		RetryInitialBackoff: func() time.Duration { return time.Millisecond },
	})
	return h
}

func TestFetchWithCache_OfflineSkipsNetwork(t *testing.T) {
	h := newPolicyHarness(1)
	h.online = false
	h.cache.entries["projects"] = json.RawMessage(`[{"id":1}]`)

	calls := 0
	res, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, nil
		}, Options{AllowStale: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatal("fetchFn must not run while offline")
	}
	if !res.Stale || !res.Cached || res.Outcome != OutcomeStaleDataServed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Data) != `[{"id":1}]` {
		t.Fatalf("wrong payload: %s", res.Data)
	}
}

func TestFetchWithCache_OfflineNoCache(t *testing.T) {
	h := newPolicyHarness(1)
	h.online = false

	res, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			t.Fatal("fetchFn must not run while offline")
			return nil, nil
		}, Options{AllowStale: true})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if res.Outcome != OutcomeNetworkUnavailable || res.Data != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchWithCache_SuccessWritesThrough(t *testing.T) {
	h := newPolicyHarness(1)

	payload := json.RawMessage(`[{"id":1,"title":"Acme"}]`)
	res, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			return payload, nil
		}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stale || res.Cached || res.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.cache.sets != 1 {
		t.Fatalf("expected one write-through, got %d", h.cache.sets)
	}
	if h.touched != 1 {
		t.Fatalf("expected one freshness touch, got %d", h.touched)
	}

	// Same key offline now serves the identical payload, flagged stale.
	h.online = false
	res, err = h.policy.FetchWithCache(context.Background(), "projects", nil, Options{AllowStale: true})
	if err != nil {
		t.Fatalf("offline read: %v", err)
	}
	if string(res.Data) != string(payload) || !res.Stale {
		t.Fatalf("offline read mismatch: %+v", res)
	}
}

func TestFetchWithCache_FailureFallsBackStale(t *testing.T) {
	h := newPolicyHarness(1)
	h.cache.entries["projects"] = json.RawMessage(`[{"id":1}]`)

	// AllowStale false: the failure path still serves stale. Old data
	// beats no data once the network has already failed.
	res, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			return nil, &HTTPStatusError{StatusCode: 503, URL: "https://api.example.com/projects"}
		}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Stale || !res.Cached || res.Outcome != OutcomeStaleDataServed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.touched != 0 {
		t.Fatal("failed fetch must not touch freshness")
	}
}

func TestFetchWithCache_FailureNoCache(t *testing.T) {
	h := newPolicyHarness(1)

	wantErr := errors.New("connection refused")
	res, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			return nil, wantErr
		}, Options{})
	if !errors.Is(err, ErrNoData) || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped ErrNoData, got %v", err)
	}
	if res.Outcome != OutcomeNetworkUnavailable {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchWithCache_AuthErrorPropagates(t *testing.T) {
	h := newPolicyHarness(3)
	h.cache.entries["projects"] = json.RawMessage(`[{"id":1}]`)

	calls := 0
	_, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, &HTTPStatusError{StatusCode: 401, URL: "https://api.example.com/projects"}
		}, Options{})

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 401 {
		t.Fatalf("expected 401 to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("auth failure must not be retried, got %d calls", calls)
	}
}

func TestFetchWithRetry_RetriesServerErrors(t *testing.T) {
	h := newPolicyHarness(3)

	calls := 0
	res, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			if calls < 3 {
				return nil, &HTTPStatusError{StatusCode: 500, URL: "https://api.example.com/projects"}
			}
			return json.RawMessage(`[]`), nil
		}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchWithRetry_NoRetryOnClientError(t *testing.T) {
	h := newPolicyHarness(3)

	calls := 0
	_, err := h.policy.FetchWithCache(context.Background(), "missing",
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, &HTTPStatusError{StatusCode: 404, URL: "https://api.example.com/missing"}
		}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("404 must not be retried, got %d calls", calls)
	}
}

func TestFetchWithRetry_StopsWhenConnectivityLost(t *testing.T) {
	h := newPolicyHarness(5)

	calls := 0
	_, err := h.policy.FetchWithCache(context.Background(), "projects",
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			h.online = false // monitor flips mid-retry
			return nil, errors.New("timeout")
		}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected retry loop to stop after connectivity loss, got %d calls", calls)
	}
}
