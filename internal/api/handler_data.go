package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trackdeck/trackdeck/internal/cachestore"
	"github.com/trackdeck/trackdeck/internal/fetchpolicy"
)

// Reserved query parameters carry per-call options. They are stripped
// from the cache key so the same logical query maps to the same entry
// regardless of options.
const (
	paramAllowStale = "_allow_stale"
	paramTTL        = "_ttl"
)

// DataResponse is the envelope for proxied backend reads.
type DataResponse struct {
	Data    json.RawMessage     `json:"data"`
	Stale   bool                `json:"stale"`
	Cached  bool                `json:"cached"`
	Outcome fetchpolicy.Outcome `json:"outcome"`
}

// HandleData returns a handler for GET /api/v1/data/{path...}: the
// offline-resilient read path the UI shell uses for backend queries.
// The remote path plus its query parameters form the cache key; the
// fetch goes through the fallback policy, so offline or failing reads
// are answered from cache and flagged stale.
//
// Per-call options ride in reserved query parameters: _allow_stale lets
// the offline path serve entries past their TTL, _ttl overrides the
// cache TTL for this key (Go duration string).
func HandleData(policy *fetchpolicy.Policy, client *http.Client, baseURL func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := baseURL()
		if base == "" {
			WriteError(w, http.StatusServiceUnavailable, "NO_BACKEND", "base_url is not configured")
			return
		}

		remotePath := r.PathValue("path")

		params := url.Values{}
		var opts fetchpolicy.Options
		for name, values := range r.URL.Query() {
			switch name {
			case paramAllowStale:
				opts.AllowStale = len(values) > 0 && values[0] == "true"
			case paramTTL:
				if len(values) > 0 {
					d, err := time.ParseDuration(values[0])
					if err != nil {
						WriteError(w, http.StatusBadRequest, "INVALID_TTL", fmt.Sprintf("%s: %v", paramTTL, err))
						return
					}
					opts.TTL = d
				}
			default:
				params[name] = values
			}
		}

		key := cachestore.BuildKey(remotePath, params)
		fetchFn := backendFetchFn(client, base, remotePath, params, r.Header.Get("X-Upstream-Authorization"))

		result, err := policy.FetchWithCache(r.Context(), key, fetchFn, opts)
		if err != nil {
			var statusErr *fetchpolicy.HTTPStatusError
			switch {
			case errors.As(err, &statusErr):
				WriteError(w, statusErr.StatusCode, "UPSTREAM_ERROR", statusErr.Error())
			case errors.Is(err, fetchpolicy.ErrNoData):
				// A defined outcome, not a failure: the caller renders
				// an empty state.
				WriteJSON(w, http.StatusOK, DataResponse{
					Stale:   result.Stale,
					Outcome: result.Outcome,
				})
			default:
				WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
			}
			return
		}

		WriteJSON(w, http.StatusOK, DataResponse{
			Data:    result.Data,
			Stale:   result.Stale,
			Cached:  result.Cached,
			Outcome: result.Outcome,
		})
	}
}

func backendFetchFn(client *http.Client, base, remotePath string, params url.Values, upstreamAuth string) fetchpolicy.FetchFn {
	return func(ctx context.Context) (json.RawMessage, error) {
		target := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(remotePath, "/")
		if len(params) > 0 {
			target += "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &fetchpolicy.NonRetryableError{Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if upstreamAuth != "" {
			req.Header.Set("Authorization", upstreamAuth)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &fetchpolicy.HTTPStatusError{StatusCode: resp.StatusCode, URL: target}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if !json.Valid(body) {
			return nil, &fetchpolicy.NonRetryableError{Err: fmt.Errorf("upstream returned invalid JSON from %s", target)}
		}
		return body, nil
	}
}
