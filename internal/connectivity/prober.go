package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Prober issues one reachability check against the backend and returns
// the observed latency. Injectable for testing.
type Prober func(ctx context.Context, probeURL string, headers map[string]string) (time.Duration, error)

// ProbeStatusError indicates the backend answered, but with a status that
// does not count as reachable. For hysteresis purposes it is treated
// exactly like a transport failure.
type ProbeStatusError struct {
	StatusCode int
	URL        string
}

func (e *ProbeStatusError) Error() string {
	return fmt.Sprintf("probe: unexpected status %d from %s", e.StatusCode, e.URL)
}

// NewHTTPProber returns the production Prober: a lightweight GET with a
// cache-busting query parameter, bounded by the caller's context deadline.
func NewHTTPProber(client *http.Client) Prober {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context, probeURL string, headers map[string]string) (time.Duration, error) {
		busted, err := withCacheBuster(probeURL)
		if err != nil {
			return 0, fmt.Errorf("probe: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, busted, nil)
		if err != nil {
			return 0, fmt.Errorf("probe: %w", err)
		}
		for name, value := range headers {
			req.Header.Set(name, value)
		}
		req.Header.Set("Cache-Control", "no-cache")

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("probe: %w", err)
		}
		defer resp.Body.Close()
		latency := time.Since(start)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return latency, &ProbeStatusError{StatusCode: resp.StatusCode, URL: probeURL}
		}
		return latency, nil
	}
}

// withCacheBuster appends a timestamp query parameter so intermediate
// caches and the platform's own HTTP cache cannot fake reachability.
func withCacheBuster(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("_t", strconv.FormatInt(time.Now().UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
