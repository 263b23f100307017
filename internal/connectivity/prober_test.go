package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProber_Success(t *testing.T) {
	var gotBuster, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBuster = r.URL.Query().Get("_t")
		gotHeader = r.Header.Get("X-Client")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	probe := NewHTTPProber(srv.Client())
	latency, err := probe(context.Background(), srv.URL+"/api/health", map[string]string{"X-Client": "trackdeck"})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if latency <= 0 {
		t.Fatalf("expected positive latency, got %v", latency)
	}
	if gotBuster == "" {
		t.Fatalf("expected cache-busting query parameter")
	}
	if gotHeader != "trackdeck" {
		t.Fatalf("probe header not forwarded, got %q", gotHeader)
	}
}

func TestHTTPProber_NonSuccessStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	probe := NewHTTPProber(srv.Client())
	_, err := probe(context.Background(), srv.URL, nil)

	var statusErr *ProbeStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected ProbeStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", statusErr.StatusCode)
	}
}

func TestHTTPProber_TimeoutIsFailure(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	probe := NewHTTPProber(srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := probe(ctx, srv.URL, nil); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestHTTPProber_BadURL(t *testing.T) {
	probe := NewHTTPProber(nil)
	if _, err := probe(context.Background(), "://not-a-url", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
