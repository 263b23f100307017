package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/trackdeck/trackdeck/internal/cachestore"
	"github.com/trackdeck/trackdeck/internal/config"
	"github.com/trackdeck/trackdeck/internal/connectivity"
	"github.com/trackdeck/trackdeck/internal/fetchpolicy"
	"github.com/trackdeck/trackdeck/internal/freshness"
	"github.com/trackdeck/trackdeck/internal/refresh"
)

// Deps bundles the components the API exposes.
type Deps struct {
	Monitor     *connectivity.Monitor
	Store       *cachestore.Store
	Tracker     *freshness.Tracker
	Coordinator *refresh.Coordinator
	Policy      *fetchpolicy.Policy
	// HTTPClient performs proxied backend reads for the data endpoint.
	HTTPClient *http.Client
	RuntimeCfg *atomic.Pointer[config.RuntimeConfig]
	// OnConfigPatched runs after a successful PATCH swap (re-probe on
	// base URL change, heartbeat re-arm).
	OnConfigPatched func(old, applied *config.RuntimeConfig)
}

// Server wraps the HTTP server and mux for the control API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(
	listenAddress string,
	port int,
	adminToken string,
	apiMaxBodyBytes int64,
	deps Deps,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/status", HandleStatus(deps.Monitor, deps.Tracker, deps.Store, deps.Coordinator))
	authed.Handle("GET /api/v1/config", HandleGetConfig(deps.RuntimeCfg))
	authed.Handle("GET /api/v1/config/default", HandleGetDefaultConfig())
	authed.Handle("PATCH /api/v1/config", HandlePatchConfig(deps.RuntimeCfg, deps.OnConfigPatched))
	authed.Handle("POST /api/v1/actions/refresh", HandleRefreshNow(deps.Coordinator))
	authed.Handle("POST /api/v1/actions/probe", HandleProbeNow(deps.Monitor))
	authed.Handle("POST /api/v1/cache/clear", HandleCacheClear(deps.Store))
	authed.Handle("POST /api/v1/visibility", HandleVisibility(deps.Coordinator))

	if deps.Policy != nil {
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		authed.Handle("GET /api/v1/data/{path...}", HandleData(deps.Policy, client, func() string {
			return deps.RuntimeCfg.Load().BaseURL
		}))
	}

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
