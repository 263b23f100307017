package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/trackdeck/trackdeck/internal/cachestore"
	"github.com/trackdeck/trackdeck/internal/connectivity"
	"github.com/trackdeck/trackdeck/internal/refresh"
)

// HandleRefreshNow returns a handler for POST /api/v1/actions/refresh.
// A cycle already in flight is reported, not queued.
func HandleRefreshNow(coord *refresh.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := coord.RefreshAll(r.Context())
		WriteJSON(w, http.StatusOK, map[string]bool{"started": started})
	}
}

// HandleProbeNow returns a handler for POST /api/v1/actions/probe.
// Forces an immediate connectivity check and returns the resulting state.
// Concurrent callers share one in-flight probe.
func HandleProbeNow(monitor *connectivity.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		monitor.CheckNow(ctx)
		WriteJSON(w, http.StatusOK, monitor.Status())
	}
}

// HandleCacheClear returns a handler for POST /api/v1/cache/clear.
// Wipes both the in-memory map and the durable mirror (logout path).
func HandleCacheClear(store *cachestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Clear(); err != nil {
			WriteError(w, http.StatusInternalServerError, "CLEAR_FAILED", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// HandleVisibility returns a handler for POST /api/v1/visibility. The UI
// shell reports focus/background transitions here so visibility-gated
// refresh can pause and resume.
func HandleVisibility(coord *refresh.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Visible *bool `json:"visible"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Visible == nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", "expected {\"visible\": bool}")
			return
		}
		coord.SetVisible(*body.Visible)
		WriteJSON(w, http.StatusOK, map[string]string{"state": string(coord.State())})
	}
}
