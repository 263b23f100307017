package api

import (
	"net/http"

	"github.com/trackdeck/trackdeck/internal/cachestore"
	"github.com/trackdeck/trackdeck/internal/connectivity"
	"github.com/trackdeck/trackdeck/internal/freshness"
	"github.com/trackdeck/trackdeck/internal/refresh"
)

// StatusResponse is the one snapshot the UI shell polls to render
// network indicators, staleness badges and cache diagnostics.
type StatusResponse struct {
	Connectivity connectivity.State `json:"connectivity"`
	Freshness    freshness.State    `json:"freshness"`
	Cache        cachestore.Stats   `json:"cache"`
	Refresh      RefreshStatus      `json:"refresh"`
}

// RefreshStatus summarizes the coordinator for the status endpoint.
type RefreshStatus struct {
	State    refresh.State `json:"state"`
	Surfaces []string      `json:"surfaces"`
}

// HandleStatus returns a handler for GET /api/v1/status.
func HandleStatus(
	monitor *connectivity.Monitor,
	tracker *freshness.Tracker,
	store *cachestore.Store,
	coord *refresh.Coordinator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Connectivity: monitor.Status(),
			Freshness:    tracker.Snapshot(),
			Cache:        store.Snapshot(),
			Refresh: RefreshStatus{
				State:    coord.State(),
				Surfaces: coord.Registered(),
			},
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
