package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/trackdeck/trackdeck/internal/config"
)

// HandleGetConfig returns a handler for GET /api/v1/config.
func HandleGetConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, runtimeCfg.Load())
	}
}

// HandleGetDefaultConfig returns a handler for GET /api/v1/config/default.
func HandleGetDefaultConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, config.NewDefaultRuntimeConfig())
	}
}

// HandlePatchConfig returns a handler for PATCH /api/v1/config. The body
// is a partial RuntimeConfig; absent fields keep their current values.
// The patched config is validated before the swap, so a bad patch leaves
// the running config untouched. onApplied runs after a successful swap
// with the previous and new configs, letting the caller re-probe on a
// base URL change and re-arm heartbeats.
func HandlePatchConfig(
	runtimeCfg *atomic.Pointer[config.RuntimeConfig],
	onApplied func(old, applied *config.RuntimeConfig),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", "failed to read request body")
			return
		}

		old := runtimeCfg.Load()
		patched := old.Clone()
		if err := json.Unmarshal(body, patched); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON: "+err.Error())
			return
		}
		if err := patched.Validate(); err != nil {
			WriteError(w, http.StatusUnprocessableEntity, "INVALID_CONFIG", err.Error())
			return
		}

		runtimeCfg.Store(patched)
		if onApplied != nil {
			onApplied(old, patched)
		}
		WriteJSON(w, http.StatusOK, patched)
	}
}
