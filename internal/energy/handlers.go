package energy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/wattscope/wattscope/internal/server"
	"github.com/wattscope/wattscope/pkg/plugin"

	sdk "github.com/wattscope/wattscope/pkg/energy"
)

// Routes implements plugin.HTTPProvider. Mounted under /api/v1/energy.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodPost, Path: "/ingest", Handler: m.handleIngest},
		{Method: http.MethodGet, Path: "/analytics", Handler: m.handleAnalytics},
		{Method: http.MethodGet, Path: "/observations", Handler: m.handleObservations},
	}
}

type ingestRequest struct {
	DeviceStates sdk.DeviceStates `json:"deviceStates"`
}

// handleIngest accepts a room -> device-list state map. Missing device
// fields degrade to safe defaults (off, zero value) rather than erroring.
func (m *Module) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "request body must be JSON", r.URL.Path)
		return
	}
	if req.DeviceStates == nil {
		req.DeviceStates = sdk.DeviceStates{}
	}

	result := m.Ingest(r.Context(), req.DeviceStates, time.Now())
	writeJSON(w, http.StatusOK, result)
}

func (m *Module) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	// An under-filled buffer is not an error: the bundle's status field
	// distinguishes it and the client retries once data accumulates.
	writeJSON(w, http.StatusOK, m.Analytics(r.Context()))
}

const defaultObservationLimit = 100

func (m *Module) handleObservations(w http.ResponseWriter, r *http.Request) {
	limit := defaultObservationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			server.BadRequest(w, "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"observations": m.Observations(limit),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
