package geofence

import (
	"encoding/json"
	"net/http"

	"github.com/wattscope/wattscope/internal/server"
	"github.com/wattscope/wattscope/pkg/plugin"
)

// Routes implements plugin.HTTPProvider. Mounted under /api/v1/geofence.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/zones", Handler: m.handleListZones},
		{Method: http.MethodPost, Path: "/zones", Handler: m.handleCreateZone},
		{Method: http.MethodDelete, Path: "/zones/{id}", Handler: m.handleDeleteZone},
		{Method: http.MethodGet, Path: "/stats", Handler: m.handleStats},
		{Method: http.MethodGet, Path: "/analytics", Handler: m.handleAnalytics},
		{Method: http.MethodPost, Path: "/optimize", Handler: m.handleOptimize},
	}
}

func (m *Module) handleListZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Zones())
}

type createZoneRequest struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Radius  float64 `json:"radius"`
}

func (m *Module) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var req createZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "request body must be JSON", r.URL.Path)
		return
	}

	zone, err := m.CreateZone(req.Name, req.Address, req.Lat, req.Lng, req.Radius)
	if err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, zone)
}

func (m *Module) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !m.DeleteZone(id) {
		server.NotFound(w, "no zone with id "+id, r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Stats())
}

func (m *Module) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Analytics(r.Context()))
}

func (m *Module) handleOptimize(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Optimize())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
