package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/registry"
	"github.com/wattscope/wattscope/pkg/plugin"
)

type routePlugin struct {
	healthErr error
}

func (p *routePlugin) Info() plugin.PluginInfo {
	return plugin.PluginInfo{Name: "energy", Version: "0.1.0", APIVersion: plugin.APIVersionCurrent}
}
func (p *routePlugin) Init(context.Context, plugin.Dependencies) error { return nil }
func (p *routePlugin) Start(context.Context) error                     { return nil }
func (p *routePlugin) Stop(context.Context) error                      { return nil }
func (p *routePlugin) Health(context.Context) error                    { return p.healthErr }

func (p *routePlugin) Routes() []plugin.Route {
	return []plugin.Route{{
		Method: http.MethodGet,
		Path:   "/analytics",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}),
	}}
}

func newTestServer(t *testing.T, p plugin.Plugin) *Server {
	t.Helper()
	reg := registry.New(zap.NewNop())
	if p != nil {
		if err := reg.Register(p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	v, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	srv, err := New(v, zap.NewNop(), reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz_UnhealthyPluginReports503(t *testing.T) {
	p := &routePlugin{healthErr: context.DeadlineExceeded}
	srv := newTestServer(t, p)

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestPluginRoutesMountedUnderAPIV1(t *testing.T) {
	srv := newTestServer(t, &routePlugin{})

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/energy/analytics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Error("missing X-Request-ID header")
	}
	if got := rec.Header().Get("X-WattScope-Version"); got == "" {
		t.Error("missing X-WattScope-Version header")
	}
}

func TestPluginsEndpointListsActive(t *testing.T) {
	srv := newTestServer(t, &routePlugin{})

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil))

	var body struct {
		Plugins []plugin.PluginInfo `json:"plugins"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Plugins) != 1 || body.Plugins[0].Name != "energy" {
		t.Fatalf("plugins = %+v, want [energy]", body.Plugins)
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}

func TestProblemResponse_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "no such zone", "/api/v1/geofence/zones/xyz")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != http.StatusNotFound || p.Detail != "no such zone" {
		t.Fatalf("problem = %+v", p)
	}
}
