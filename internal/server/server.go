// Package server provides the HTTP server hosting plugin routes,
// health endpoints, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/registry"
	"github.com/wattscope/wattscope/internal/version"
	"github.com/wattscope/wattscope/pkg/plugin"
)

// Server is the WattScope HTTP server.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	registry *registry.Registry
	mux      *http.ServeMux
	httpSrv  *http.Server
}

// Option customizes the server during construction.
type Option func(*Server)

// WithExtraRoute mounts an additional handler outside the plugin namespace.
func WithExtraRoute(pattern string, h http.Handler) Option {
	return func(s *Server) {
		s.mux.Handle(pattern, h)
	}
}

// New builds a server from configuration, mounting routes from all active
// plugins under /api/v1/{plugin-name}.
func New(v *viper.Viper, logger *zap.Logger, reg *registry.Registry, opts ...Option) (*Server, error) {
	var cfg Config
	if err := v.UnmarshalKey("server", &cfg); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)

	for name, routes := range reg.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, name, route.Path)
			s.mux.Handle(pattern, route.Handler)
			logger.Debug("mounted plugin route",
				zap.String("plugin", name),
				zap.String("pattern", pattern),
			)
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	handler := Chain(s.mux,
		Recovery(logger),
		RequestID(),
		Logging(logger),
		CORS(v.GetStringSlice("server.cors_origins")),
		SecurityHeaders(),
		VersionHeader(),
		RateLimit(v.GetFloat64("server.rate_limit_rps"), v.GetInt("server.rate_limit_burst")),
	)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Start begins serving HTTP requests. It blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr()))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	// Ready once every active plugin that reports health is healthy.
	for _, p := range s.registry.All() {
		hc, ok := p.(plugin.HealthChecker)
		if !ok {
			continue
		}
		if err := hc.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"plugin": p.Info().Name,
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	plugins := make(map[string]string)
	for _, p := range s.registry.All() {
		status := "running"
		if hc, ok := p.(plugin.HealthChecker); ok {
			if err := hc.Health(r.Context()); err != nil {
				status = err.Error()
			}
		}
		plugins[p.Info().Name] = status
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Map(),
		"plugins": plugins,
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	infos := make([]plugin.PluginInfo, 0)
	for _, p := range s.registry.All() {
		infos = append(infos, p.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": infos})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
