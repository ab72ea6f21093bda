// Package web serves the station over HTTP(S): the commands other stations
// call, the Sensor Control operator routes and a small status page.
package web

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/control"
	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
)

// Server encapsulates the HTTP server configuration and dependencies
type Server struct {
	config   *Config
	deps     Dependencies
	control  *control.Orchestrator
	renderer *TemplateRenderer
	logger   *zap.Logger
	router   chi.Router
	server   *http.Server
	routes   map[string]string
	ctx      context.Context
}

// NewServer creates the server. orchestrator may be nil on stations that do
// not manage others, in which case the Sensor Control routes are absent.
func NewServer(ctx context.Context, config *Config, deps Dependencies, orchestrator *control.Orchestrator, logger *zap.Logger) (*Server, error) {
	if config == nil {
		return nil, errors.New("web.Config cannot be nil - use config.Load().WebConfig() instead")
	}
	if deps.Sensors == nil {
		return nil, errors.New("web server needs a sensor reader")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	renderer, err := NewTemplateRenderer()
	if err != nil {
		return nil, err
	}
	if deps.Station.StartTime.IsZero() {
		deps.Station.StartTime = time.Now()
	}

	s := &Server{
		config:   config,
		deps:     deps,
		control:  orchestrator,
		renderer: renderer,
		logger:   logger,
		ctx:      ctx,
		routes: map[string]string{
			"/":             "Station page",
			"/health":       "Health status",
			"/measurements": "Current sensor readings (JSON)",
			"/telemetry":    "Telemetry delivery status (JSON)",
			"/metrics":      "Prometheus metrics",
		},
	}
	if orchestrator != nil {
		s.routes["/SensorControlManage"] = "Sensor Control"
	}

	s.router = s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/measurements", s.handleMeasurements)
	r.Get("/telemetry", s.handleTelemetry)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuth())
		s.stationRoutes(r)
		if s.control != nil {
			s.controlRoutes(r)
		}
	})
	return r
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// GetRoutes returns the public routes and their descriptions.
func (s *Server) GetRoutes() map[string]string {
	routesCopy := make(map[string]string, len(s.routes))
	maps.Copy(routesCopy, s.routes)
	return routesCopy
}

// Start serves until the server context is cancelled, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) Start() error {
	certFile, keyFile := s.config.CertFile, s.config.KeyFile
	if s.config.TLS && (certFile == "" || keyFile == "") {
		var err error
		certFile, keyFile, err = EnsureCertificate(s.config.CertDir, s.deps.Station.Hostname)
		if err != nil {
			return err
		}
	}

	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr), zap.Bool("tls", s.config.TLS))

	serverErr := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLS {
			err = s.server.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("failed to start server: %w", err)
			return
		}
		serverErr <- nil
	}()

	select {
	case <-s.ctx.Done():
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", zap.Error(err))
			return fmt.Errorf("failed to shutdown server: %w", err)
		}

		s.logger.Info("HTTP server stopped")
		return s.ctx.Err()

	case err := <-serverErr:
		return err
	}
}
