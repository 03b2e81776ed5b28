package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
)

// ReadinessChecker reports whether the service is ready to consume tasks.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ConnectorLister exposes connector run state for the status endpoint.
type ConnectorLister interface {
	ListConnectors(ctx context.Context) ([]domain.Connector, error)
}

// Server exposes health, readiness, connector status, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	connectors ConnectorLister
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /connectors, and
// /metrics routes.
func NewServer(addr string, ready ReadinessChecker, connectors ConnectorLister, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		connectors: connectors,
		logger:     logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.HandleFunc("GET /connectors", s.handleConnectors)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type connectorStatus struct {
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	LastSuccessRun *time.Time `json:"last_success_run,omitempty"`
}

func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	connectors, err := s.connectors.ListConnectors(r.Context())
	if err != nil {
		s.logger.Error("failed to list connectors", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	statuses := make([]connectorStatus, len(connectors))
	for i, conn := range connectors {
		statuses[i] = connectorStatus{
			Type:           string(conn.Type),
			Status:         string(conn.Status),
			LastSuccessRun: conn.LastSuccessRun,
		}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
