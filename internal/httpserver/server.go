// Package httpserver provides the ambient HTTP side-channel the service
// exposes alongside its RPC listener: liveness/readiness and Prometheus
// metrics. All domain operations are reached over the RPC facade
// (internal/rpcservice, internal/rpctransport), not over HTTP — see
// SPEC_FULL.md §6.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by anything whose reachability we want to surface on
// /readyz (the KV store's backing redis client).
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Server is the ambient health/metrics HTTP server.
type Server struct {
	Router    *chi.Mux
	logger    *slog.Logger
	redis     Pinger
	startedAt time.Time
}

// NewServer builds the health/metrics side-channel server.
func NewServer(logger *slog.Logger, rdb Pinger, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		logger:    logger,
		redis:     rdb,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.redis.Ping(r.Context()).Err(); err != nil {
		s.logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "kv store not ready")
		return
	}
	Respond(w, http.StatusOK, map[string]any{
		"status": "ready",
		"uptime": time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}
