package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/config"
	apperrors "github.com/sourcetap/sourcetap/internal/errors"
	"github.com/sourcetap/sourcetap/internal/metrics"
	"github.com/sourcetap/sourcetap/internal/observability"
	"github.com/sourcetap/sourcetap/internal/server/handlers"
	servermw "github.com/sourcetap/sourcetap/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)

	s.router.Get("/version", handlers.NewVersionHandler(config.AppName, handlers.BuildInfo{
		Version:   s.opts.Version,
		Commit:    s.opts.Commit,
		BuildDate: s.opts.BuildDate,
	}, s.opts.Collector))

	s.router.Method(http.MethodGet, "/metrics", newExporterProxy())
	s.registerSourceMetrics()

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/sources", s.collection.ListSources)
		r.Get("/telemetry", s.collection.Telemetry)
		r.Get("/runs", s.collection.ListRuns)

		r.Group(func(r chi.Router) {
			if s.opts.Auth.Enabled() {
				r.Use(servermw.BearerAuth([]byte(s.opts.Auth.JWTSecret), s.opts.Auth.Issuer))
			}
			r.Post("/sources/{name}/collect", s.collection.CollectSource)
			r.Post("/collect", s.collection.CollectMany)
		})
	})
}

// registerSourceMetrics exposes per-source telemetry in Prometheus format.
func (s *Server) registerSourceMetrics() {
	handler, err := metrics.SourceHandler(s.opts.Collector)
	if err != nil {
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Source metrics endpoint disabled", zap.Error(err))
		}
		s.router.Get("/metrics/sources", func(w http.ResponseWriter, r *http.Request) {
			apperrors.RespondWithError(w, r, err)
		})
		return
	}
	s.router.Method(http.MethodGet, "/metrics/sources", handler)
}
