package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core/engine"
	"github.com/sourcetap/sourcetap/internal/core/store"
	apperrors "github.com/sourcetap/sourcetap/internal/errors"
	"github.com/sourcetap/sourcetap/internal/observability"
	"github.com/sourcetap/sourcetap/internal/server/handlers"
	servermw "github.com/sourcetap/sourcetap/internal/server/middleware"
)

// Options configures the HTTP service.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
	Commit       string
	BuildDate    string

	Collector *engine.Collector
	// Store is optional. Without it runs are not persisted and /v1/runs
	// answers STORE_UNAVAILABLE.
	Store *store.Store
	Auth  config.AuthConfig
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	server     *http.Server
	opts       Options
	health     *handlers.HealthManager
	collection *handlers.Collection
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	if opts.Collector == nil {
		opts.Collector = engine.NewCollector()
	}

	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewNotFoundError("The requested resource was not found")
		apperrors.RespondWithError(w, req, err)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource")
		apperrors.RespondWithError(w, req, err)
	})

	health := handlers.NewHealthManager(opts.Version)
	health.RegisterChecker("collector", handlers.CollectorChecker(opts.Collector))

	collection := &handlers.Collection{Collector: opts.Collector}
	if opts.Store != nil {
		health.RegisterOptionalChecker("store", handlers.StoreChecker(opts.Store))
		collection.Store = opts.Store
	}

	s := &Server{
		router:     r,
		opts:       opts,
		health:     health,
		collection: collection,
	}

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  durationOr(s.opts.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.opts.WriteTimeout, 5*time.Minute),
		IdleTimeout:  durationOr(s.opts.IdleTimeout, 120*time.Second),
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.opts.Host),
		zap.Int("port", s.opts.Port),
		zap.String("addr", addr),
		zap.Strings("sources", s.opts.Collector.Sources()),
		zap.Bool("auth", s.opts.Auth.Enabled()))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// RegisterOptionalChecker adds a dependency whose failure reports the
// service as degraded rather than unavailable.
func (s *Server) RegisterOptionalChecker(name string, checker handlers.HealthChecker) {
	s.health.RegisterOptionalChecker(name, checker)
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Port
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
