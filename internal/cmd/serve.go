package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core/store"
	errwrap "github.com/sourcetap/sourcetap/internal/errors"
	"github.com/sourcetap/sourcetap/internal/metrics"
	"github.com/sourcetap/sourcetap/internal/observability"
	"github.com/sourcetap/sourcetap/internal/server"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collection HTTP API",
	Long: `Start the HTTP API over every enabled source, with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (source settings need a restart)

On shutdown the server drains in-flight requests, saves rate limit state,
and flushes logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := config.Load(ctx, serveOverrides(cmd))
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port, metrics.Namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
			observability.ServerLogger.Info("Metrics exporter listening",
				zap.Int("port", observability.GetMetricsPort()))
		}

		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			if cfg.Cache.Backend == config.CacheBackendStore {
				return errwrap.WrapDatabaseError(ctx, err, "store required by cache backend")
			}
			observability.ServerLogger.Warn("Run store unavailable; runs will not be persisted",
				zap.Error(err))
			db = nil
		}

		built, err := buildCollection(ctx, cfg, collectorSettings{Store: db})
		if err != nil {
			closeStore(db)
			return err
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Strings("sources", built.Collector.Sources()),
			zap.Bool("metrics", cfg.Metrics.Enabled))

		opts := server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			Version:      versionInfo.Version,
			Commit:       versionInfo.Commit,
			BuildDate:    versionInfo.BuildDate,
			Collector:    built.Collector,
			Auth:         cfg.Server.Auth,
		}
		if db != nil {
			opts.Store = db
		}
		srv := server.New(opts)
		if cfg.Metrics.Enabled {
			srv.RegisterOptionalChecker("telemetry", telemetryHealthChecker{})
		}
		metrics.SetServerStartTime(time.Now().Unix())

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Handlers run LIFO: the HTTP server stops first, the logger flushes last.
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := built.SaveRateState(ctx); err != nil {
				observability.ServerLogger.Warn("Failed to save rate limit state", zap.Error(err))
			}
			if err := built.Close(); err != nil {
				observability.ServerLogger.Warn("Failed to close cache", zap.Error(err))
			}
			closeStore(db)
			if err := observability.StopMetrics(); err != nil {
				observability.ServerLogger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.Load(ctx, serveOverrides(cmd))
			if err != nil {
				observability.ServerLogger.Error("Failed to reload config", zap.Error(err))
				return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
			}

			if reloaded.Logging.Level != cfg.Logging.Level {
				observability.ServerLogger.Info("Log level changed; restart to apply",
					zap.String("from", cfg.Logging.Level),
					zap.String("to", reloaded.Logging.Level))
			}
			observability.ServerLogger.Info("Configuration reloaded",
				zap.Int("sources_configured", len(reloaded.Sources)))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (default from config)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (default from config)")
}

// serveOverrides turns explicitly set flags into config overrides.
func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		overrides["port"] = serverPort
	}
	if len(overrides) == 0 {
		return nil
	}
	return map[string]any{"server": overrides}
}

func closeStore(db *store.Store) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logWarn("Failed to close store", zap.Error(err))
	}
}
