package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/config"
	errwrap "github.com/sourcetap/sourcetap/internal/errors"
	"github.com/sourcetap/sourcetap/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check to verify sourcetap can start: configuration
loads, the run store opens, and every enabled source builds.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if observability.CLILogger == nil {
			exitWith(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewInternalError("Logger not initialized"))
			return
		}
		observability.CLILogger.Info("Running health check...")

		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			exitWith(foundry.ExitConfigInvalid, "Version information missing", errwrap.NewInternalError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		cfg, err := config.Load(ctx)
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration invalid")
			exitWith(foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapInvalidInput(ctx, err, "config load failed"))
			return
		}
		observability.CLILogger.Info("✅ Configuration loaded")

		sources, storeErr, err := selfCheck(ctx, cfg)
		if storeErr != nil {
			if cfg.Cache.Backend == config.CacheBackendStore {
				observability.CLILogger.Error("❌ FAIL: Run store unavailable")
				exitWith(foundry.ExitExternalServiceUnavailable, "Run store unavailable", errwrap.WrapDatabaseError(ctx, storeErr, "store open failed"))
				return
			}
			observability.CLILogger.Warn("⚠️  Run store unavailable; runs will not be persisted", zap.Error(storeErr))
		} else {
			observability.CLILogger.Info("✅ Run store ready", zap.String("driver", cfg.Store.Driver))
		}
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Sources could not be built")
			exitWith(foundry.ExitConfigInvalid, "Sources could not be built", err)
			return
		}
		observability.CLILogger.Info("✅ Sources ready", zap.Strings("sources", sources))

		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

// selfCheck opens the store and builds every enabled source. A store failure
// is reported separately so callers can decide whether it is fatal.
func selfCheck(ctx context.Context, cfg *config.Config) (sources []string, storeErr error, err error) {
	db, storeErr := openStore(ctx, cfg.Store)
	if storeErr == nil {
		defer closeStore(db)
		if pingErr := db.Ping(ctx); pingErr != nil {
			storeErr = pingErr
		}
	}

	built, err := buildCollection(ctx, cfg, collectorSettings{NoCache: true})
	if err != nil {
		return nil, storeErr, err
	}
	defer built.Close() // nolint:errcheck // best-effort cleanup

	sources = built.Collector.Sources()
	if len(sources) == 0 {
		return nil, storeErr, fmt.Errorf("no sources enabled")
	}
	return sources, storeErr, nil
}
