package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/store"
	"github.com/sourcetap/sourcetap/internal/metrics"
	"github.com/sourcetap/sourcetap/internal/observability"
	"github.com/sourcetap/sourcetap/internal/output"
	"github.com/sourcetap/sourcetap/internal/plan"
)

var collectCmd = &cobra.Command{
	Use:   "collect [source...]",
	Short: "Collect data from one or more sources",
	Long: `Run a collection across the named sources, or every enabled source when
none are named. Each source runs with its own rate limit, cache, and retry
policy; a failing source is reported and never stops the others.

Params come from a plan file (--plan) and individual --param flags, which
win over the plan.

Examples:
  sourcetap collect usgs --param usgs.min_magnitude=6
  sourcetap collect --plan plan.yaml --data-dir ./data --save
  sourcetap collect world_bank --param world_bank.countries=US,GB --output-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		failed, err := runCollect(cmd, args)
		if err != nil {
			return err
		}
		if failed > 0 {
			exitWith(foundry.ExitExternalServiceUnavailable,
				fmt.Sprintf("%d source(s) failed", failed), nil)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().String("plan", "", "Plan file (.yaml, .yml, .toml, .json) mapping sources to params")
	collectCmd.Flags().StringArray("param", nil, "Source param as source.key=value (repeatable)")
	collectCmd.Flags().Int("concurrency", 0, "Sources to run in parallel (default from plan or config)")
	collectCmd.Flags().Bool("no-cache", false, "Bypass the response cache")
	collectCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	collectCmd.Flags().String("out", "", "Write the report to a file (default stdout)")
	collectCmd.Flags().String("out-dir", "", "Write the report to a directory")
	collectCmd.Flags().String("data-dir", "", "Write each source's table as <source>.json into this directory")
	collectCmd.Flags().Bool("save", false, "Persist outcomes to the run store")
}

// runCollect performs the collection and returns how many sources failed.
func runCollect(cmd *cobra.Command, args []string) (int, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return 0, err
	}
	target, err := reportTargetFromFlags(cmd)
	if err != nil {
		return 0, err
	}

	planPath, _ := cmd.Flags().GetString("plan")
	paramFlags, _ := cmd.Flags().GetStringArray("param")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	save, _ := cmd.Flags().GetBool("save")

	cfg, err := config.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	var requested *plan.Plan
	if strings.TrimSpace(planPath) != "" {
		requested, err = plan.Load(planPath)
		if err != nil {
			return 0, err
		}
		if concurrency <= 0 {
			concurrency = requested.Concurrency
		}
	}

	paramsBySource, err := mergeParams(requested, paramFlags)
	if err != nil {
		return 0, err
	}

	only := args
	if len(only) == 0 && requested != nil {
		only = requested.Names()
	}

	needStore := save || cfg.Cache.Backend == config.CacheBackendStore
	db, err := openStore(ctx, cfg.Store)
	if err != nil {
		if needStore {
			return 0, fmt.Errorf("open store: %w", err)
		}
		logWarn("Run store unavailable; rate limit state will not persist", zap.Error(err))
		db = nil
	}
	if db != nil {
		defer db.Close() // nolint:errcheck // best-effort cleanup
	}

	built, err := buildCollection(ctx, cfg, collectorSettings{
		NoCache:     noCache,
		Concurrency: concurrency,
		Only:        only,
		Store:       db,
	})
	if err != nil {
		return 0, err
	}
	defer built.Close() // nolint:errcheck // best-effort cleanup

	if len(built.Collector.Sources()) == 0 {
		return 0, fmt.Errorf("no sources enabled")
	}

	if verbose {
		observability.CLILogger.Debug("Starting collection",
			zap.Strings("sources", built.Collector.Sources()),
			zap.Int("concurrency", built.Collector.Concurrency))
	}

	outcomes := built.Collector.CollectAll(ctx, paramsBySource)

	if err := built.SaveRateState(ctx); err != nil {
		logWarn("Failed to save rate limit state", zap.Error(err))
	}

	runID := uuid.NewString()
	if save {
		if err := saveOutcomes(ctx, db, runID, outcomes); err != nil {
			return 0, err
		}
	}

	if strings.TrimSpace(dataDir) != "" {
		written, err := output.WriteTables(dataDir, outcomes)
		if err != nil {
			return 0, err
		}
		for _, path := range written {
			observability.CLILogger.Info("Wrote table", zap.String("path", path))
		}
	}

	report := output.NewReport(runID, outcomes, built.Collector.Telemetry())
	if !save {
		report.RunID = ""
	}

	rendered, err := output.NewFormatter(format).FormatReport(report)
	if err != nil {
		return 0, err
	}
	if _, err := target.write(cmd.OutOrStdout(), "collect", format, rendered); err != nil {
		return 0, err
	}

	return report.Failed, nil
}

func saveOutcomes(ctx context.Context, db *store.Store, runID string, outcomes map[string]core.ExtractionOutcome) error {
	for _, outcome := range outcomes {
		if err := db.SaveOutcome(ctx, runID, outcome); err != nil {
			metrics.RecordStoreError("save_outcome")
			return fmt.Errorf("save run %s: %w", runID, err)
		}
	}
	return nil
}

// mergeParams layers --param flags over the plan's params.
func mergeParams(requested *plan.Plan, flags []string) (map[string]core.Params, error) {
	merged := make(map[string]core.Params)
	for _, name := range requested.Names() {
		merged[name] = requested.Params(name)
	}

	parsed, err := parseParamFlags(flags)
	if err != nil {
		return nil, err
	}
	for name, params := range parsed {
		if merged[name] == nil {
			merged[name] = core.Params{}
		}
		for k, v := range params {
			merged[name][k] = v
		}
	}
	return merged, nil
}

// parseParamFlags turns source.key=value pairs into per-source params.
// Values stay strings; core.Params coerces them on read.
func parseParamFlags(flags []string) (map[string]core.Params, error) {
	out := make(map[string]core.Params)
	for _, raw := range flags {
		assignment, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q (expected source.key=value)", raw)
		}
		source, key, ok := strings.Cut(strings.TrimSpace(assignment), ".")
		source = strings.ToLower(strings.TrimSpace(source))
		key = strings.TrimSpace(key)
		if !ok || source == "" || key == "" {
			return nil, fmt.Errorf("invalid --param %q (expected source.key=value)", raw)
		}
		if out[source] == nil {
			out[source] = core.Params{}
		}
		out[source][key] = strings.TrimSpace(value)
	}
	return out, nil
}
