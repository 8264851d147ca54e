package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core/store"
	"github.com/sourcetap/sourcetap/internal/output"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and prune persisted collection runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted outcomes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source")
		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		runs, err := db.ListRuns(cmd.Context(), store.RunFilter{
			Source: strings.ToLower(strings.TrimSpace(source)),
			RunID:  runID,
			Limit:  limit,
		})
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatRuns(runs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete outcomes that completed before a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		now := time.Now().UTC()
		deleted, err := db.PruneRuns(cmd.Context(), now.Add(-olderThan))
		if err != nil {
			return err
		}
		expired, err := db.PruneExpiredResponses(cmd.Context(), now)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run outcome(s) and %d expired cached response(s)\n", deleted, expired)
		return err
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsPruneCmd)
	rootCmd.AddCommand(runsCmd)

	runsListCmd.Flags().String("source", "", "Only show outcomes for this source")
	runsListCmd.Flags().String("run", "", "Only show outcomes for this run ID")
	runsListCmd.Flags().Int("limit", store.DefaultRunLimit, "Maximum outcomes to show")
	runsListCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")

	runsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete outcomes completed longer ago than this")
}
