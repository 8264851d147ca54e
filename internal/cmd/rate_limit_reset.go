package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core/store"
	"github.com/sourcetap/sourcetap/internal/output"
)

var (
	rateLimitResetAll    bool
	rateLimitResetSource string
	rateLimitResetPrefix string
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
	rateLimitResetOutput string
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate limit state",
	Long: `Delete saved token buckets so the next run starts each matching source
with a full budget.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitResetOutput)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}
		target, err := reportTargetFromFlags(cmd)
		if err != nil {
			return err
		}

		query := store.RateLimitQuery{
			All:    rateLimitResetAll,
			Source: strings.TrimSpace(rateLimitResetSource),
			Prefix: strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
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

		matched, err := db.CountRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		var deleted int64
		if !rateLimitResetDryRun {
			if deleted, err = db.ResetRateLimits(cmd.Context(), query); err != nil {
				return err
			}
		}

		rendered, err := renderResetResult(format, matched, deleted, rateLimitResetDryRun)
		if err != nil {
			return err
		}
		_, err = target.write(cmd.OutOrStdout(), "rate-limit.reset", format, rendered)
		return err
	},
}

func renderResetResult(format output.Format, matched int, deleted int64, dryRun bool) (string, error) {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		return string(payload), err
	}
	if dryRun {
		return fmt.Sprintf("Would delete %d rate limit entr(ies)", matched), nil
	}
	return fmt.Sprintf("Deleted %d/%d rate limit entr(ies)", deleted, matched), nil
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset every source")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetSource, "source", "", "Reset a single source (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset sources with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitResetCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	rateLimitResetCmd.Flags().String("out-dir", "", "Write output to a directory")
}
