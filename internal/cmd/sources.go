package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core/engine"
	"github.com/sourcetap/sourcetap/internal/core/extractor"
	"github.com/sourcetap/sourcetap/internal/output"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available sources with their effective base URL and rate limit",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		rows, err := sourceRows(cfg)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatSources(rows)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
}

// sourceRows builds each known source with its config overrides applied and
// reports what it would use. Nothing is fetched.
func sourceRows(cfg *config.Config) ([]output.SourceRow, error) {
	rows := []output.SourceRow{}
	for _, name := range extractor.Names() {
		sc := cfg.Source(name)
		src, err := extractor.Build(name, engine.Options{BaseURL: sc.BaseURL, RateLimit: sc.RateLimit})
		if err != nil {
			return nil, err
		}
		rows = append(rows, output.SourceRow{
			Name:      name,
			BaseURL:   src.BaseURL(),
			RateLimit: src.RateLimit(),
			Enabled:   sc.Enabled,
		})
	}
	return rows, nil
}
