package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Report is everything a collection run prints.
type Report struct {
	RunID     string                   `json:"run_id,omitempty"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Outcomes  []core.ExtractionOutcome `json:"outcomes"`
	Telemetry core.AggregatedTelemetry `json:"telemetry"`
}

// NewReport orders outcomes by source name and counts failures.
func NewReport(runID string, outcomes map[string]core.ExtractionOutcome, telemetry core.AggregatedTelemetry) *Report {
	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &Report{RunID: runID, Outcomes: make([]core.ExtractionOutcome, 0, len(names)), Telemetry: telemetry}
	for _, name := range names {
		outcome := outcomes[name]
		if outcome.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report
}

// SourceRow describes one available source.
type SourceRow struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	RateLimit int    `json:"rate_limit"`
	Enabled   bool   `json:"enabled"`
}

// Formatter renders CLI results.
type Formatter interface {
	FormatReport(report *Report) (string, error)
	FormatRuns(runs []store.RunRecord) (string, error)
	FormatSources(sources []SourceRow) (string, error)
	FormatRateLimits(entries []store.RateLimitEntry) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}
