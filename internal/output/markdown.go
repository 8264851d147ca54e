package output

import (
	"fmt"
	"strings"

	"github.com/sourcetap/sourcetap/internal/core/store"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatReport renders the report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	if report.RunID != "" {
		sb.WriteString(fmt.Sprintf("## Collection run %s\n\n", escapeMarkdownCell(report.RunID)))
	} else {
		sb.WriteString("## Collection run\n\n")
	}
	sb.WriteString("| Source | Status | Records | API Calls | Cache Hits | Duration | Notes |\n")
	sb.WriteString("|--------|--------|---------|-----------|------------|----------|-------|\n")
	for _, outcome := range report.Outcomes {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %s | %s |\n",
			escapeMarkdownCell(outcome.Source),
			statusLabel(outcome),
			outcome.Records,
			outcome.APICalls,
			outcome.CacheHits,
			formatSeconds(outcome.DurationSeconds),
			escapeMarkdownCell(formatNotes(outcome)),
		))
	}
	sb.WriteString(fmt.Sprintf("\n**Summary**: %s\n", summaryLine(report)))

	if len(report.Telemetry.PerSource) > 0 {
		sb.WriteString("\n### Telemetry\n\n")
		sb.WriteString("| Source | Requests | Cache Hits | Errors | Avg Latency |\n")
		sb.WriteString("|--------|----------|------------|--------|-------------|\n")
		for _, name := range telemetryNames(report.Telemetry) {
			snap := report.Telemetry.PerSource[name]
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %s |\n",
				escapeMarkdownCell(name), snap.RequestsIssued, snap.CacheHits, snap.Errors, formatLatency(snap.AverageLatency)))
		}
	}

	return sb.String(), nil
}

// FormatRuns renders persisted outcomes as Markdown.
func (f *MarkdownFormatter) FormatRuns(runs []store.RunRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Run | Source | Status | Records | Completed | Notes |\n")
	sb.WriteString("|-----|--------|--------|---------|-----------|-------|\n")
	for _, run := range runs {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %s |\n",
			escapeMarkdownCell(run.RunID),
			escapeMarkdownCell(run.Outcome.Source),
			statusLabel(run.Outcome),
			run.Outcome.Records,
			formatTime(run.Outcome.CompletedAt),
			escapeMarkdownCell(formatNotes(run.Outcome)),
		))
	}
	return sb.String(), nil
}

// FormatSources renders the source registry as Markdown.
func (f *MarkdownFormatter) FormatSources(sources []SourceRow) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Source | Base URL | Rate Limit | Enabled |\n")
	sb.WriteString("|--------|----------|------------|---------|\n")
	for _, src := range sources {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d/min | %t |\n",
			escapeMarkdownCell(src.Name), escapeMarkdownCell(src.BaseURL), src.RateLimit, src.Enabled))
	}
	return sb.String(), nil
}

// FormatRateLimits renders saved token buckets as Markdown.
func (f *MarkdownFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Source | Tokens | Capacity | Last Refill |\n")
	sb.WriteString("|--------|--------|----------|-------------|\n")
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("| %s | %.2f | %.0f | %s |\n",
			escapeMarkdownCell(entry.Source), entry.State.Tokens, entry.State.Capacity, formatTime(entry.State.LastRefill)))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
