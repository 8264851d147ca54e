package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sourcetap/sourcetap/internal/core/store"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatReport renders outcomes followed by per-source telemetry.
func (f *TableFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Source", "Status", "Records", "API Calls", "Cache Hits", "Duration", "Notes"})
	for _, outcome := range report.Outcomes {
		t.AppendRow(table.Row{
			outcome.Source,
			statusLabel(outcome),
			outcome.Records,
			outcome.APICalls,
			outcome.CacheHits,
			formatSeconds(outcome.DurationSeconds),
			formatNotes(outcome),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", summaryLine(report)})

	var sb strings.Builder
	if report.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run %s\n", report.RunID))
	}
	sb.WriteString(t.Render())

	if len(report.Telemetry.PerSource) > 0 {
		tt := table.NewWriter()
		tt.SetStyle(table.StyleRounded)
		tt.Style().Format.Footer = text.FormatDefault
		tt.SetTitle("Telemetry")
		tt.AppendHeader(table.Row{"Source", "Requests", "Cache Hits", "Errors", "Avg Latency"})
		for _, name := range telemetryNames(report.Telemetry) {
			snap := report.Telemetry.PerSource[name]
			tt.AppendRow(table.Row{name, snap.RequestsIssued, snap.CacheHits, snap.Errors, formatLatency(snap.AverageLatency)})
		}
		totals := report.Telemetry.Totals
		tt.AppendFooter(table.Row{"total", totals.APICalls, totals.CacheHits, totals.Errors, ""})
		sb.WriteString("\n\n")
		sb.WriteString(tt.Render())
	}

	return sb.String(), nil
}

// FormatRuns renders persisted outcomes.
func (f *TableFormatter) FormatRuns(runs []store.RunRecord) (string, error) {
	if len(runs) == 0 {
		return "No runs recorded.", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Run", "Source", "Status", "Records", "API Calls", "Completed", "Notes"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.RunID,
			run.Outcome.Source,
			statusLabel(run.Outcome),
			run.Outcome.Records,
			run.Outcome.APICalls,
			formatTime(run.Outcome.CompletedAt),
			formatNotes(run.Outcome),
		})
	}
	return t.Render(), nil
}

// FormatSources renders the source registry.
func (f *TableFormatter) FormatSources(sources []SourceRow) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Source", "Base URL", "Rate Limit", "Enabled"})
	for _, src := range sources {
		t.AppendRow(table.Row{src.Name, src.BaseURL, fmt.Sprintf("%d/min", src.RateLimit), src.Enabled})
	}
	return t.Render(), nil
}

// FormatRateLimits renders saved token buckets.
func (f *TableFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	if len(entries) == 0 {
		return "No rate limit state saved.", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Source", "Tokens", "Capacity", "Refill/s", "Last Refill"})
	for _, entry := range entries {
		t.AppendRow(table.Row{
			entry.Source,
			fmt.Sprintf("%.2f", entry.State.Tokens),
			fmt.Sprintf("%.0f", entry.State.Capacity),
			fmt.Sprintf("%.3f", entry.State.RefillPerSecond),
			formatTime(entry.State.LastRefill),
		})
	}
	return t.Render(), nil
}
