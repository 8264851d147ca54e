package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
)

func statusLabel(outcome core.ExtractionOutcome) string {
	if outcome.Success {
		return "ok"
	}
	return "failed"
}

func formatNotes(outcome core.ExtractionOutcome) string {
	parts := []string{}
	if outcome.Error != "" {
		parts = append(parts, outcome.Error)
	}
	for _, warning := range outcome.Warnings {
		if strings.TrimSpace(warning) != "" {
			parts = append(parts, "warning: "+warning)
		}
	}
	return strings.Join(parts, "; ")
}

func formatSeconds(seconds float64) string {
	return fmt.Sprintf("%.2fs", seconds)
}

func formatLatency(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0fms", seconds*1000)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func summaryLine(report *Report) string {
	total := report.Telemetry.Totals
	return fmt.Sprintf("%d/%d sources succeeded; %d api calls, %d cache hits, %d errors",
		report.Succeeded, report.Succeeded+report.Failed, total.APICalls, total.CacheHits, total.Errors)
}

func telemetryNames(telemetry core.AggregatedTelemetry) []string {
	names := make([]string, 0, len(telemetry.PerSource))
	for name := range telemetry.PerSource {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
