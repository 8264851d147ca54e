package metrics

import (
	"strconv"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/observability"
)

// Application-level metrics following Prometheus conventions
const (
	// Collection metrics
	CollectorRunsTotal       = "collector_runs_total"
	CollectorRunDuration     = "collector_run_duration_ms"
	CollectorRecordsTotal    = "collector_records_total"
	CollectorAPICallsTotal   = "collector_api_calls_total"
	CollectorCacheHitsTotal  = "collector_cache_hits_total"
	CollectorWarningsTotal   = "collector_warnings_total"
	CollectorActiveSources   = "collector_registered_sources"
	StoreOperationErrorTotal = "store_errors_total"

	// Error responses and recovered panics
	ErrorsTotal      = "errors_total"
	ErrorsByEndpoint = "errors_by_endpoint"
	PanicsTotal      = "panics_total"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// RecordCollection records one source outcome.
func RecordCollection(outcome core.ExtractionOutcome) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := "success"
	if !outcome.Success {
		status = "failure"
	}
	sys := observability.TelemetrySystem
	source := map[string]string{"source": outcome.Source}

	_ = sys.Counter(CollectorRunsTotal, 1, map[string]string{
		"source": outcome.Source,
		"status": status,
	})
	_ = sys.Histogram(CollectorRunDuration, time.Duration(outcome.DurationSeconds*float64(time.Second)), source)

	if outcome.Records > 0 {
		_ = sys.Counter(CollectorRecordsTotal, float64(outcome.Records), source)
	}
	if outcome.APICalls > 0 {
		_ = sys.Counter(CollectorAPICallsTotal, float64(outcome.APICalls), source)
	}
	if outcome.CacheHits > 0 {
		_ = sys.Counter(CollectorCacheHitsTotal, float64(outcome.CacheHits), source)
	}
	if n := len(outcome.Warnings); n > 0 {
		_ = sys.Counter(CollectorWarningsTotal, float64(n), source)
	}
}

// SetRegisteredSources records how many sources the collector holds.
func SetRegisteredSources(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(CollectorActiveSources, float64(count), nil)
	}
}

// RecordStoreError records a failed run-history or cache write.
func RecordStoreError(operation string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(StoreOperationErrorTotal, 1, map[string]string{
			"operation": operation,
		})
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// RecordError counts one error response. endpoint must be a route pattern
// or another bounded label, never a raw request path.
func RecordError(code string, status int, endpoint string) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(ErrorsTotal, 1, map[string]string{
		"error_code":  code,
		"http_status": strconv.Itoa(status),
	})
	if endpoint != "" {
		_ = sys.Counter(ErrorsByEndpoint, 1, map[string]string{
			"endpoint":   endpoint,
			"error_code": code,
		})
	}
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, nil)
	}
}
