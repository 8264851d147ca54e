package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/engine"
	"github.com/sourcetap/sourcetap/internal/core/extractor"
	"github.com/sourcetap/sourcetap/internal/metrics"
	"github.com/sourcetap/sourcetap/internal/observability"
	"github.com/sourcetap/sourcetap/internal/server"
	"github.com/sourcetap/sourcetap/internal/server/handlers"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}
	return listener
}

// newUpstream serves USGS-shaped pages and counts the requests it sees.
func newUpstream(t *testing.T, calls *atomic.Int64) string {
	t.Helper()
	ts := &httptest.Server{
		Listener: listenLoopback(t),
		Config: &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			features := make([]map[string]any, 0, limit)
			for i := 0; i < limit; i++ {
				features = append(features, map[string]any{
					"id":         fmt.Sprintf("ev%d", i),
					"properties": map[string]any{"mag": 5.5, "place": "somewhere"},
					"geometry":   map[string]any{"coordinates": []float64{1, 2, 3}},
				})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"features": features})
		})},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts.URL
}

// newTestServer binds to IPv4 loopback explicitly (avoiding IPv6-only
// defaults) and wires one USGS source at upstream.
func newTestServer(t *testing.T, upstream string) (*httptest.Server, *http.Client) {
	t.Helper()

	collector := engine.NewCollector()
	collector.OnOutcome = func(_ string, outcome core.ExtractionOutcome) {
		metrics.RecordCollection(outcome)
	}
	require.NoError(t, collector.Register(extractor.USGSName, extractor.NewUSGS(engine.Options{
		BaseURL:   upstream,
		RateLimit: 600,
		CacheTTL:  time.Minute,
	})))

	srv := server.New(server.Options{Host: "127.0.0.1", Version: "test", Collector: collector})

	ts := &httptest.Server{
		Listener: listenLoopback(t),
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func postCollect(t *testing.T, client *http.Client, url string) handlers.CollectResponse {
	t.Helper()
	resp, err := client.Post(url+"/v1/sources/usgs/collect", "application/json", strings.NewReader(`{"max_results": 3}`))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out handlers.CollectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCollectionEndToEnd(t *testing.T) {
	observability.InitServerLogger("test", "info")

	var calls atomic.Int64
	ts, client := newTestServer(t, newUpstream(t, &calls))

	first := postCollect(t, client, ts.URL)
	require.True(t, first.Outcome.Success)
	require.Equal(t, 3, first.Outcome.Records)
	require.Equal(t, 1, first.Outcome.APICalls)
	require.NotEmpty(t, first.RunID)

	// Identical params are answered from the response cache.
	second := postCollect(t, client, ts.URL)
	require.True(t, second.Outcome.Success)
	require.Equal(t, 1, second.Outcome.CacheHits)
	require.Equal(t, int64(1), calls.Load())

	resp, err := client.Get(ts.URL + "/v1/telemetry")
	require.NoError(t, err)
	var agg core.AggregatedTelemetry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agg))
	require.NoError(t, resp.Body.Close())
	// Telemetry covers the most recent extraction only.
	require.Equal(t, 0, agg.Totals.APICalls)
	require.Equal(t, 1, agg.Totals.CacheHits)
}

func TestMetricsEndpoint_Integration(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")

	initMetricsOrSkip(t)

	var calls atomic.Int64
	ts, client := newTestServer(t, newUpstream(t, &calls))
	serverURL := ts.URL

	const numRequests = 40
	const numWorkers = 8

	requestChan := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requestChan <- i
	}
	close(requestChan)

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for reqNum := range requestChan {
				var (
					resp *http.Response
					err  error
				)
				switch reqNum % 4 {
				case 0:
					resp, err = client.Post(serverURL+"/v1/sources/usgs/collect", "application/json",
						strings.NewReader(fmt.Sprintf(`{"max_results": %d}`, reqNum%3+1)))
				case 1:
					resp, err = client.Get(serverURL + "/v1/sources")
				case 2:
					resp, err = client.Get(serverURL + "/v1/sources/missing")
				default:
					resp, err = client.Get(serverURL + "/health")
				}
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)

	resp, err := client.Get(serverURL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsContent := string(body)
	assert.Contains(t, metricsContent, "test_http_requests_total", "Should have HTTP request metrics")
	assert.Contains(t, metricsContent, "test_http_request_duration_ms", "Should have duration metrics")
	assert.Contains(t, metricsContent, "test_collector_runs_total", "Should have collection metrics")
	assert.True(t, elapsed < 5*time.Second, "Load test should complete in reasonable time")
	t.Logf("Load test completed: %d requests in %v (%.2f req/s)", numRequests, elapsed, float64(numRequests)/elapsed.Seconds())

	resp, err = client.Get(serverURL + "/metrics/sources")
	require.NoError(t, err)
	body, readErr = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sourcetap_source_requests_issued{source="usgs"}`)
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")

	initMetricsOrSkip(t)

	var calls atomic.Int64
	ts, client := newTestServer(t, newUpstream(t, &calls))
	serverURL := ts.URL

	postCollect(t, client, serverURL)

	resp, err := client.Get(serverURL + "/metrics")
	require.NoError(t, err)
	contentType := resp.Header.Get("Content-Type")
	assert.True(t,
		contentType == "text/plain; version=0.0.4" ||
			contentType == "text/plain; version=0.0.4; charset=utf-8",
		"Expected Prometheus content type, got: %s", contentType)

	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	metricsContent := string(body)

	lines := strings.Split(strings.TrimSpace(metricsContent), "\n")
	hasValidMetrics := false
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "{") && len(strings.Fields(line)) >= 2 {
			hasValidMetrics = true
			break
		}
	}
	assert.True(t, hasValidMetrics, "Should have valid Prometheus metric lines")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")

	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	var calls atomic.Int64
	ts, client := newTestServer(t, newUpstream(t, &calls))
	serverURL := ts.URL

	// Collection keeps working without an exporter.
	postCollect(t, client, serverURL)

	resp, err := client.Get(serverURL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Per-source gauges come from the collector, not the exporter.
	resp, err = client.Get(serverURL + "/metrics/sources")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
