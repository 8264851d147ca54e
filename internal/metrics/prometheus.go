package metrics

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sourcetap/sourcetap/internal/core"
)

// Namespace prefixes every exported source metric.
const Namespace = "sourcetap"

// TelemetryProvider yields aggregated per-source telemetry.
type TelemetryProvider interface {
	Telemetry() core.AggregatedTelemetry
}

// SourceCollector exports a TelemetryProvider as Prometheus gauges. Values are
// read on every scrape, so they always match the live clients.
type SourceCollector struct {
	provider TelemetryProvider

	requests *prometheus.Desc
	hits     *prometheus.Desc
	errors   *prometheus.Desc
	latency  *prometheus.Desc
}

// NewSourceCollector wraps provider.
func NewSourceCollector(provider TelemetryProvider) *SourceCollector {
	labels := []string{"source"}
	return &SourceCollector{
		provider: provider,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "source", "requests_issued"),
			"Outbound HTTP requests issued by the source client since its last reset.",
			labels, nil,
		),
		hits: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "source", "cache_hits"),
			"Requests served from the response cache.",
			labels, nil,
		),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "source", "errors"),
			"Request errors counted by the source client.",
			labels, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "source", "average_latency_seconds"),
			"Mean latency of completed upstream requests.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *SourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.hits
	ch <- c.errors
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *SourceCollector) Collect(ch chan<- prometheus.Metric) {
	if c.provider == nil {
		return
	}
	agg := c.provider.Telemetry()

	names := make([]string, 0, len(agg.PerSource))
	for name := range agg.PerSource {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		snap := agg.PerSource[name]
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.GaugeValue, float64(snap.RequestsIssued), name)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.GaugeValue, float64(snap.CacheHits), name)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.GaugeValue, float64(snap.Errors), name)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.AverageLatency, name)
	}
}

// NewSourceRegistry returns a dedicated registry holding a SourceCollector
// for provider.
func NewSourceRegistry(provider TelemetryProvider) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewSourceCollector(provider)); err != nil {
		return nil, err
	}
	return reg, nil
}

// SourceHandler serves provider's telemetry in Prometheus text format.
func SourceHandler(provider TelemetryProvider) (http.Handler, error) {
	reg, err := NewSourceRegistry(provider)
	if err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
