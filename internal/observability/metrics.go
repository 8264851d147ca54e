package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// defaultExporterPort is reported when an ephemeral bind cannot be resolved.
const defaultExporterPort = 9090

var (
	// TelemetrySystem receives counters, gauges and histograms from the
	// server middleware and the collector hooks. Nil means metrics are off.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves TelemetrySystem on its own listener; the API
	// server proxies it at /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	exporterPort int
)

// InitMetrics starts a Prometheus exporter on port (0 picks a free port)
// and installs TelemetrySystem on top of it. Metric names are prefixed with
// namespace when given, otherwise with serviceName.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	prefix := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		prefix = namespace[0]
	}
	if port < 0 {
		port = 0
	}

	exporter := exporters.NewPrometheusExporter(prefix, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter on :%d: %w", port, err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("create telemetry system: %w", err)
	}

	exporterPort = boundPort(exporter.GetAddr(), port)
	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// StopMetrics shuts the exporter down and disables metric emission.
// Safe to call when metrics were never started.
func StopMetrics() error {
	TelemetrySystem = nil
	exporter := PrometheusExporter
	PrometheusExporter = nil
	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort reports the port the exporter is bound to.
func GetMetricsPort() int {
	return exporterPort
}

func boundPort(addr string, requested int) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err == nil {
		if p, convErr := strconv.Atoi(portStr); convErr == nil {
			return p
		}
	}
	if requested == 0 {
		return defaultExporterPort
	}
	return requested
}
