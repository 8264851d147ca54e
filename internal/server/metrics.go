package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/config"
	apperrors "github.com/sourcetap/sourcetap/internal/errors"
	"github.com/sourcetap/sourcetap/internal/observability"
)

const fallbackExporterPort = 9090

// hopHeaders are not copied from the exporter response.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// exporterProxy serves the gofulmen Prometheus exporter on the API port so
// request and collection counters scrape alongside /metrics/sources.
type exporterProxy struct {
	client *http.Client
}

func newExporterProxy() *exporterProxy {
	return &exporterProxy{client: &http.Client{Timeout: 5 * time.Second}}
}

// target is the exporter's loopback URL: the bound port, then the
// configured port, then 9090.
func (p *exporterProxy) target() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = fallbackExporterPort
		if cfg := config.GetConfig(); cfg != nil && cfg.Metrics.Port > 0 {
			port = cfg.Metrics.Port
		}
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

func (p *exporterProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
		return
	}

	target := p.target()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to construct metrics request"))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		env := apperrors.WrapExporterError(r.Context(), err, "Prometheus exporter unavailable")
		env, _ = env.WithContext(map[string]any{"metrics_url": target})
		apperrors.RespondWithError(w, r, env)
		return
	}
	defer resp.Body.Close() // nolint:errcheck // read-only body

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to relay exporter output", zap.Error(err))
	}
}
