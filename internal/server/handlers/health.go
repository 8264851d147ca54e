package handlers

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/sync/errgroup"
)

// Check results reported per dependency.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse is the body of the live and ready probes.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is a dependency that can report its own health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a plain function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// Pinger is anything that can verify its backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports the run store as unhealthy when it cannot be pinged.
func StoreChecker(p Pinger) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if p == nil {
			return errors.New("store not configured")
		}
		return p.Ping(ctx)
	})
}

// SourceLister is the part of the collector health needs.
type SourceLister interface {
	Sources() []string
}

// CollectorChecker fails when no source is registered.
func CollectorChecker(c SourceLister) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if c == nil || len(c.Sources()) == 0 {
			return errors.New("no sources registered")
		}
		return nil
	})
}

type registeredCheck struct {
	checker HealthChecker
	// optional checks degrade the service instead of failing it
	optional bool
}

// HealthManager runs dependency checks for the health endpoints.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	version string
	timeout time.Duration
}

// NewHealthManager creates a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:  make(map[string]registeredCheck),
		version: version,
		timeout: 5 * time.Second,
	}
}

// RegisterChecker adds a dependency the service cannot run without.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, registeredCheck{checker: checker})
}

// RegisterOptionalChecker adds a dependency whose failure only degrades
// the service, such as run persistence or telemetry.
func (hm *HealthManager) RegisterOptionalChecker(name string, checker HealthChecker) {
	hm.register(name, registeredCheck{checker: checker, optional: true})
}

func (hm *HealthManager) register(name string, check registeredCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = check
}

// runHealthChecks runs every check concurrently under ctx. A check still
// running when ctx ends reports "timeout".
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	checks := maps.Clone(hm.checks)
	hm.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
	)
	g := new(errgroup.Group)
	for name, check := range checks {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- check.checker.CheckHealth(ctx) }()

			var result string
			select {
			case <-ctx.Done():
				result = statusTimeout
			case err := <-done:
				switch {
				case err == nil:
					result = statusHealthy
				case check.optional:
					result = statusDegraded
				default:
					result = statusUnhealthy
				}
			}

			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// determineOverallStatus folds check results: any unhealthy check fails
// the service, any degraded or timed-out check degrades it.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := statusHealthy
	for _, status := range checks {
		switch status {
		case statusUnhealthy:
			return statusUnhealthy
		case statusDegraded, statusTimeout:
			overall = statusDegraded
		}
	}
	return overall
}

func (hm *HealthManager) evaluate(r *http.Request) (string, map[string]string) {
	ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
	defer cancel()
	checks := hm.runHealthChecks(ctx)
	return hm.determineOverallStatus(checks), checks
}

// HealthHandler reports every check with the aggregate status. It answers
// 503 only when a required check is unhealthy.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks := hm.evaluate(r)
	if status == statusUnhealthy {
		respondWithError(w, r, healthFailure("aggregate health check failed", "", status, checks))
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving requests. It runs no
// dependency checks, so a down store never gets the process restarted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ProbeResponse{Status: statusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler reports whether the service should receive traffic.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status, checks := hm.evaluate(r)
	if status == statusUnhealthy {
		respondWithError(w, r, healthFailure("readiness probe failed", "ready", status, checks))
		return
	}
	respondJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func healthFailure(message, probe, status string, checks map[string]string) *gferrors.ErrorEnvelope {
	details := map[string]any{"status": status, "checks": checks}
	if probe != "" {
		details["probe"] = probe
	}
	env := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message).WithDetails(details)

	failing := make([]string, 0, len(checks))
	for name, result := range checks {
		if result != statusHealthy {
			failing = append(failing, name)
		}
	}
	slices.Sort(failing)
	env, _ = env.WithContext(map[string]any{"unhealthy_checks": failing})
	return env
}
