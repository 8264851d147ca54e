package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error {
	return p.err
}

type stubSources []string

func (s stubSources) Sources() []string {
	return s
}

func serveHealth(t *testing.T, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHandlerReportsChecks(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("collector", CollectorChecker(stubSources{"usgs", "world_bank"}))
	manager.RegisterOptionalChecker("store", StoreChecker(stubPinger{}))

	rec := serveHealth(t, manager.HealthHandler, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Checks["collector"] != "healthy" || resp.Checks["store"] != "healthy" {
		t.Fatalf("expected both checks healthy, got %v", resp.Checks)
	}
}

func TestHealthHandlerDegradesOnOptionalFailure(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("collector", CollectorChecker(stubSources{"usgs"}))
	manager.RegisterOptionalChecker("store", StoreChecker(stubPinger{err: errors.New("database is locked")}))

	rec := serveHealth(t, manager.HealthHandler, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", resp.Status)
	}
	if resp.Checks["store"] != "degraded" {
		t.Fatalf("expected store degraded, got %s", resp.Checks["store"])
	}
}

func TestHealthHandlerFailsOnRequiredFailure(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("collector", CollectorChecker(stubSources{}))

	rec := serveHealth(t, manager.HealthHandler, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %s", resp.Error.Code)
	}
	checks, ok := resp.Error.Details["checks"].(map[string]any)
	if !ok || checks["collector"] != "unhealthy" {
		t.Fatalf("expected collector unhealthy in details, got %v", resp.Error.Details)
	}
	failing, ok := resp.Error.Details["unhealthy_checks"].([]any)
	if !ok || len(failing) != 1 || failing[0] != "collector" {
		t.Fatalf("expected unhealthy_checks [collector], got %v", resp.Error.Details["unhealthy_checks"])
	}
}

func TestSlowCheckTimesOut(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.timeout = 20 * time.Millisecond
	manager.RegisterChecker("upstream", CheckerFunc(func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	}))

	start := time.Now()
	status, checks := manager.evaluate(httptest.NewRequest(http.MethodGet, "/health", nil))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("health evaluation blocked for %v", elapsed)
	}
	if checks["upstream"] != "timeout" || status != "degraded" {
		t.Fatalf("expected timeout/degraded, got %v/%s", checks, status)
	}
}

func TestLivenessIgnoresDependencies(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("collector", stubChecker{err: errors.New("down")})

	rec := serveHealth(t, manager.LivenessHandler, "/health/live")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestReadinessHandler(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("collector", CollectorChecker(stubSources{"usgs"}))

	rec := serveHealth(t, manager.ReadinessHandler, "/health/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp ProbeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}

	manager.RegisterChecker("broken", stubChecker{err: errors.New("down")})
	rec = serveHealth(t, manager.ReadinessHandler, "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestStoreAndCollectorCheckers(t *testing.T) {
	if err := StoreChecker(stubPinger{}).CheckHealth(context.Background()); err != nil {
		t.Fatalf("expected healthy store, got %v", err)
	}
	if err := StoreChecker(stubPinger{err: errors.New("locked")}).CheckHealth(context.Background()); err == nil {
		t.Fatal("expected ping failure to surface")
	}
	if err := StoreChecker(nil).CheckHealth(context.Background()); err == nil {
		t.Fatal("expected missing store to be unhealthy")
	}
	if err := CollectorChecker(stubSources{}).CheckHealth(context.Background()); err == nil {
		t.Fatal("expected empty collector to be unhealthy")
	}
}
