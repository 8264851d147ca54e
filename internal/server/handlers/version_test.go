package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/sourcetap/sourcetap/internal/core/engine"
)

func decodeVersion(t *testing.T, h http.Handler) VersionResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp VersionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestVersionHandlerReportsBuildAndSources(t *testing.T) {
	collector := engine.NewCollector()
	if err := collector.Register("usgs", &stubSource{name: "usgs"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := decodeVersion(t, NewVersionHandler("sourcetap", BuildInfo{
		Version:   "1.2.3",
		Commit:    "abcd123",
		BuildDate: "2026-10-01T12:00:00Z",
	}, collector))

	if resp.Name != "sourcetap" {
		t.Fatalf("expected name sourcetap, got %s", resp.Name)
	}
	if resp.Build.Version != "1.2.3" || resp.Build.Commit != "abcd123" {
		t.Fatalf("unexpected build info: %+v", resp.Build)
	}
	if !slices.Equal(resp.Sources, []string{"usgs"}) {
		t.Fatalf("expected [usgs], got %v", resp.Sources)
	}
	if resp.Libraries.Gofulmen == "" || resp.Libraries.Crucible == "" {
		t.Fatal("expected library versions to be populated")
	}
}

func TestVersionHandlerDefaults(t *testing.T) {
	resp := decodeVersion(t, NewVersionHandler("sourcetap", BuildInfo{}, nil))
	if resp.Build.Version != "dev" {
		t.Fatalf("expected dev version, got %s", resp.Build.Version)
	}
	if resp.Sources == nil || len(resp.Sources) != 0 {
		t.Fatalf("expected empty source list, got %v", resp.Sources)
	}
}
