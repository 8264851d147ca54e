package handlers

import (
	"net/http"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/sourcetap/sourcetap/internal/core/engine"
)

// BuildInfo is the build metadata stamped into the binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Name      string      `json:"name"`
	Build     BuildInfo   `json:"build"`
	GoVersion string      `json:"go_version"`
	Platform  string      `json:"platform"`
	Sources   []string    `json:"sources"`
	Libraries LibraryInfo `json:"libraries"`
}

// LibraryInfo reports the gofulmen and crucible versions linked in.
type LibraryInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// NewVersionHandler answers GET /version with build metadata and the
// sources registered on collector. A nil collector reports no sources.
func NewVersionHandler(name string, build BuildInfo, collector *engine.Collector) http.HandlerFunc {
	if build.Version == "" {
		build.Version = "dev"
	}
	libs := crucible.GetVersion()

	return func(w http.ResponseWriter, r *http.Request) {
		sources := []string{}
		if collector != nil {
			sources = collector.Sources()
		}
		respondJSON(w, http.StatusOK, VersionResponse{
			Name:      name,
			Build:     build,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			Sources:   sources,
			Libraries: LibraryInfo{Gofulmen: libs.Gofulmen, Crucible: libs.Crucible},
		})
	}
}
