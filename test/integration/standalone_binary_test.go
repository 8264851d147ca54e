package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

var (
	binaryOnce sync.Once
	binaryPath string
	binaryErr  string
)

// sourcetapBinary builds cmd/sourcetap once per test run into a directory
// outside the repository.
func sourcetapBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("binary smoke tests are unix-focused")
	}

	binaryOnce.Do(func() {
		gomod, err := exec.Command("go", "env", "GOMOD").Output()
		if err != nil || strings.TrimSpace(string(gomod)) == "" {
			binaryErr = "go env GOMOD failed"
			return
		}
		dir, err := os.MkdirTemp("", "sourcetap-bin-")
		if err != nil {
			binaryErr = err.Error()
			return
		}
		out := filepath.Join(dir, "sourcetap")
		build := exec.Command("go", "build", "-o", out, "./cmd/sourcetap")
		build.Dir = filepath.Dir(strings.TrimSpace(string(gomod)))
		if msg, err := build.CombinedOutput(); err != nil {
			binaryErr = "go build: " + err.Error() + "\n" + string(msg)
			return
		}
		binaryPath = out
	})
	if binaryErr != "" {
		t.Fatal(binaryErr)
	}
	return binaryPath
}

// runIsolated runs the binary from an empty directory with config and data
// lookups pointed at temp dirs, so no user config leaks in.
func runIsolated(t *testing.T, args ...string) (string, error) {
	t.Helper()
	home := t.TempDir()
	cmd := exec.Command(sourcetapBinary(t), args...)
	cmd.Dir = t.TempDir()
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, "config"),
		"XDG_DATA_HOME="+filepath.Join(home, "data"),
	)
	out, err := cmd.Output()
	return string(out), err
}

func TestBinaryVersionOutsideRepo(t *testing.T) {
	out, err := runIsolated(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "sourcetap ") {
		t.Fatalf("unexpected version output: %q", out)
	}

	if _, err := runIsolated(t, "--help"); err != nil {
		t.Fatalf("--help failed: %v", err)
	}
}

func TestBinaryListsBuiltInSources(t *testing.T) {
	out, err := runIsolated(t, "sources", "--output-format", "json")
	if err != nil {
		t.Fatalf("sources failed: %v\n%s", err, out)
	}

	var rows []struct {
		Name      string `json:"name"`
		RateLimit int    `json:"rate_limit"`
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("sources output is not JSON: %v\n%s", err, out)
	}

	seen := map[string]int{}
	for _, row := range rows {
		seen[row.Name] = row.RateLimit
	}
	for _, name := range []string{"usgs", "world_bank", "open_meteo"} {
		if seen[name] <= 0 {
			t.Fatalf("expected %s with a positive rate limit, got %v", name, seen)
		}
	}
}

func TestBinaryRejectsUnknownOutputFormat(t *testing.T) {
	if _, err := runIsolated(t, "sources", "--output-format", "yaml"); err == nil {
		t.Fatal("expected unknown output format to fail")
	}
}
