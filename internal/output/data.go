package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sourcetap/sourcetap/internal/core"
)

// WriteTables writes each successful outcome's table to dir as
// <source>.json and returns the written paths in source order. Outcomes
// without data are skipped.
func WriteTables(dir string, outcomes map[string]core.ExtractionOutcome) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	written := []string{}
	for _, name := range names {
		outcome := outcomes[name]
		if !outcome.Success || outcome.Data == nil {
			continue
		}
		data, err := json.MarshalIndent(outcome.Data, "", "  ")
		if err != nil {
			return written, fmt.Errorf("encode %s table: %w", name, err)
		}
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return written, fmt.Errorf("write %s table: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
