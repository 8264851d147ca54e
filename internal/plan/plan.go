// Package plan loads collection plans: which sources to run and the params
// each one receives.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sourcetap/sourcetap/internal/core"
)

// Format identifies a plan file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// Plan maps source names to their params.
type Plan struct {
	// Concurrency overrides collector.concurrency when positive.
	Concurrency int                       `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	Sources     map[string]map[string]any `json:"sources" yaml:"sources" toml:"sources"`
}

// Load reads a plan file, choosing the decoder from the extension.
func Load(path string) (*Plan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- plan path comes from the CLI
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// FormatFromPath maps a file extension to a Format.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported plan format %q (expected .yaml, .yml, .toml, or .json)", filepath.Ext(path))
	}
}

// Parse decodes plan bytes in the given format.
func Parse(data []byte, format Format) (*Plan, error) {
	p := &Plan{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, err
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), p); err != nil {
			return nil, err
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}

	if p.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be >= 0, got %d", p.Concurrency)
	}

	normalized := make(map[string]map[string]any, len(p.Sources))
	for name, params := range p.Sources {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("source name is required")
		}
		out := make(map[string]any, len(params))
		for k, v := range params {
			out[k] = normalize(v)
		}
		normalized[key] = out
	}
	p.Sources = normalized
	return p, nil
}

// ParseParams decodes a single JSON object of params for one source. Empty
// input yields empty params.
func ParseParams(data []byte) (core.Params, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return core.Params{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	params := make(core.Params, len(raw))
	for k, v := range raw {
		params[k] = normalize(v)
	}
	return params, nil
}

// Names returns the planned sources in sorted order.
func (p *Plan) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Sources))
	for name := range p.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params returns a copy of the params planned for name.
func (p *Plan) Params(name string) core.Params {
	if p == nil {
		return core.Params{}
	}
	return core.Params(p.Sources[name]).Clone()
}

// normalize folds the per-decoder value types into the shapes core.Params
// understands: int for integers, float64 for reals, string for dates, and
// []any / map[string]any for containers.
func normalize(v any) any {
	switch typed := v.(type) {
	case int64:
		return int(typed)
	case int32:
		return int(typed)
	case uint64:
		if typed <= math.MaxInt32 {
			return int(typed)
		}
		return float64(typed)
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return int(n)
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format(time.RFC3339)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}
