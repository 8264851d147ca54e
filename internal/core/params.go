package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params are source-specific extraction arguments. Values arrive from JSON
// bodies, plan files, and CLI flags, so accessors coerce loosely.
type Params map[string]any

// String returns the value as a string, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch typed := v.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return def
		}
		return strings.TrimSpace(typed)
	default:
		return fmt.Sprint(typed)
	}
}

// Float returns the value as a float64.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch typed := v.(type) {
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case json.Number:
		return typed.Float64()
	case string:
		if strings.TrimSpace(typed) == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
	}
}

// Int returns the value as an int.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch typed := v.(type) {
	case int:
		return typed, nil
	case int64:
		return int(typed), nil
	case float64:
		if typed != float64(int(typed)) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, typed)
		}
		return int(typed), nil
	case json.Number:
		n, err := typed.Int64()
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return int(n), nil
	case string:
		if strings.TrimSpace(typed) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
	}
}

// Strings returns a list value. A single string is split on commas.
func (p Params) Strings(key string, def []string) []string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	var out []string
	switch typed := v.(type) {
	case []string:
		out = append(out, typed...)
	case []any:
		for _, item := range typed {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		out = strings.Split(typed, ",")
	default:
		out = []string{fmt.Sprint(typed)}
	}

	cleaned := make([]string, 0, len(out))
	for _, item := range out {
		item = strings.TrimSpace(item)
		if item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
