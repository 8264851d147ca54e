package output

import (
	"encoding/json"

	"github.com/sourcetap/sourcetap/internal/core/store"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatReport renders the report as JSON. Tabular data is never included.
func (f *JSONFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

// FormatRuns renders persisted outcomes as a JSON array.
func (f *JSONFormatter) FormatRuns(runs []store.RunRecord) (string, error) {
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return f.marshal(runs)
}

// FormatSources renders the source registry as a JSON array.
func (f *JSONFormatter) FormatSources(sources []SourceRow) (string, error) {
	if sources == nil {
		sources = []SourceRow{}
	}
	return f.marshal(sources)
}

// FormatRateLimits renders saved token buckets as a JSON array.
func (f *JSONFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	if entries == nil {
		entries = []store.RateLimitEntry{}
	}
	return f.marshal(entries)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
