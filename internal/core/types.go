package core

import (
	"encoding/json"
	"time"
)

// Record is one row of a tabular payload.
type Record map[string]any

// Table is the tabular payload produced by an extraction.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds rows to the table.
func (t *Table) Append(rows ...Record) {
	t.Rows = append(t.Rows, rows...)
}

// Column returns the values of a single column, in row order.
func (t *Table) Column(name string) []any {
	if t == nil {
		return nil
	}
	values := make([]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		values = append(values, row[name])
	}
	return values
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	for _, col := range t.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// ExtractionOutcome is the result of one extraction call.
type ExtractionOutcome struct {
	Success         bool
	Source          string
	Records         int
	APICalls        int
	CacheHits       int
	StartedAt       time.Time
	CompletedAt     time.Time
	DurationSeconds float64
	Error           string
	Warnings        []string
	Data            *Table
}

type outcomeJSON struct {
	Success         bool       `json:"success"`
	Source          string     `json:"source"`
	Records         int        `json:"records"`
	APICalls        int        `json:"api_calls"`
	CacheHits       int        `json:"cache_hits"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	Error           *string    `json:"error"`
	Warnings        []string   `json:"warnings"`
}

// MarshalJSON renders the status projection of the outcome. Data is never
// included; write it separately.
func (o ExtractionOutcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Success:         o.Success,
		Source:          o.Source,
		Records:         o.Records,
		APICalls:        o.APICalls,
		CacheHits:       o.CacheHits,
		DurationSeconds: o.DurationSeconds,
		Warnings:        o.Warnings,
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	if !o.StartedAt.IsZero() {
		started := o.StartedAt
		out.StartedAt = &started
	}
	if !o.CompletedAt.IsZero() {
		completed := o.CompletedAt
		out.CompletedAt = &completed
	}
	if o.Error != "" {
		msg := o.Error
		out.Error = &msg
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the status projection. Data stays nil.
func (o *ExtractionOutcome) UnmarshalJSON(data []byte) error {
	var in outcomeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*o = ExtractionOutcome{
		Success:         in.Success,
		Source:          in.Source,
		Records:         in.Records,
		APICalls:        in.APICalls,
		CacheHits:       in.CacheHits,
		DurationSeconds: in.DurationSeconds,
		Warnings:        in.Warnings,
	}
	if in.StartedAt != nil {
		o.StartedAt = *in.StartedAt
	}
	if in.CompletedAt != nil {
		o.CompletedAt = *in.CompletedAt
	}
	if in.Error != nil {
		o.Error = *in.Error
	}
	return nil
}

// TelemetrySnapshot is a read-only view of one client's counters.
type TelemetrySnapshot struct {
	Source         string  `json:"source"`
	RequestsIssued int     `json:"api_calls"`
	CacheHits      int     `json:"cache_hits"`
	Errors         int     `json:"errors"`
	AverageLatency float64 `json:"avg_latency"`
}

// TelemetryTotals sums counters across sources.
type TelemetryTotals struct {
	APICalls  int `json:"api_calls"`
	CacheHits int `json:"cache_hits"`
	Errors    int `json:"errors"`
}

// Add folds a snapshot into the totals.
func (t *TelemetryTotals) Add(s TelemetrySnapshot) {
	t.APICalls += s.RequestsIssued
	t.CacheHits += s.CacheHits
	t.Errors += s.Errors
}

// AggregatedTelemetry is computed on demand from all registered clients.
type AggregatedTelemetry struct {
	Totals    TelemetryTotals              `json:"totals"`
	PerSource map[string]TelemetrySnapshot `json:"per_source"`
}
