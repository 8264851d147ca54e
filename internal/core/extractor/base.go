package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/engine"
)

// Base carries the shared client plumbing for a concrete source.
type Base struct {
	*engine.Client

	name      string
	rateLimit int
}

func newBase(name, baseURL string, rateLimit int, opts engine.Options) Base {
	opts.Source = name
	if opts.BaseURL == "" {
		opts.BaseURL = baseURL
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rateLimit
	}
	return Base{Client: engine.NewClient(opts), name: name, rateLimit: opts.RateLimit}
}

// Name returns the source identifier.
func (b *Base) Name() string { return b.name }

// RateLimit returns the requests-per-minute ceiling.
func (b *Base) RateLimit() int { return b.rateLimit }

// run resets telemetry, invokes fetch, and converts its result into an
// outcome. Errors and panics inside fetch become failed outcomes.
func (b *Base) run(ctx context.Context, fetch func(ctx context.Context) (*core.Table, []string, error)) (outcome core.ExtractionOutcome) {
	b.ResetTelemetry()
	started := b.now()

	defer func() {
		if r := recover(); r != nil {
			outcome = b.fail(started, panicMessage(r))
		}
	}()

	table, warnings, err := fetch(ctx)
	if err != nil {
		return b.fail(started, err.Error())
	}
	return b.succeed(started, table, warnings)
}

func (b *Base) succeed(started time.Time, table *core.Table, warnings []string) core.ExtractionOutcome {
	completed := b.now()
	snap := b.Telemetry()
	if table == nil {
		table = &core.Table{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return core.ExtractionOutcome{
		Success:         true,
		Source:          b.name,
		Records:         table.Len(),
		APICalls:        snap.RequestsIssued,
		CacheHits:       snap.CacheHits,
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
		Warnings:        warnings,
		Data:            table,
	}
}

func (b *Base) fail(started time.Time, msg string) core.ExtractionOutcome {
	completed := b.now()
	snap := b.Telemetry()
	return core.ExtractionOutcome{
		Success:         false,
		Source:          b.name,
		APICalls:        snap.RequestsIssued,
		CacheHits:       snap.CacheHits,
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
		Error:           msg,
		Warnings:        []string{},
	}
}

func (b *Base) now() time.Time {
	if b.Client.Clock != nil {
		return b.Client.Clock()
	}
	return time.Now().UTC()
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return "panic: " + err.Error()
	}
	return fmt.Sprintf("panic: %v", r)
}
