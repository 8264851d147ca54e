package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sourcetap/sourcetap/internal/core"
)

// Source is a named extractor driving its own Client.
type Source interface {
	Name() string
	BaseURL() string
	RateLimit() int
	Extract(ctx context.Context, params core.Params) core.ExtractionOutcome
	Telemetry() core.TelemetrySnapshot
}

// Collector coordinates extractions across registered sources and isolates
// their failures.
type Collector struct {
	// Concurrency bounds parallel extractions in CollectAll. Values below 2
	// run sources one after another.
	Concurrency int
	Clock       func() time.Time
	// OnOutcome, when set, observes every outcome CollectAll produces.
	OnOutcome func(name string, outcome core.ExtractionOutcome)

	mu      sync.RWMutex
	sources map[string]Source
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{sources: make(map[string]Source)}
}

// Register binds name to src, replacing any existing binding.
func (c *Collector) Register(name string, src Source) error {
	key := strings.TrimSpace(name)
	if key == "" {
		return ErrEmptyName
	}
	if src == nil {
		return fmt.Errorf("register %s: source is nil", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sources == nil {
		c.sources = make(map[string]Source)
	}
	c.sources[key] = src
	return nil
}

// Sources returns the registered names in sorted order.
func (c *Collector) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the source bound to name.
func (c *Collector) Lookup(name string) (Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.sources[strings.TrimSpace(name)]
	return src, ok
}

// Collect runs a single source. Unknown names return ErrNotRegistered; a
// panicking source yields a failed outcome.
func (c *Collector) Collect(ctx context.Context, name string, params core.Params) (core.ExtractionOutcome, error) {
	src, ok := c.Lookup(name)
	if !ok {
		return core.ExtractionOutcome{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	outcome := c.runSource(ctx, name, src, params)
	if c.OnOutcome != nil {
		c.OnOutcome(name, outcome)
	}
	return outcome, nil
}

// CollectAll runs every registered source with its params, or empty params
// when none are given. A failing or panicking source yields a failed outcome
// and never stops the others.
func (c *Collector) CollectAll(ctx context.Context, paramsBySource map[string]core.Params) map[string]core.ExtractionOutcome {
	if ctx == nil {
		ctx = context.Background()
	}

	return c.collect(ctx, c.snapshot(), paramsBySource)
}

// CollectSources runs only the named sources. Any unknown name fails the call
// before a source runs.
func (c *Collector) CollectSources(ctx context.Context, names []string, paramsBySource map[string]core.Params) (map[string]core.ExtractionOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	all := c.snapshot()
	selected := make(map[string]Source, len(names))
	for _, name := range names {
		key := strings.TrimSpace(name)
		src, ok := all[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
		}
		selected[key] = src
	}
	return c.collect(ctx, selected, paramsBySource), nil
}

func (c *Collector) collect(ctx context.Context, sources map[string]Source, paramsBySource map[string]core.Params) map[string]core.ExtractionOutcome {
	results := make(map[string]core.ExtractionOutcome, len(sources))
	var mu sync.Mutex
	record := func(name string, outcome core.ExtractionOutcome) {
		mu.Lock()
		results[name] = outcome
		mu.Unlock()
		if c.OnOutcome != nil {
			c.OnOutcome(name, outcome)
		}
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	if c.Concurrency < 2 {
		for _, name := range names {
			record(name, c.runSource(ctx, name, sources[name], paramsBySource[name]))
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)
	for _, name := range names {
		src := sources[name]
		params := paramsBySource[name]
		g.Go(func() error {
			record(name, c.runSource(gctx, name, src, params))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Telemetry snapshots every registered source and sums the counters.
func (c *Collector) Telemetry() core.AggregatedTelemetry {
	snapshot := c.snapshot()
	agg := core.AggregatedTelemetry{PerSource: make(map[string]core.TelemetrySnapshot, len(snapshot))}
	for name, src := range snapshot {
		snap := src.Telemetry()
		agg.PerSource[name] = snap
		agg.Totals.Add(snap)
	}
	return agg
}

func (c *Collector) runSource(ctx context.Context, name string, src Source, params core.Params) (outcome core.ExtractionOutcome) {
	if params == nil {
		params = core.Params{}
	}
	started := c.now()
	defer func() {
		if r := recover(); r != nil {
			outcome = c.failedOutcome(name, started, fmt.Sprintf("panic: %v", r))
		}
	}()

	outcome = src.Extract(ctx, params)
	if outcome.Source == "" {
		outcome.Source = name
	}
	return outcome
}

func (c *Collector) failedOutcome(name string, started time.Time, msg string) core.ExtractionOutcome {
	completed := c.now()
	return core.ExtractionOutcome{
		Success:         false,
		Source:          name,
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
		Error:           msg,
		Warnings:        []string{},
	}
}

func (c *Collector) snapshot() map[string]Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Source, len(c.sources))
	for name, src := range c.sources {
		out[name] = src
	}
	return out
}

func (c *Collector) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
