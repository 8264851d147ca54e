package engine

import (
	"sync"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
)

// Recorder accumulates per-client request counters and latency samples.
type Recorder struct {
	mu        sync.Mutex
	requests  int
	cacheHits int
	errors    int
	latencies []time.Duration
}

// Request counts one issued request.
func (r *Recorder) Request() {
	r.mu.Lock()
	r.requests++
	r.mu.Unlock()
}

// CacheHit counts one cache hit.
func (r *Recorder) CacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

// Error counts one failed request.
func (r *Recorder) Error() {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

// Latency appends a latency sample.
func (r *Recorder) Latency(d time.Duration) {
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

// Snapshot returns the current counters. AverageLatency is in seconds.
func (r *Recorder) Snapshot(source string) core.TelemetrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := core.TelemetrySnapshot{
		Source:         source,
		RequestsIssued: r.requests,
		CacheHits:      r.cacheHits,
		Errors:         r.errors,
	}
	if len(r.latencies) > 0 {
		var total time.Duration
		for _, d := range r.latencies {
			total += d
		}
		snap.AverageLatency = total.Seconds() / float64(len(r.latencies))
	}
	return snap
}

// Samples returns the number of latency samples recorded.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.latencies)
}

// Reset clears all counters and samples.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = 0
	r.cacheHits = 0
	r.errors = 0
	r.latencies = r.latencies[:0]
}
