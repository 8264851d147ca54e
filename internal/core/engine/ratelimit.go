package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
)

// DefaultPollInterval is how long Acquire sleeps between refill checks.
const DefaultPollInterval = 50 * time.Millisecond

// TokenBucket gates outbound requests to a steady per-minute rate. Each client
// owns its own bucket.
type TokenBucket struct {
	Clock        func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
	PollInterval time.Duration

	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

// NewTokenBucket returns a full bucket holding requestsPerMinute tokens.
// A non-positive rate disables limiting.
func NewTokenBucket(requestsPerMinute int) *TokenBucket {
	capacity := float64(requestsPerMinute)
	if capacity < 0 {
		capacity = 0
	}
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: capacity / 60.0,
	}
}

// Acquire blocks until one token is available and consumes it. The lock is
// released while sleeping.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if b == nil || b.capacity <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if b.TryAcquire() {
			return nil
		}
		if err := b.sleep(ctx, b.pollInterval()); err != nil {
			return err
		}
	}
}

// TryAcquire refills by elapsed time and takes a token if one is available.
func (b *TokenBucket) TryAcquire() bool {
	if b == nil || b.capacity <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// State returns a snapshot of the bucket after refilling.
func (b *TokenBucket) State() core.RateState {
	if b == nil {
		return core.RateState{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return core.RateState{
		Tokens:          b.tokens,
		Capacity:        b.capacity,
		RefillPerSecond: b.refillRate,
		LastRefill:      b.lastRefill,
	}
}

// Restore seeds the bucket from a persisted state so a new process keeps the
// previous run's budget. Only the token count and refill timestamp are taken;
// capacity stays at the configured rate.
func (b *TokenBucket) Restore(state core.RateState) {
	if b == nil || b.capacity <= 0 || state.LastRefill.IsZero() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = math.Max(0, math.Min(b.capacity, state.Tokens))
	b.lastRefill = state.LastRefill
	b.refillLocked()
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	if b.lastRefill.IsZero() {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	}
	b.lastRefill = now
}

func (b *TokenBucket) pollInterval() time.Duration {
	if b.PollInterval > 0 {
		return b.PollInterval
	}
	return DefaultPollInterval
}

func (b *TokenBucket) sleep(ctx context.Context, d time.Duration) error {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (b *TokenBucket) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
