package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sourcetap/sourcetap/internal/core"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func TestTokenBucketStartsFull(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(60)
	bucket.Clock = clock.Now
	bucket.Sleep = clock.Sleep

	for i := 0; i < 60; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}
	require.Empty(t, clock.Sleeps())

	state := bucket.State()
	require.Equal(t, 60.0, state.Capacity)
	require.Equal(t, 1.0, state.RefillPerSecond)
	require.InDelta(t, 0.0, state.Tokens, 1e-9)
}

func TestTokenBucketWaitsForRefill(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(60)
	bucket.Clock = clock.Now
	bucket.Sleep = clock.Sleep

	for i := 0; i < 60; i++ {
		require.True(t, bucket.TryAcquire())
	}
	require.False(t, bucket.TryAcquire())

	require.NoError(t, bucket.Acquire(context.Background()))

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 20)
	for _, d := range sleeps {
		require.Equal(t, DefaultPollInterval, d)
	}
}

func TestTokenBucketBounded(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(30)
	bucket.Clock = clock.Now
	bucket.Sleep = clock.Sleep

	steps := []time.Duration{0, time.Second, time.Hour, 10 * time.Millisecond, 0, 3 * time.Second}
	for i := 0; i < 200; i++ {
		clock.Advance(steps[i%len(steps)])
		bucket.TryAcquire()

		state := bucket.State()
		require.LessOrEqual(t, state.Tokens, state.Capacity)
		require.GreaterOrEqual(t, state.Tokens, 0.0)
	}
}

func TestTokenBucketRefillCapped(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(10)
	bucket.Clock = clock.Now

	require.True(t, bucket.TryAcquire())
	clock.Advance(24 * time.Hour)

	require.Equal(t, 10.0, bucket.State().Tokens)
}

func TestTokenBucketCancel(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(1)
	bucket.Clock = func() time.Time { return clock.Now() }
	bucket.Sleep = func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	}

	require.True(t, bucket.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, bucket.Acquire(ctx), context.Canceled)
}

func TestTokenBucketConcurrent(t *testing.T) {
	bucket := NewTokenBucket(100)
	bucket.PollInterval = time.Millisecond

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bucket.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 50, granted)
	require.LessOrEqual(t, bucket.State().Tokens, 100.0)
}

func TestTokenBucketDisabled(t *testing.T) {
	var nilBucket *TokenBucket
	require.NoError(t, nilBucket.Acquire(context.Background()))

	bucket := NewTokenBucket(0)
	for i := 0; i < 5; i++ {
		require.True(t, bucket.TryAcquire())
	}
}

func TestTokenBucketRestore(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(60)
	bucket.Clock = clock.Now

	bucket.Restore(core.RateState{Tokens: 2, Capacity: 600, LastRefill: clock.Now().Add(-3 * time.Second)})
	state := bucket.State()
	require.InDelta(t, 5.0, state.Tokens, 1e-9)
	require.Equal(t, 60.0, state.Capacity)

	bucket.Restore(core.RateState{Tokens: 500, LastRefill: clock.Now()})
	require.Equal(t, 60.0, bucket.State().Tokens)

	bucket.Restore(core.RateState{Tokens: 0})
	require.Equal(t, 60.0, bucket.State().Tokens)
}
