//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())
}

func openMigrated(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/sourcetap.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestOpenFileStoreTunesEmbedded(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)

	require.Equal(t, 1, store.DB.Stats().MaxOpenConnections)

	var journal string
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal))
	require.Contains(t, journal, "wal")

	var busy int
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	require.Equal(t, 5000, busy)
}

func TestRateLimitPrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)

	refill := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, source := range []string{"world_bank", "worldxbank"} {
		require.NoError(t, store.SaveRateState(ctx, source, core.RateState{Capacity: 60, RefillPerSecond: 1, LastRefill: refill}))
	}

	entries, err := store.ListRateLimits(ctx, RateLimitQuery{Prefix: "world_"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "world_bank", entries[0].Source)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)
	require.NoError(t, store.Migrate(ctx))

	version, ok, err := store.GetMeta(ctx, "schema_version")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, schemaVersion, version)

	_, ok, err = store.GetMeta(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ok := core.ExtractionOutcome{
		Success:         true,
		Source:          "usgs",
		Records:         750,
		APICalls:        2,
		CacheHits:       1,
		StartedAt:       base,
		CompletedAt:     base.Add(1500 * time.Millisecond),
		DurationSeconds: 1.5,
		Warnings:        []string{"short page"},
	}
	failed := core.ExtractionOutcome{
		Source:      "world_bank",
		StartedAt:   base.Add(time.Hour),
		CompletedAt: base.Add(time.Hour),
		Error:       "HTTP 404",
	}

	require.NoError(t, store.SaveOutcome(ctx, "run-1", ok))
	require.NoError(t, store.SaveOutcome(ctx, "run-2", failed))
	require.Error(t, store.SaveOutcome(ctx, "", ok))

	runs, err := store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].RunID)
	require.False(t, runs[0].Outcome.Success)
	require.Equal(t, "HTTP 404", runs[0].Outcome.Error)
	require.Empty(t, runs[0].Outcome.Warnings)

	got := runs[1].Outcome
	require.True(t, got.Success)
	require.Equal(t, 750, got.Records)
	require.Equal(t, 2, got.APICalls)
	require.Equal(t, 1, got.CacheHits)
	require.True(t, base.Equal(got.StartedAt))
	require.True(t, ok.CompletedAt.Equal(got.CompletedAt))
	require.Equal(t, []string{"short page"}, got.Warnings)

	runs, err = store.ListRuns(ctx, RunFilter{Source: "usgs", Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	runs, err = store.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	removed, err := store.PruneRuns(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	runs, err = store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "world_bank", runs[0].Outcome.Source)
}

func TestResponseCache(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewResponseCache(store, "usgs", time.Minute)
	c.Clock = func() time.Time { return now }

	_, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.Set(ctx, "k", []byte(`{"a":1}`)))
	body, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, hit)
	require.JSONEq(t, `{"a":1}`, string(body))

	other := NewResponseCache(store, "world_bank", time.Minute)
	other.Clock = c.Clock
	_, hit, err = other.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, hit)

	// Visible through the expiry instant itself.
	now = now.Add(time.Minute)
	_, hit, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, hit)

	removed, err := store.PruneExpiredResponses(ctx, now)
	require.NoError(t, err)
	require.Zero(t, removed)

	now = now.Add(time.Millisecond)
	_, hit, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, hit)

	removed, err = store.PruneExpiredResponses(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	disabled := NewResponseCache(store, "usgs", 0)
	require.NoError(t, disabled.Set(ctx, "z", []byte(`1`)))
	_, hit, err = disabled.Get(ctx, "z")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCachedResponseOverwrite(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetCachedResponse(ctx, "usgs", "q", []byte(`1`), now, time.Minute))
	require.NoError(t, store.SetCachedResponse(ctx, "usgs", "q", []byte(`2`), now, time.Hour))

	body, hit, err := store.GetCachedResponse(ctx, "usgs", "q", now.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "2", string(body))

	require.ErrorContains(t, store.SetCachedResponse(ctx, "usgs", " ", []byte(`1`), now, time.Minute), "cache key is required")
}

func TestMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)

	require.NoError(t, store.SetMeta(ctx, "last_run", "a"))
	require.NoError(t, store.SetMeta(ctx, "last_run", "b"))

	value, ok, err := store.GetMeta(ctx, "last_run")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", value)

	require.ErrorContains(t, store.SetMeta(ctx, "", "x"), "meta key is required")
}

func TestRateStatePersistence(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)

	missing, err := store.GetRateState(ctx, "usgs")
	require.NoError(t, err)
	require.Nil(t, missing)

	refill := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, source := range []string{"usgs", "world_bank", "open_meteo"} {
		require.NoError(t, store.SaveRateState(ctx, source, core.RateState{
			Tokens: 12.5, Capacity: 60, RefillPerSecond: 1, LastRefill: refill,
		}))
	}

	state, err := store.GetRateState(ctx, "usgs")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, 12.5, state.Tokens)
	require.True(t, refill.Equal(state.LastRefill))

	entries, err := store.ListRateLimits(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "open_meteo", entries[0].Source)

	count, err := store.CountRateLimits(ctx, RateLimitQuery{Prefix: "world"})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	removed, err := store.ResetRateLimits(ctx, RateLimitQuery{Source: "usgs"})
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	state, err = store.GetRateState(ctx, "usgs")
	require.NoError(t, err)
	require.Nil(t, state)
}
