package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core/extractor"
)

func testConfig() *config.Config {
	return &config.Config{
		Cache:     config.CacheConfig{Backend: config.CacheBackendMemory, TTL: time.Minute},
		HTTP:      config.HTTPConfig{Timeout: time.Second, MaxRetries: 1},
		Collector: config.CollectorConfig{Concurrency: 2},
		Sources: map[string]config.SourceConfig{
			extractor.WorldBankName: {Enabled: false},
			extractor.USGSName:      {Enabled: true, RateLimit: 30, BaseURL: "http://usgs.invalid"},
		},
	}
}

func TestSelectSources(t *testing.T) {
	cfg := testConfig()

	t.Run("enabled sources by default", func(t *testing.T) {
		names, err := selectSources(cfg, nil)
		require.NoError(t, err)
		require.Equal(t, []string{extractor.OpenMeteoName, extractor.USGSName}, names)
	})

	t.Run("explicit names include disabled sources", func(t *testing.T) {
		names, err := selectSources(cfg, []string{"World_Bank", "usgs", "world_bank", " "})
		require.NoError(t, err)
		require.Equal(t, []string{extractor.WorldBankName, extractor.USGSName}, names)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := selectSources(cfg, []string{"usgs", "nasa"})
		require.ErrorContains(t, err, `unknown source "nasa"`)
	})
}

func TestBuildCollectionAppliesConfig(t *testing.T) {
	ctx := context.Background()
	built, err := buildCollection(ctx, testConfig(), collectorSettings{Concurrency: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = built.Close() })

	require.Equal(t, 4, built.Collector.Concurrency)
	require.Equal(t, []string{extractor.OpenMeteoName, extractor.USGSName}, built.Collector.Sources())
	require.NotNil(t, built.Collector.OnOutcome)

	src, ok := built.Collector.Lookup(extractor.USGSName)
	require.True(t, ok)
	require.Equal(t, 30, src.RateLimit())
	require.Equal(t, "http://usgs.invalid", src.BaseURL())
	require.Len(t, built.limiters, 2)

	// Without a store there is nothing to persist.
	require.NoError(t, built.SaveRateState(ctx))
}

func TestBuildCollectionDefaultsConcurrencyFromConfig(t *testing.T) {
	built, err := buildCollection(context.Background(), testConfig(), collectorSettings{NoCache: true, Only: []string{"usgs"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = built.Close() })

	require.Equal(t, 2, built.Collector.Concurrency)
	require.Equal(t, []string{extractor.USGSName}, built.Collector.Sources())
}

func TestBuildCollectionStoreCacheNeedsStore(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = config.CacheBackendStore

	_, err := buildCollection(context.Background(), cfg, collectorSettings{})
	require.ErrorContains(t, err, "requires an open store")

	// --no-cache skips the backend entirely.
	built, err := buildCollection(context.Background(), cfg, collectorSettings{NoCache: true})
	require.NoError(t, err)
	require.NoError(t, built.Close())
}

func TestBuildCollectionRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Cache.Redis = config.RedisConfig{Addr: mr.Addr(), Prefix: "sourcetap-test"}

	built, err := buildCollection(context.Background(), cfg, collectorSettings{})
	require.NoError(t, err)
	require.Len(t, built.closers, 1)
	require.NoError(t, built.Close())
	require.Empty(t, built.closers)
}

func TestSourceRows(t *testing.T) {
	rows, err := sourceRows(testConfig())
	require.NoError(t, err)
	require.Len(t, rows, len(extractor.Names()))

	byName := map[string]bool{}
	for _, row := range rows {
		byName[row.Name] = row.Enabled
		if row.Name == extractor.USGSName {
			require.Equal(t, "http://usgs.invalid", row.BaseURL)
			require.Equal(t, 30, row.RateLimit)
		}
	}
	require.False(t, byName[extractor.WorldBankName])
	require.True(t, byName[extractor.OpenMeteoName])
}

func TestServeOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	var host string
	var port int
	cmd.Flags().StringVar(&host, "host", "", "")
	cmd.Flags().IntVar(&port, "port", 0, "")

	require.Nil(t, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("port", "9999"))
	overrides := serveOverrides(cmd)
	server, ok := overrides["server"].(map[string]any)
	require.True(t, ok)
	require.NotContains(t, server, "host")
	require.Contains(t, server, "port")
}
