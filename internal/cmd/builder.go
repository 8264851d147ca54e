package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/cache"
	"github.com/sourcetap/sourcetap/internal/core/engine"
	"github.com/sourcetap/sourcetap/internal/core/extractor"
	"github.com/sourcetap/sourcetap/internal/core/store"
	"github.com/sourcetap/sourcetap/internal/metrics"
	"github.com/sourcetap/sourcetap/internal/observability"
)

// collectorSettings are the per-invocation knobs layered over config.
type collectorSettings struct {
	NoCache     bool
	Concurrency int
	// Only restricts registration to these sources. Named sources are
	// registered even when disabled in config.
	Only []string
	// Store, when set, restores and saves rate limit state and backs the
	// "store" cache backend.
	Store *store.Store
}

// collection is a configured collector plus the resources it owns.
type collection struct {
	Collector *engine.Collector

	store    *store.Store
	limiters map[string]*engine.TokenBucket
	closers  []func() error
}

type limited interface {
	Limiter() *engine.TokenBucket
}

// buildCollection registers every enabled source (or settings.Only) with
// clients configured from cfg.
func buildCollection(ctx context.Context, cfg *config.Config, settings collectorSettings) (*collection, error) {
	names, err := selectSources(cfg, settings.Only)
	if err != nil {
		return nil, err
	}

	c := &collection{
		Collector: engine.NewCollector(),
		store:     settings.Store,
		limiters:  make(map[string]*engine.TokenBucket),
	}
	c.Collector.Concurrency = cfg.Collector.Concurrency
	if settings.Concurrency > 0 {
		c.Collector.Concurrency = settings.Concurrency
	}
	c.Collector.OnOutcome = func(_ string, outcome core.ExtractionOutcome) {
		metrics.RecordCollection(outcome)
	}

	newCache, err := c.cacheFactory(ctx, cfg, settings)
	if err != nil {
		return nil, err
	}

	maxRetries := cfg.HTTP.MaxRetries
	for _, name := range names {
		sc := cfg.Source(name)
		src, err := extractor.Build(name, engine.Options{
			BaseURL:         sc.BaseURL,
			RateLimit:       sc.RateLimit,
			CacheTTL:        cfg.Cache.TTL,
			Cache:           newCache(name),
			Timeout:         cfg.HTTP.Timeout,
			MaxRetries:      &maxRetries,
			MaxElapsed:      cfg.HTTP.MaxElapsed,
			UserAgentPrefix: cfg.HTTP.UserAgentPrefix,
			Logger:          observability.EngineLogger(),
		})
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		if err := c.Collector.Register(name, src); err != nil {
			_ = c.Close()
			return nil, err
		}
		if l, ok := src.(limited); ok && l.Limiter() != nil {
			c.limiters[name] = l.Limiter()
		}
	}

	c.restoreRateState(ctx)
	metrics.SetRegisteredSources(len(names))
	return c, nil
}

// cacheFactory returns a constructor for one source's response cache.
func (c *collection) cacheFactory(ctx context.Context, cfg *config.Config, settings collectorSettings) (func(source string) cache.Cache, error) {
	if settings.NoCache {
		return func(string) cache.Cache { return cache.Nop{} }, nil
	}

	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		return func(source string) cache.Cache {
			return cache.NewRedisCache(client, cfg.Cache.Redis.Prefix, source, cfg.Cache.TTL)
		}, nil
	case config.CacheBackendStore:
		if settings.Store == nil {
			return nil, errors.New("cache backend \"store\" requires an open store")
		}
		return func(source string) cache.Cache {
			return store.NewResponseCache(settings.Store, source, cfg.Cache.TTL)
		}, nil
	default:
		return func(string) cache.Cache { return cache.NewMemoryCache(cfg.Cache.TTL) }, nil
	}
}

// restoreRateState seeds each bucket from the store so back-to-back CLI runs
// share one budget.
func (c *collection) restoreRateState(ctx context.Context) {
	if c.store == nil {
		return
	}
	for name, limiter := range c.limiters {
		state, err := c.store.GetRateState(ctx, name)
		if err != nil {
			logWarn("Failed to load rate limit state", zap.String("source", name), zap.Error(err))
			continue
		}
		if state != nil {
			limiter.Restore(*state)
		}
	}
}

// SaveRateState writes every bucket back to the store.
func (c *collection) SaveRateState(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	var errs []error
	for name, limiter := range c.limiters {
		if err := c.store.SaveRateState(ctx, name, limiter.State()); err != nil {
			metrics.RecordStoreError("save_rate_state")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases resources opened by the builder. The store is owned by the
// caller.
func (c *collection) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// selectSources resolves the source list. An explicit list must name known
// sources; otherwise every enabled known source is used.
func selectSources(cfg *config.Config, only []string) ([]string, error) {
	known := extractor.Names()
	isKnown := make(map[string]bool, len(known))
	for _, name := range known {
		isKnown[name] = true
	}

	if len(only) > 0 {
		seen := make(map[string]bool, len(only))
		names := make([]string, 0, len(only))
		for _, raw := range only {
			name := strings.ToLower(strings.TrimSpace(raw))
			if name == "" || seen[name] {
				continue
			}
			if !isKnown[name] {
				return nil, fmt.Errorf("unknown source %q (known: %s)", raw, strings.Join(known, ", "))
			}
			seen[name] = true
			names = append(names, name)
		}
		return names, nil
	}

	names := make([]string, 0, len(known))
	for _, name := range known {
		if cfg.Source(name).Enabled {
			names = append(names, name)
		}
	}
	return names, nil
}

func logWarn(msg string, fields ...zap.Field) {
	if logger := observability.EngineLogger(); logger != nil {
		logger.Warn(msg, fields...)
	}
}
