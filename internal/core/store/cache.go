package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetCachedResponse returns a cached response body if it has not expired.
func (s *Store) GetCachedResponse(ctx context.Context, source, key string, now time.Time) ([]byte, bool, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return nil, false, err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("cache key is required")
	}

	var body []byte
	row := s.DB.QueryRowContext(ctx, `
		SELECT body
		FROM response_cache
		WHERE source = ? AND cache_key = ? AND expires_at >= ?
	`, source, key, now.UTC().UnixMilli())

	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch cached response: %w", err)
	}

	return body, true, nil
}

// SetCachedResponse stores a response body with a TTL. A non-positive TTL
// stores nothing.
func (s *Store) SetCachedResponse(ctx context.Context, source, key string, body []byte, now time.Time, ttl time.Duration) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	if ttl <= 0 {
		return nil
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cache key is required")
	}

	now = now.UTC()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO response_cache (source, cache_key, body, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, cache_key) DO UPDATE SET
			body = excluded.body,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at
	`, source, key, body, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}

	return nil
}

// PruneExpiredResponses deletes cache rows whose expiry is before now.
func (s *Store) PruneExpiredResponses(ctx context.Context, now time.Time) (int64, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at < ?`, now.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune response cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune response cache: %w", err)
	}
	return affected, nil
}

// ResponseCache adapts the store to the request engine's cache interface for
// one source, so cached responses survive between CLI runs.
type ResponseCache struct {
	Clock func() time.Time

	store  *Store
	source string
	ttl    time.Duration
}

// NewResponseCache returns a cache scoped to source.
func NewResponseCache(s *Store, source string, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: s, source: source, ttl: ttl}
}

// Get implements cache.Cache.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.store.GetCachedResponse(ctx, c.source, key, c.now())
}

// Set implements cache.Cache.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte) error {
	return c.store.SetCachedResponse(ctx, c.source, key, value, c.now(), c.ttl)
}

func (c *ResponseCache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
