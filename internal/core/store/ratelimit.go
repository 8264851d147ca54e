package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
)

// RateLimitEntry is one saved token bucket.
type RateLimitEntry struct {
	Source string         `json:"source"`
	State  core.RateState `json:"state"`
}

// RateLimitQuery selects saved buckets for listing or reset. Exactly one
// selector applies, in the order All, Source, Prefix.
type RateLimitQuery struct {
	All    bool
	Source string
	Prefix string
}

// Validate rejects a query with no selector, so a reset never silently
// matches every bucket.
func (q RateLimitQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Source) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --source, or --prefix")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	switch {
	case q.All:
		return "", nil, nil
	case strings.TrimSpace(q.Source) != "":
		return "WHERE source = ?", []any{strings.TrimSpace(q.Source)}, nil
	default:
		// Source names contain "_", which LIKE would treat as a wildcard.
		prefix := likeEscaper.Replace(strings.TrimSpace(q.Prefix))
		return `WHERE source LIKE ? ESCAPE '\'`, []any{prefix + "%"}, nil
	}
}

// GetRateState returns the saved token bucket for a source, or nil when none
// was saved.
func (s *Store) GetRateState(ctx context.Context, source string) (*core.RateState, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("source is required")
	}

	var (
		state      core.RateState
		lastRefill int64
	)
	err = s.DB.QueryRowContext(ctx, `
		SELECT tokens, capacity, refill_per_second, last_refill
		FROM rate_limits
		WHERE source = ?
	`, source).Scan(&state.Tokens, &state.Capacity, &state.RefillPerSecond, &lastRefill)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit %s: %w", source, err)
	}
	state.LastRefill = time.UnixMilli(lastRefill).UTC()
	return &state, nil
}

// SaveRateState persists a source's token bucket. A bucket that was never
// refilled has nothing worth saving and is skipped.
func (s *Store) SaveRateState(ctx context.Context, source string, state core.RateState) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return errors.New("source is required")
	}
	if state.LastRefill.IsZero() {
		return nil
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (source, tokens, capacity, refill_per_second, last_refill)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			tokens = excluded.tokens,
			capacity = excluded.capacity,
			refill_per_second = excluded.refill_per_second,
			last_refill = excluded.last_refill
	`, source, state.Tokens, state.Capacity, state.RefillPerSecond, state.LastRefill.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store rate limit %s: %w", source, err)
	}
	return nil
}

// ListRateLimits returns saved buckets ordered by source.
func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT source, tokens, capacity, refill_per_second, last_refill FROM rate_limits `+where+` ORDER BY source`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // read-only cursor

	entries := []RateLimitEntry{}
	for rows.Next() {
		var (
			entry      RateLimitEntry
			lastRefill int64
		)
		if err := rows.Scan(&entry.Source, &entry.State.Tokens, &entry.State.Capacity, &entry.State.RefillPerSecond, &lastRefill); err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entry.State.LastRefill = time.UnixMilli(lastRefill).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountRateLimits counts buckets matching q.
func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limits `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes buckets matching q so the next run starts full.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limits `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return result.RowsAffected()
}
