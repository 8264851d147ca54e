package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetMeta returns a meta value and whether it exists.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return "", false, err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errors.New("meta key is required")
	}

	var value string
	err = s.DB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta upserts a meta value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("meta key is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO meta (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store meta %s: %w", key, err)
	}
	return nil
}
