package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is recorded in meta after a successful migration.
const schemaVersion = "2"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT NOT NULL,
		source TEXT NOT NULL,
		success INTEGER NOT NULL,
		records INTEGER NOT NULL DEFAULT 0,
		api_calls INTEGER NOT NULL DEFAULT 0,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER,
		completed_at INTEGER,
		duration_seconds REAL NOT NULL DEFAULT 0,
		error TEXT,
		warnings_json TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (id, source)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source, completed_at);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_completed ON runs(completed_at);`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS response_cache (
		source TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		body BLOB NOT NULL,
		cached_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (source, cache_key)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_response_cache_expires ON response_cache(expires_at);`,
	`CREATE TABLE IF NOT EXISTS rate_limits (
		source TEXT PRIMARY KEY,
		tokens REAL NOT NULL,
		capacity REAL NOT NULL,
		refill_per_second REAL NOT NULL,
		last_refill INTEGER NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	// Added after the first release; older databases lack it.
	if err := s.ensureColumn(ctx, "runs", "cache_hits", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	if err := s.SetMeta(ctx, "schema_version", schemaVersion); err != nil {
		return err
	}

	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}
