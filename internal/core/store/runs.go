package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
)

// DefaultRunLimit caps ListRuns when no limit is given.
const DefaultRunLimit = 50

// RunRecord is one persisted source outcome from a collection run.
type RunRecord struct {
	RunID   string                 `json:"run_id"`
	Outcome core.ExtractionOutcome `json:"outcome"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Source string
	RunID  string
	Limit  int
}

// SaveOutcome persists a source outcome under runID. Saving the same run and
// source again replaces the earlier row.
func (s *Store) SaveOutcome(ctx context.Context, runID string, outcome core.ExtractionOutcome) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("run id is required")
	}
	source := strings.TrimSpace(outcome.Source)
	if source == "" {
		return errors.New("outcome source is required")
	}

	warnings := outcome.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	var errText sql.NullString
	if outcome.Error != "" {
		errText = sql.NullString{String: outcome.Error, Valid: true}
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, source, success, records, api_calls, cache_hits, started_at, completed_at, duration_seconds, error, warnings_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, source) DO UPDATE SET
			success = excluded.success,
			records = excluded.records,
			api_calls = excluded.api_calls,
			cache_hits = excluded.cache_hits,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_seconds = excluded.duration_seconds,
			error = excluded.error,
			warnings_json = excluded.warnings_json
	`, runID, source, boolToInt(outcome.Success), outcome.Records, outcome.APICalls, outcome.CacheHits,
		nullMillis(outcome.StartedAt), nullMillis(outcome.CompletedAt), outcome.DurationSeconds, errText, string(warningsJSON))
	if err != nil {
		return fmt.Errorf("store run outcome: %w", err)
	}
	return nil
}

// ListRuns returns persisted outcomes, newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []any
	)
	if source := strings.TrimSpace(filter.Source); source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, source)
	}
	if runID := strings.TrimSpace(filter.RunID); runID != "" {
		clauses = append(clauses, "id = ?")
		args = append(args, runID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, source, success, records, api_calls, cache_hits, started_at, completed_at, duration_seconds, error, warnings_json
		FROM runs
		%s
		ORDER BY completed_at DESC, id DESC, source
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records := []RunRecord{}
	for rows.Next() {
		var (
			rec          RunRecord
			success      int
			startedAt    sql.NullInt64
			completedAt  sql.NullInt64
			errText      sql.NullString
			warningsJSON string
		)
		if err := rows.Scan(&rec.RunID, &rec.Outcome.Source, &success, &rec.Outcome.Records, &rec.Outcome.APICalls,
			&rec.Outcome.CacheHits, &startedAt, &completedAt, &rec.Outcome.DurationSeconds, &errText, &warningsJSON); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}

		rec.Outcome.Success = success != 0
		rec.Outcome.StartedAt = fromMillis(startedAt)
		rec.Outcome.CompletedAt = fromMillis(completedAt)
		rec.Outcome.Error = errText.String
		if err := json.Unmarshal([]byte(warningsJSON), &rec.Outcome.Warnings); err != nil {
			return nil, fmt.Errorf("decode run warnings: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return records, nil
}

// PruneRuns deletes outcomes that completed before cutoff and returns the
// number removed.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE completed_at IS NOT NULL AND completed_at < ?
	`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return affected, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
