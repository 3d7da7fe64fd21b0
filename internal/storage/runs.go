package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"watchdata/internal/models"
)

const runColumns = `id, started_at, finished_at, status, scanned_files, records_seen, bytes_read,
	parsed_records, inserted_records, duplicate_records, warning_count, error_text`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		r        models.Run
		finished sql.NullTime
		status   string
		errText  sql.NullString
	)
	err := row.Scan(&r.ID, &r.StartedAt, &finished, &status,
		&r.Counters.ScannedFiles, &r.Counters.RecordsSeen, &r.Counters.BytesRead,
		&r.Counters.Parsed, &r.Counters.Inserted, &r.Counters.Duplicates, &r.Counters.Warnings,
		&errText)
	if err != nil {
		return nil, err
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = timePtr(finished)
	r.Status = models.RunStatus(status)
	r.ErrorText = errText.String
	return &r, nil
}

// CreateRun inserts a new run in the running state.
func (s *Storage) CreateRun(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, started_at, status) VALUES (?, ?, ?)
	`, id, startedAt.UTC(), string(models.RunRunning))
	if err != nil {
		return NewInfrastructureError("failed to create run", err)
	}
	return nil
}

// UpdateRunProgress persists counters of a run that is still running.
func (s *Storage) UpdateRunProgress(ctx context.Context, id string, c models.Counters) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			scanned_files = ?, records_seen = ?, bytes_read = ?, parsed_records = ?,
			inserted_records = ?, duplicate_records = ?, warning_count = ?
		WHERE id = ? AND status = 'running'
	`, c.ScannedFiles, c.RecordsSeen, c.BytesRead, c.Parsed, c.Inserted, c.Duplicates, c.Warnings, id)
	if err != nil {
		return NewInfrastructureError("failed to update run progress", err)
	}
	return nil
}

// FinishRun moves a running run to a terminal status with its final counters.
// It is a no-op when the run was already failed by someone else.
func (s *Storage) FinishRun(ctx context.Context, id string, status models.RunStatus, c models.Counters, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			finished_at = ?, status = ?,
			scanned_files = ?, records_seen = ?, bytes_read = ?, parsed_records = ?,
			inserted_records = ?, duplicate_records = ?, warning_count = ?,
			error_text = ?
		WHERE id = ? AND status = 'running'
	`, nowUTC(), string(status),
		c.ScannedFiles, c.RecordsSeen, c.BytesRead, c.Parsed, c.Inserted, c.Duplicates, c.Warnings,
		nullString(errText), id)
	if err != nil {
		return NewInfrastructureError("failed to finish run", err)
	}
	return nil
}

// FailRun marks one running run failed, keeping any earlier error text.
func (s *Storage) FailRun(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			status = 'failed',
			finished_at = COALESCE(finished_at, ?),
			error_text = COALESCE(error_text, ?)
		WHERE id = ? AND status = 'running'
	`, nowUTC(), message, id)
	if err != nil {
		return NewInfrastructureError("failed to mark run failed", err)
	}
	return nil
}

// FailRunningRuns marks every running run failed and returns how many changed.
func (s *Storage) FailRunningRuns(ctx context.Context, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			status = 'failed',
			finished_at = COALESCE(finished_at, ?),
			error_text = COALESCE(error_text, ?)
		WHERE status = 'running'
	`, nowUTC(), message)
	if err != nil {
		return 0, NewInfrastructureError("failed to fail running runs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetRun returns one run or models.ErrNotFound.
func (s *Storage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return s.queryRun(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE id = ?`, id)
}

// LatestRun returns the most recently started run or models.ErrNotFound.
func (s *Storage) LatestRun(ctx context.Context) (*models.Run, error) {
	return s.queryRun(ctx, `SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT 1`)
}

// LatestRunningRun returns the most recently started running run or models.ErrNotFound.
func (s *Storage) LatestRunningRun(ctx context.Context) (*models.Run, error) {
	return s.queryRun(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE status = 'running' ORDER BY started_at DESC LIMIT 1`)
}

// ListRuns returns the most recent runs, newest first.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, NewInfrastructureError("failed to list runs", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, NewInfrastructureError("failed to scan run", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Storage) queryRun(ctx context.Context, query string, args ...any) (*models.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, NewInfrastructureError("failed to load run", err)
	}
	return r, nil
}

// CountRunRecords returns how many raw records were first inserted by a run.
func (s *Storage) CountRunRecords(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_records WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, NewInfrastructureError("failed to count run records", err)
	}
	return n, nil
}
