package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"watchdata/internal/models"
)

// InsertWarning appends one warning row, assigning an ID when missing.
func (s *Storage) InsertWarning(ctx context.Context, w *models.Warning) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_warnings (
			id, run_id, file_id, warning_type, message,
			metric_type, start_ts, raw_value, sample_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.RunID, nullString(w.FileID), w.Type, w.Message,
		nullString(w.MetricType), nullString(w.StartTS), nullString(w.RawValue), nullString(w.SampleJSON), nowUTC())
	if err != nil {
		return NewInfrastructureError("failed to insert warning", err)
	}
	return nil
}

// WarningSummary counts warnings of a run per type, most frequent first.
func (s *Storage) WarningSummary(ctx context.Context, runID string) ([]models.WarningCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT warning_type, COUNT(*) AS n
		FROM ingest_warnings WHERE run_id = ?
		GROUP BY warning_type
		ORDER BY n DESC, warning_type
	`, runID)
	if err != nil {
		return nil, NewInfrastructureError("failed to summarize warnings", err)
	}
	defer rows.Close()

	out := []models.WarningCount{}
	for rows.Next() {
		var wc models.WarningCount
		if err := rows.Scan(&wc.WarningType, &wc.Count); err != nil {
			return nil, NewInfrastructureError("failed to scan warning summary", err)
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

// WarningSamples returns up to limit warnings of a run ordered by type.
func (s *Storage) WarningSamples(ctx context.Context, runID string, limit int) ([]models.Warning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, file_id, warning_type, message, metric_type, start_ts, raw_value, sample_json
		FROM ingest_warnings WHERE run_id = ?
		ORDER BY warning_type, created_at
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, NewInfrastructureError("failed to load warning samples", err)
	}
	defer rows.Close()

	out := []models.Warning{}
	for rows.Next() {
		var (
			w                                     models.Warning
			fileID, metricType, startTS, rawValue sql.NullString
			sample                                sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.RunID, &fileID, &w.Type, &w.Message, &metricType, &startTS, &rawValue, &sample); err != nil {
			return nil, NewInfrastructureError("failed to scan warning", err)
		}
		w.FileID = fileID.String
		w.MetricType = metricType.String
		w.StartTS = startTS.String
		w.RawValue = rawValue.String
		w.SampleJSON = sample.String
		out = append(out, w)
	}
	return out, rows.Err()
}
