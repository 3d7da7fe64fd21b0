package storage

import (
	"context"

	"watchdata/internal/models"
)

const insertRecordSQL = `
INSERT OR IGNORE INTO raw_records (
    fingerprint, metric_key, source_type, value, unit,
    start_ts, end_ts, creation_ts, date_local,
    source_name, source_version, device, file_id, run_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CAST(? AS DATE), ?, ?, ?, ?, ?)`

// InsertRecord stores rec unless its fingerprint already exists.
// It reports whether a new row was written.
func (s *Storage) InsertRecord(ctx context.Context, rec *models.Record, fileID, runID string) (bool, error) {
	res, err := s.insertRecord.ExecContext(ctx,
		rec.Fingerprint, rec.MetricKey, rec.SourceType, rec.Value, rec.Unit,
		rec.Start.UTC(), rec.End.UTC(), rec.Created.UTC(), rec.DateLocal,
		rec.SourceName, rec.SourceVersion, rec.Device, nullString(fileID), runID,
	)
	if err != nil {
		return false, NewInfrastructureError("failed to insert record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, NewInfrastructureError("failed to read insert result", err)
	}
	return n > 0, nil
}

// CountRecords returns the number of stored raw records per metric.
func (s *Storage) CountRecords(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric_key, COUNT(*) FROM raw_records GROUP BY metric_key`)
	if err != nil {
		return nil, NewInfrastructureError("failed to count records", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, NewInfrastructureError("failed to scan record count", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}
