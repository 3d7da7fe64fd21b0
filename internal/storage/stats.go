package storage

import (
	"context"
	"os"
)

// Stats describes the size of the database.
type Stats struct {
	DBPath          string
	DBSizeBytes     int64
	WALSizeBytes    int64
	Tables          map[string]int64
	LastMaintenance *MaintenanceResult
}

var statsTables = []string{
	"ingest_runs", "ingest_files", "raw_records", "daily_metrics",
	"ingest_warnings", "metric_goals", "telemetry_events",
}

// Stats returns file sizes and row counts.
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path, Tables: make(map[string]int64, len(statsTables))}

	if s.path != ":memory:" {
		if fi, err := os.Stat(s.path); err == nil {
			st.DBSizeBytes = fi.Size()
		}
		if fi, err := os.Stat(s.path + ".wal"); err == nil {
			st.WALSizeBytes = fi.Size()
		}
	}

	for _, table := range statsTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, NewInfrastructureError("failed to count "+table, err)
		}
		st.Tables[table] = n
	}

	s.mu.Lock()
	st.LastMaintenance = s.lastMaintenance
	s.mu.Unlock()
	return st, nil
}
