package server

import (
	"net/http"
	"time"

	"watchdata/internal/storage"
)

// StatsResponse is the JSON response for storage stats.
type StatsResponse struct {
	Database    DatabaseStats     `json:"database"`
	Tables      map[string]int64  `json:"tables"`
	Retention   RetentionStats    `json:"retention"`
	Maintenance *MaintenanceStats `json:"maintenance,omitempty"`
}

type DatabaseStats struct {
	Path         string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
}

type RetentionStats struct {
	Enabled      bool `json:"enabled"`
	Days         int  `json:"days"`
	IntervalMins int  `json:"interval_mins"`
}

type MaintenanceStats struct {
	LastRun         string `json:"last_run"`
	LastDurationMs  int64  `json:"last_duration_ms"`
	WarningsDeleted int64  `json:"warnings_deleted"`
	EventsDeleted   int64  `json:"events_deleted"`
}

func handleStats(store *storage.Storage, retention storage.RetentionConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}

		resp := StatsResponse{
			Database: DatabaseStats{
				Path:         stats.DBPath,
				SizeBytes:    stats.DBSizeBytes,
				WALSizeBytes: stats.WALSizeBytes,
			},
			Tables: stats.Tables,
			Retention: RetentionStats{
				Enabled:      retention.Enabled(),
				Days:         retention.Days,
				IntervalMins: retention.IntervalMins,
			},
		}

		if m := stats.LastMaintenance; m != nil {
			resp.Maintenance = &MaintenanceStats{
				LastRun:         m.Timestamp.UTC().Format(time.RFC3339),
				LastDurationMs:  m.Duration.Milliseconds(),
				WarningsDeleted: m.WarningsDeleted,
				EventsDeleted:   m.EventsDeleted,
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
