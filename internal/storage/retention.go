package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"watchdata/internal/metrics"
)

// RetentionConfig holds maintenance configuration.
type RetentionConfig struct {
	Days         int
	IntervalMins int
}

// Enabled reports whether old diagnostics are pruned.
func (c RetentionConfig) Enabled() bool {
	return c.Days > 0
}

// MaintenanceResult contains the outcome of a maintenance cycle.
type MaintenanceResult struct {
	Timestamp       time.Time
	Duration        time.Duration
	WarningsDeleted int64
	EventsDeleted   int64
}

// StartMaintenanceWorker prunes old warnings and events periodically.
// Returns immediately if retention is disabled (days=0).
// Stops when ctx is cancelled.
func (s *Storage) StartMaintenanceWorker(ctx context.Context, cfg RetentionConfig) {
	if !cfg.Enabled() {
		s.log.Info("retention disabled, maintenance worker not started")
		return
	}
	if cfg.IntervalMins < 1 {
		cfg.IntervalMins = 1
	}

	s.log.WithFields(logrus.Fields{
		"retention_days": cfg.Days,
		"interval_mins":  cfg.IntervalMins,
	}).Info("maintenance worker started")

	s.runMaintenance(ctx, cfg.Days)

	ticker := time.NewTicker(time.Duration(cfg.IntervalMins) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("maintenance worker stopped")
			return
		case <-ticker.C:
			s.runMaintenance(ctx, cfg.Days)
		}
	}
}

func (s *Storage) runMaintenance(ctx context.Context, days int) {
	if _, err := s.RunMaintenance(ctx, days); err != nil {
		s.log.WithError(err).Warn("maintenance failed")
	}
}

// RunMaintenance executes a single cycle. It deletes warnings of runs started
// more than days ago, except those of the latest run, and events older than
// that. It returns nil without error when another cycle is in progress.
func (s *Storage) RunMaintenance(ctx context.Context, days int) (*MaintenanceResult, error) {
	select {
	case s.maintenanceRunning <- struct{}{}:
		defer func() { <-s.maintenanceRunning }()
	default:
		s.log.Debug("maintenance already in progress, skipping")
		return nil, nil
	}

	start := time.Now()
	cutoff := start.UTC().AddDate(0, 0, -days)
	result := &MaintenanceResult{Timestamp: start}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewInfrastructureError("failed to start maintenance transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM ingest_warnings WHERE run_id IN (
			SELECT id FROM ingest_runs
			WHERE started_at < ?
			  AND id <> (SELECT id FROM ingest_runs ORDER BY started_at DESC LIMIT 1)
		)
	`, cutoff)
	if err != nil {
		return nil, NewInfrastructureError("failed to prune warnings", err)
	}
	result.WarningsDeleted, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM telemetry_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, NewInfrastructureError("failed to prune events", err)
	}
	result.EventsDeleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, NewInfrastructureError("failed to commit maintenance", err)
	}

	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		s.log.WithError(err).Warn("checkpoint failed")
	}

	result.Duration = time.Since(start)
	metrics.MaintenanceDeleted.WithLabelValues("ingest_warnings").Add(float64(result.WarningsDeleted))
	metrics.MaintenanceDeleted.WithLabelValues("telemetry_events").Add(float64(result.EventsDeleted))

	s.mu.Lock()
	s.lastMaintenance = result
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"duration": result.Duration.Round(time.Millisecond),
		"warnings": result.WarningsDeleted,
		"events":   result.EventsDeleted,
	}).Info("maintenance completed")
	return result, nil
}
