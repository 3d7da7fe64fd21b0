package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"watchdata/internal/catalog"
	"watchdata/internal/metrics"
)

const insertSumSQL = `
INSERT INTO daily_metrics (date_local, metric_key, agg_value, unit, sample_count, recomputed_at)
SELECT date_local, metric_key, SUM(value), CAST(? AS VARCHAR), COUNT(*), CAST(? AS TIMESTAMP)
FROM raw_records WHERE metric_key = CAST(? AS VARCHAR)
GROUP BY date_local, metric_key`

const insertMeanSQL = `
INSERT INTO daily_metrics (date_local, metric_key, agg_value, unit, sample_count, recomputed_at)
SELECT date_local, metric_key, AVG(value), CAST(? AS VARCHAR), COUNT(*), CAST(? AS TIMESTAMP)
FROM raw_records WHERE metric_key = CAST(? AS VARCHAR)
GROUP BY date_local, metric_key`

// Latest start wins; ties fall back to creation time, then fingerprint.
const insertLastSQL = `
INSERT INTO daily_metrics (date_local, metric_key, agg_value, unit, sample_count, recomputed_at)
SELECT date_local, metric_key, value, CAST(? AS VARCHAR), sample_count, CAST(? AS TIMESTAMP)
FROM (
    SELECT date_local, metric_key, value,
        COUNT(*) OVER (PARTITION BY date_local) AS sample_count,
        ROW_NUMBER() OVER (
            PARTITION BY date_local
            ORDER BY start_ts DESC, creation_ts DESC, fingerprint DESC
        ) AS rn
    FROM raw_records WHERE metric_key = CAST(? AS VARCHAR)
) ranked
WHERE rn = 1`

const ensureGoalSQL = `
INSERT OR IGNORE INTO metric_goals (metric_key, target_value, unit, updated_at)
VALUES (CAST(? AS VARCHAR), NULL, CAST(? AS VARCHAR), CAST(? AS TIMESTAMP))`

// RecomputeDaily rebuilds daily_metrics from raw_records in one transaction and
// makes sure every catalog metric has a goal row. It returns the number of
// daily rows written.
func (s *Storage) RecomputeDaily(ctx context.Context, cat *catalog.Catalog) (int64, error) {
	start := time.Now()
	defer func() { metrics.AggregateDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewInfrastructureError("failed to start aggregate transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_metrics`); err != nil {
		return 0, NewInfrastructureError("failed to clear daily metrics", err)
	}

	now := nowUTC()
	var total int64
	for _, m := range cat.Metrics() {
		query, err := aggregateSQL(m.Aggregate)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, query, m.DisplayUnit, now, m.Key)
		if err != nil {
			return 0, NewInfrastructureError(fmt.Sprintf("failed to aggregate %s", m.Key), err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := ensureGoals(ctx, tx, cat, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, NewInfrastructureError("failed to commit daily metrics", err)
	}

	s.log.WithFields(logrus.Fields{
		"rows":     total,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("daily metrics recomputed")
	return total, nil
}

func aggregateSQL(a catalog.Aggregate) (string, error) {
	switch a {
	case catalog.AggregateSum:
		return insertSumSQL, nil
	case catalog.AggregateMean:
		return insertMeanSQL, nil
	case catalog.AggregateLast:
		return insertLastSQL, nil
	}
	return "", &StorageError{Type: ErrorTypeInvalidData, Message: fmt.Sprintf("unknown aggregate %q", a)}
}

func ensureGoals(ctx context.Context, tx *sql.Tx, cat *catalog.Catalog, now time.Time) error {
	for _, m := range cat.Metrics() {
		if _, err := tx.ExecContext(ctx, ensureGoalSQL, m.Key, m.DisplayUnit, now); err != nil {
			return NewInfrastructureError(fmt.Sprintf("failed to ensure goal for %s", m.Key), err)
		}
	}
	return nil
}

// EnsureGoals inserts an empty goal row for every catalog metric lacking one.
func (s *Storage) EnsureGoals(ctx context.Context, cat *catalog.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewInfrastructureError("failed to start goals transaction", err)
	}
	defer tx.Rollback()

	if err := ensureGoals(ctx, tx, cat, nowUTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return NewInfrastructureError("failed to commit goals", err)
	}
	return nil
}

// DailyMetric is one row of daily_metrics.
type DailyMetric struct {
	Date        string  `json:"date"`
	MetricKey   string  `json:"metric"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	SampleCount int64   `json:"sampleCount"`
}

// DailyMetrics returns the aggregates of one metric between two dates, inclusive.
func (s *Storage) DailyMetrics(ctx context.Context, metricKey, from, to string) ([]DailyMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CAST(date_local AS VARCHAR), metric_key, agg_value, unit, sample_count
		FROM daily_metrics
		WHERE metric_key = ? AND date_local BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)
		ORDER BY date_local
	`, metricKey, from, to)
	if err != nil {
		return nil, NewInfrastructureError("failed to query daily metrics", err)
	}
	defer rows.Close()

	var out []DailyMetric
	for rows.Next() {
		var d DailyMetric
		if err := rows.Scan(&d.Date, &d.MetricKey, &d.Value, &d.Unit, &d.SampleCount); err != nil {
			return nil, NewInfrastructureError("failed to scan daily metric", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PeriodValue reduces the daily values of a metric over a date range using its
// aggregate rule: total for sum, average of days for mean, latest day for last.
// It returns nil when the range has no data.
func (s *Storage) PeriodValue(ctx context.Context, m catalog.Metric, from, to string) (*float64, error) {
	var query string
	switch m.Aggregate {
	case catalog.AggregateSum:
		query = `SELECT SUM(agg_value) FROM daily_metrics
			WHERE metric_key = ? AND date_local BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)`
	case catalog.AggregateMean:
		query = `SELECT AVG(agg_value) FROM daily_metrics
			WHERE metric_key = ? AND date_local BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)`
	case catalog.AggregateLast:
		query = `SELECT agg_value FROM daily_metrics
			WHERE metric_key = ? AND date_local BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)
			ORDER BY date_local DESC LIMIT 1`
	default:
		_, err := aggregateSQL(m.Aggregate)
		return nil, err
	}

	var v sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, m.Key, from, to).Scan(&v)
	if err == sql.ErrNoRows || (err == nil && !v.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, NewInfrastructureError("failed to query period value", err)
	}
	return &v.Float64, nil
}
