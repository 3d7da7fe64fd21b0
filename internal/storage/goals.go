package storage

import (
	"context"
	"database/sql"

	"watchdata/internal/models"
)

// ListGoals returns all goal rows ordered by metric key.
func (s *Storage) ListGoals(ctx context.Context) ([]models.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric_key, target_value, unit, updated_at FROM metric_goals ORDER BY metric_key
	`)
	if err != nil {
		return nil, NewInfrastructureError("failed to list goals", err)
	}
	defer rows.Close()

	goals := []models.Goal{}
	for rows.Next() {
		var (
			g      models.Goal
			target sql.NullFloat64
		)
		if err := rows.Scan(&g.MetricKey, &target, &g.Unit, &g.UpdatedAt); err != nil {
			return nil, NewInfrastructureError("failed to scan goal", err)
		}
		if target.Valid {
			v := target.Float64
			g.TargetValue = &v
		}
		g.UpdatedAt = g.UpdatedAt.UTC()
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// SetGoal stores the target of one metric. A nil target clears it.
func (s *Storage) SetGoal(ctx context.Context, metricKey string, target *float64, unit string) (*models.Goal, error) {
	now := nowUTC()
	var v sql.NullFloat64
	if target != nil {
		v = sql.NullFloat64{Float64: *target, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_goals (metric_key, target_value, unit, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (metric_key) DO UPDATE SET
			target_value = excluded.target_value,
			unit = excluded.unit,
			updated_at = excluded.updated_at
	`, metricKey, v, unit, now)
	if err != nil {
		return nil, NewInfrastructureError("failed to set goal", err)
	}
	return &models.Goal{MetricKey: metricKey, TargetValue: target, Unit: unit, UpdatedAt: now}, nil
}
