// Package ingest coordinates import runs: file selection, parsing, persistence,
// progress accounting, aggregation and recovery of abandoned runs.
package ingest

import (
	"context"
	"time"

	"watchdata/internal/catalog"
	"watchdata/internal/models"
)

// Store is the persistence the coordinator needs.
type Store interface {
	CreateRun(ctx context.Context, id string, startedAt time.Time) error
	UpdateRunProgress(ctx context.Context, id string, c models.Counters) error
	FinishRun(ctx context.Context, id string, status models.RunStatus, c models.Counters, errText string) error
	FailRun(ctx context.Context, id, message string) error
	FailRunningRuns(ctx context.Context, message string) (int64, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	LatestRun(ctx context.Context) (*models.Run, error)
	LatestRunningRun(ctx context.Context) (*models.Run, error)
	CountRunRecords(ctx context.Context, runID string) (int64, error)

	GetFile(ctx context.Context, path string) (*models.IngestFile, error)
	SaveFile(ctx context.Context, f *models.IngestFile) error
	MarkFileProcessed(ctx context.Context, id, sha256, runID string) error

	InsertRecord(ctx context.Context, rec *models.Record, fileID, runID string) (bool, error)
	InsertWarning(ctx context.Context, w *models.Warning) error
	WarningSummary(ctx context.Context, runID string) ([]models.WarningCount, error)
	WarningSamples(ctx context.Context, runID string, limit int) ([]models.Warning, error)

	RecomputeDaily(ctx context.Context, cat *catalog.Catalog) (int64, error)
	RecordEvent(ctx context.Context, name string, attrs map[string]any) error
}
