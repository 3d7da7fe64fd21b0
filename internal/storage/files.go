package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"watchdata/internal/models"
)

// GetFile returns the provenance row for path or models.ErrNotFound.
func (s *Storage) GetFile(ctx context.Context, path string) (*models.IngestFile, error) {
	var (
		f         models.IngestFile
		sha       sql.NullString
		processed sql.NullTime
		lastRun   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, sha256, size_bytes, mtime, processed_at, last_run_id
		FROM ingest_files WHERE path = ?
	`, path).Scan(&f.ID, &f.Path, &sha, &f.SizeBytes, &f.Mtime, &processed, &lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, NewInfrastructureError("failed to load file", err)
	}
	f.SHA256 = sha.String
	f.Mtime = f.Mtime.UTC()
	f.ProcessedAt = timePtr(processed)
	f.LastRunID = lastRun.String
	return &f, nil
}

// SaveFile inserts f when it has no ID yet, otherwise updates its metadata.
// processed_at is written as given, so callers clear it before a reparse.
func (s *Storage) SaveFile(ctx context.Context, f *models.IngestFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO ingest_files (id, path, sha256, size_bytes, mtime, processed_at, last_run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.Path, nullString(f.SHA256), f.SizeBytes, f.Mtime.UTC(), nullTime(f.ProcessedAt), nullString(f.LastRunID))
		if err != nil {
			f.ID = ""
			return NewInfrastructureError("failed to insert file", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_files SET size_bytes = ?, mtime = ?, processed_at = ?, last_run_id = ?
		WHERE id = ?
	`, f.SizeBytes, f.Mtime.UTC(), nullTime(f.ProcessedAt), nullString(f.LastRunID), f.ID)
	if err != nil {
		return NewInfrastructureError("failed to update file", err)
	}
	return nil
}

// MarkFileProcessed records the content hash and completion of a file.
func (s *Storage) MarkFileProcessed(ctx context.Context, id, sha256, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_files SET sha256 = ?, processed_at = ?, last_run_id = ? WHERE id = ?
	`, sha256, nowUTC(), runID, id)
	if err != nil {
		return NewInfrastructureError("failed to mark file processed", err)
	}
	return nil
}

// ListFiles returns every tracked file ordered by path.
func (s *Storage) ListFiles(ctx context.Context) ([]models.IngestFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, sha256, size_bytes, mtime, processed_at, last_run_id
		FROM ingest_files ORDER BY path
	`)
	if err != nil {
		return nil, NewInfrastructureError("failed to list files", err)
	}
	defer rows.Close()

	var files []models.IngestFile
	for rows.Next() {
		var (
			f         models.IngestFile
			sha       sql.NullString
			processed sql.NullTime
			lastRun   sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Path, &sha, &f.SizeBytes, &f.Mtime, &processed, &lastRun); err != nil {
			return nil, NewInfrastructureError("failed to scan file", err)
		}
		f.SHA256 = sha.String
		f.Mtime = f.Mtime.UTC()
		f.ProcessedAt = timePtr(processed)
		f.LastRunID = lastRun.String
		files = append(files, f)
	}
	return files, rows.Err()
}
