// Package models holds the domain types shared by the ingest pipeline, storage and HTTP layers.
package models

import "time"

// RunStatus is the lifecycle state of an ingest run.
type RunStatus string

const (
	RunIdle                  RunStatus = "idle"
	RunRunning               RunStatus = "running"
	RunCompleted             RunStatus = "completed"
	RunCompletedWithWarnings RunStatus = "completed_with_warnings"
	RunFailed                RunStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCompletedWithWarnings, RunFailed:
		return true
	}
	return false
}

// Reason says what triggered a rescan.
type Reason string

const (
	ReasonStartup Reason = "startup"
	ReasonManual  Reason = "manual"
)

// Valid reports whether r is a known trigger.
func (r Reason) Valid() bool {
	return r == ReasonStartup || r == ReasonManual
}

// Counters are the progress counters of a run.
type Counters struct {
	ScannedFiles int64 `json:"scannedFiles"`
	RecordsSeen  int64 `json:"recordsSeen"`
	BytesRead    int64 `json:"bytesRead"`
	Parsed       int64 `json:"parsedRecords"`
	Inserted     int64 `json:"insertedRecords"`
	Duplicates   int64 `json:"duplicateRecords"`
	Warnings     int64 `json:"warningCount"`
}

// HasProgress reports whether any record-level work was accounted.
// Bytes and seen counts are ignored: a hung parser can read without producing.
func (c Counters) HasProgress() bool {
	return c.Parsed+c.Inserted+c.Duplicates+c.Warnings > 0
}

// Run is one persisted ingest run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Counters   Counters
	ErrorText  string
}

// IsStale reports whether a running run looks abandoned: started before
// now-after and no record-level progress.
func (r *Run) IsStale(now time.Time, after time.Duration) bool {
	if r.Status != RunRunning {
		return false
	}
	return now.Sub(r.StartedAt) > after && !r.Counters.HasProgress()
}

// IngestFile is the provenance row of one export file.
type IngestFile struct {
	ID          string
	Path        string
	SHA256      string
	SizeBytes   int64
	Mtime       time.Time
	ProcessedAt *time.Time
	LastRunID   string
}

// ImportStatus is the externally visible state of the importer.
type ImportStatus struct {
	RunID        string    `json:"runId,omitempty"`
	Status       RunStatus `json:"status"`
	StartedAt    *string   `json:"startedAt"`
	FinishedAt   *string   `json:"finishedAt"`
	ScannedFiles int64     `json:"scannedFiles"`
	RecordsSeen  int64     `json:"recordsSeen"`
	BytesRead    int64     `json:"bytesRead"`
	Parsed       int64     `json:"parsed"`
	Inserted     int64     `json:"inserted"`
	Duplicates   int64     `json:"duplicates"`
	Warnings     int64     `json:"warnings"`
	ErrorText    *string   `json:"errorText"`
}

// NewImportStatus builds the status view of a run.
func NewImportStatus(r *Run) ImportStatus {
	st := ImportStatus{
		RunID:        r.ID,
		Status:       r.Status,
		StartedAt:    formatTime(&r.StartedAt),
		FinishedAt:   formatTime(r.FinishedAt),
		ScannedFiles: r.Counters.ScannedFiles,
		RecordsSeen:  r.Counters.RecordsSeen,
		BytesRead:    r.Counters.BytesRead,
		Parsed:       r.Counters.Parsed,
		Inserted:     r.Counters.Inserted,
		Duplicates:   r.Counters.Duplicates,
		Warnings:     r.Counters.Warnings,
	}
	if r.ErrorText != "" {
		text := r.ErrorText
		st.ErrorText = &text
	}
	return st
}

// IdleStatus is reported when no run has ever been recorded.
func IdleStatus() ImportStatus {
	return ImportStatus{Status: RunIdle}
}

// StartResult is returned by a rescan request.
type StartResult struct {
	RunID  string    `json:"runId"`
	Status RunStatus `json:"status"`
	Joined bool      `json:"joined"`
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
