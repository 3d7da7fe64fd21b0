package models

import "time"

// TimestampLayout is the ISO-8601 form records are normalized to.
const TimestampLayout = "2006-01-02T15:04:05-07:00"

// DateLayout is the calendar date form of date_local.
const DateLayout = "2006-01-02"

// Record is one validated, normalized measurement.
// Timestamps keep the UTC offset they were exported with.
type Record struct {
	Fingerprint   string
	MetricKey     string
	SourceType    string
	Value         float64
	Unit          string
	Start         time.Time
	End           time.Time
	Created       time.Time
	DateLocal     string
	SourceName    string
	SourceVersion string
	Device        string
}

// StartISO returns the normalized start timestamp.
func (r *Record) StartISO() string { return r.Start.Format(TimestampLayout) }

// EndISO returns the normalized end timestamp.
func (r *Record) EndISO() string { return r.End.Format(TimestampLayout) }

// Warning types.
const (
	WarningInvalidRecord = "invalid_record"
	WarningFileError     = "file_error"
)

// Warning is a non-fatal ingest diagnostic.
type Warning struct {
	ID         string `json:"id"`
	RunID      string `json:"runId"`
	FileID     string `json:"fileId,omitempty"`
	Type       string `json:"warningType"`
	Message    string `json:"message"`
	MetricType string `json:"metricType,omitempty"`
	StartTS    string `json:"startTs,omitempty"`
	RawValue   string `json:"rawValue,omitempty"`
	SampleJSON string `json:"sampleJson,omitempty"`
}

// WarningCount is one row of the per-type warning summary.
type WarningCount struct {
	WarningType string `json:"warningType"`
	Count       int64  `json:"count"`
}

// DataQuality is the warning report of a run.
type DataQuality struct {
	RunID   string         `json:"runId"`
	Summary []WarningCount `json:"summary"`
	Samples []Warning      `json:"samples"`
}
