package models

import "time"

// Goal is the user target for one metric.
type Goal struct {
	MetricKey   string    `json:"metric"`
	TargetValue *float64  `json:"targetValue"`
	Unit        string    `json:"unit"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Event is one row of the telemetry event log.
type Event struct {
	ID        string            `json:"id"`
	Name      string            `json:"eventName"`
	Attrs     map[string]string `json:"attributes"`
	Payload   string            `json:"payload"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Event names.
const (
	EventImportStarted   = "import_started"
	EventImportCompleted = "import_completed"
	EventImportFailed    = "import_failed"
	EventRescanClicked   = "rescan_clicked"
	EventGoalUpdated     = "goal_updated"
)
