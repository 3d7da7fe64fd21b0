// Package metrics defines Prometheus metrics for watchdata.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchdata_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdata_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ImportRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdata_import_runs_total",
			Help: "Finished import runs by final status",
		},
		[]string{"status"},
	)

	ImportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchdata_import_duration_seconds",
			Help:    "Wall time of finished import runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
	)

	RecordsSeen = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdata_records_seen_total",
			Help: "Record elements encountered in export files",
		},
	)

	RecordsParsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdata_records_parsed_total",
			Help: "Records that passed validation",
		},
	)

	RecordsInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdata_records_inserted_total",
			Help: "Records newly written to raw_records",
		},
	)

	BytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdata_bytes_read_total",
			Help: "Bytes read from export files",
		},
	)

	Warnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdata_ingest_warnings_total",
			Help: "Ingest warnings by type",
		},
		[]string{"type"},
	)

	FilesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdata_files_skipped_total",
			Help: "Export files skipped because they were already processed",
		},
	)

	ParserQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchdata_parser_queue_depth",
			Help: "Events buffered between the parser and its consumer",
		},
	)

	ParserPauses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdata_parser_pauses_total",
			Help: "Times the parser paused on a full queue",
		},
	)

	ProgressFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdata_progress_flushes_total",
			Help: "Progress flush attempts by outcome",
		},
		[]string{"outcome"},
	)

	AggregateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchdata_aggregate_duration_seconds",
			Help:    "Time spent rebuilding daily aggregates",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaintenanceDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdata_maintenance_deleted_total",
			Help: "Rows removed by the maintenance worker",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal,
		ImportRuns, ImportDuration,
		RecordsSeen, RecordsParsed, RecordsInserted, BytesRead,
		Warnings, FilesSkipped,
		ParserQueueDepth, ParserPauses,
		ProgressFlushes, AggregateDuration,
		MaintenanceDeleted,
	)
}
