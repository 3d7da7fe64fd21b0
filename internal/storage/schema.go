package storage

const ingestRunsSchema = `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id                VARCHAR PRIMARY KEY,
    started_at        TIMESTAMP NOT NULL,
    finished_at       TIMESTAMP,
    status            VARCHAR NOT NULL,
    scanned_files     BIGINT NOT NULL DEFAULT 0,
    records_seen      BIGINT NOT NULL DEFAULT 0,
    bytes_read        BIGINT NOT NULL DEFAULT 0,
    parsed_records    BIGINT NOT NULL DEFAULT 0,
    inserted_records  BIGINT NOT NULL DEFAULT 0,
    duplicate_records BIGINT NOT NULL DEFAULT 0,
    warning_count     BIGINT NOT NULL DEFAULT 0,
    error_text        VARCHAR
)`

const ingestRunsIndexes = `
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at)`

const ingestFilesSchema = `
CREATE TABLE IF NOT EXISTS ingest_files (
    id           VARCHAR PRIMARY KEY,
    path         VARCHAR NOT NULL UNIQUE,
    sha256       VARCHAR,
    size_bytes   BIGINT NOT NULL,
    mtime        TIMESTAMP NOT NULL,
    processed_at TIMESTAMP,
    last_run_id  VARCHAR
)`

const rawRecordsSchema = `
CREATE TABLE IF NOT EXISTS raw_records (
    fingerprint    VARCHAR PRIMARY KEY,
    metric_key     VARCHAR NOT NULL,
    source_type    VARCHAR NOT NULL,
    value          DOUBLE NOT NULL,
    unit           VARCHAR NOT NULL,
    start_ts       TIMESTAMP NOT NULL,
    end_ts         TIMESTAMP NOT NULL,
    creation_ts    TIMESTAMP NOT NULL,
    date_local     DATE NOT NULL,
    source_name    VARCHAR NOT NULL,
    source_version VARCHAR NOT NULL,
    device         VARCHAR NOT NULL,
    file_id        VARCHAR,
    run_id         VARCHAR NOT NULL
)`

const rawRecordsIndexes = `
CREATE INDEX IF NOT EXISTS idx_raw_records_metric_date ON raw_records(metric_key, date_local);
CREATE INDEX IF NOT EXISTS idx_raw_records_run ON raw_records(run_id)`

// daily_metrics has no unique constraint: it is emptied and refilled inside one
// transaction, and the rebuild groups by (date_local, metric_key).
const dailyMetricsSchema = `
CREATE TABLE IF NOT EXISTS daily_metrics (
    date_local    DATE NOT NULL,
    metric_key    VARCHAR NOT NULL,
    agg_value     DOUBLE NOT NULL,
    unit          VARCHAR NOT NULL,
    sample_count  BIGINT NOT NULL,
    recomputed_at TIMESTAMP NOT NULL
)`

const dailyMetricsIndexes = `
CREATE INDEX IF NOT EXISTS idx_daily_metrics_metric_date ON daily_metrics(metric_key, date_local)`

const ingestWarningsSchema = `
CREATE TABLE IF NOT EXISTS ingest_warnings (
    id           VARCHAR PRIMARY KEY,
    run_id       VARCHAR NOT NULL,
    file_id      VARCHAR,
    warning_type VARCHAR NOT NULL,
    message      VARCHAR NOT NULL,
    metric_type  VARCHAR,
    start_ts     VARCHAR,
    raw_value    VARCHAR,
    sample_json  VARCHAR,
    created_at   TIMESTAMP NOT NULL
)`

const ingestWarningsIndexes = `
CREATE INDEX IF NOT EXISTS idx_ingest_warnings_run ON ingest_warnings(run_id)`

const metricGoalsSchema = `
CREATE TABLE IF NOT EXISTS metric_goals (
    metric_key   VARCHAR PRIMARY KEY,
    target_value DOUBLE,
    unit         VARCHAR NOT NULL,
    updated_at   TIMESTAMP NOT NULL
)`

// Event rows are OTLP log records: attributes are flattened into a map and
// the full record is kept as protojson.
const telemetryEventsSchema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
    id            VARCHAR PRIMARY KEY,
    event_name    VARCHAR NOT NULL,
    severity_text VARCHAR,
    attributes    MAP(VARCHAR, VARCHAR),
    payload_json  VARCHAR NOT NULL,
    created_at    TIMESTAMP NOT NULL
)`

const telemetryEventsIndexes = `
CREATE INDEX IF NOT EXISTS idx_telemetry_events_name ON telemetry_events(event_name);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_created ON telemetry_events(created_at)`
