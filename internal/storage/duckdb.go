package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"
)

// Storage provides database operations.
//
// The pool is capped at one connection, so every statement, transaction and
// appender runs strictly one at a time in submission order.
type Storage struct {
	db   *sql.DB
	path string
	log  *logrus.Logger

	insertRecord *sql.Stmt

	maintenanceRunning chan struct{}
	mu                 sync.Mutex
	lastMaintenance    *MaintenanceResult
}

// New creates a new Storage instance connected to DuckDB.
// If dbPath is empty, uses an in-memory database.
func New(dbPath string, log *logrus.Logger) (*Storage, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	s := &Storage{
		db:                 db,
		path:               dbPath,
		log:                log,
		maintenanceRunning: make(chan struct{}, 1),
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.insertRecord, err = db.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare record insert: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	statements := []string{
		ingestRunsSchema, ingestRunsIndexes,
		ingestFilesSchema,
		rawRecordsSchema, rawRecordsIndexes,
		dailyMetricsSchema, dailyMetricsIndexes,
		ingestWarningsSchema, ingestWarningsIndexes,
		metricGoalsSchema,
		telemetryEventsSchema, telemetryEventsIndexes,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Health checks if the database connection is healthy.
func (s *Storage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Storage) Close() error {
	if s.insertRecord != nil {
		s.insertRecord.Close()
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database location.
func (s *Storage) Path() string {
	return s.path
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
