package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	logsv1 "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"watchdata/internal/models"
)

// EventInput is an event to be appended to the event log.
type EventInput struct {
	Name  string
	Attrs map[string]any
	Time  time.Time
}

// RecordEvent appends a single event.
func (s *Storage) RecordEvent(ctx context.Context, name string, attrs map[string]any) error {
	res, err := s.RecordEvents(ctx, EventInput{Name: name, Attrs: attrs})
	if err != nil {
		return err
	}
	if res.HasRejections() {
		return &StorageError{Type: ErrorTypeInvalidData, Message: res.ErrorMessage()}
	}
	return nil
}

// RecordEvents appends events using the DuckDB Appender. Each event is stored
// as an OTLP log record whose body is the event name.
func (s *Storage) RecordEvents(ctx context.Context, events ...EventInput) (*StoreResult, error) {
	if len(events) == 0 {
		return &StoreResult{}, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, NewInfrastructureError("failed to get connection", err)
	}
	defer conn.Close()

	var appender *duckdb.Appender
	err = conn.Raw(func(driverConn any) error {
		duckConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("unexpected connection type: %T", driverConn)
		}
		var appErr error
		appender, appErr = duckdb.NewAppenderFromConn(duckConn, "", "telemetry_events")
		return appErr
	})
	if err != nil {
		return nil, NewInfrastructureError("failed to create appender", err)
	}
	defer appender.Close()

	result := &StoreResult{}
	for _, ev := range events {
		if ev.Name == "" {
			result.AddError("event without name")
			continue
		}
		at := ev.Time
		if at.IsZero() {
			at = nowUTC()
		}

		lr := newLogRecord(ev, at)
		payload, err := protojson.Marshal(lr)
		if err != nil {
			result.AddError(fmt.Sprintf("event %s: %v", ev.Name, err))
			continue
		}

		err = appender.AppendRow(
			uuid.New().String(),
			ev.Name,
			lr.SeverityText,
			flattenAttributes(lr.Attributes),
			string(payload),
			at.UTC(),
		)
		if err != nil {
			result.AddError(fmt.Sprintf("event %s: %v", ev.Name, err))
			continue
		}
		result.Accepted++
	}

	if err := appender.Flush(); err != nil {
		return nil, NewInfrastructureError("failed to flush events", err)
	}
	return result, nil
}

func newLogRecord(ev EventInput, at time.Time) *logsv1.LogRecord {
	attrs := make(map[string]any, len(ev.Attrs)+1)
	for k, v := range ev.Attrs {
		attrs[k] = v
	}
	attrs["event.name"] = ev.Name

	nanos := uint64(at.UnixNano())
	return &logsv1.LogRecord{
		TimeUnixNano:         nanos,
		ObservedTimeUnixNano: nanos,
		SeverityNumber:       logsv1.SeverityNumber_SEVERITY_NUMBER_INFO,
		SeverityText:         "INFO",
		Body:                 &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: ev.Name}},
		Attributes:           toKeyValues(attrs),
	}
}

// ListEvents returns the newest events first. An empty name matches all events.
func (s *Storage) ListEvents(ctx context.Context, name string, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_name, attributes, payload_json, created_at
		FROM telemetry_events
		WHERE ? = '' OR event_name = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, name, name, limit)
	if err != nil {
		return nil, NewInfrastructureError("failed to list events", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var (
			e     models.Event
			attrs duckdb.Map
		)
		if err := rows.Scan(&e.ID, &e.Name, &attrs, &e.Payload, &e.CreatedAt); err != nil {
			return nil, NewInfrastructureError("failed to scan event", err)
		}
		e.Attrs = mapToStrings(attrs)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
