package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdata/internal/catalog"
	"watchdata/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func writeExport(t *testing.T, records ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<!DOCTYPE HealthData [\n<!ELEMENT HealthData (ExportDate,Me,(Record)*)>\n]>\n")
	b.WriteString(`<HealthData locale="en_US">` + "\n")
	b.WriteString(` <ExportDate value="2024-01-02 09:00:00 -0800"/>` + "\n")
	for _, r := range records {
		b.WriteString(" " + r + "\n")
	}
	b.WriteString("</HealthData>\n")

	path := filepath.Join(t.TempDir(), "export.xml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func stepRecord(start string, value int) string {
	return fmt.Sprintf(`<Record type="HKQuantityTypeIdentifierStepCount" sourceName="Watch" sourceVersion="10.1" unit="count" creationDate="%s" startDate="%s" endDate="%s" value="%d"/>`,
		start, start, start, value)
}

type collector struct {
	records  []*models.Record
	warnings []*models.Warning
	seen     int
	bytes    int
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnChunk: func(n int) { c.bytes += n },
		OnSeen:  func(n int) { c.seen += n },
		OnRecord: func(_ context.Context, r *models.Record) error {
			c.records = append(c.records, r)
			return nil
		},
		OnWarning: func(_ context.Context, w *models.Warning) error {
			c.warnings = append(c.warnings, w)
			return nil
		},
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"2024-01-01 08:00:00 -0800", "2024-01-01T08:00:00-08:00", true},
		{"2024-06-30 23:59:59 +0530", "2024-06-30T23:59:59+05:30", true},
		{"2024-01-01 08:00:00 +0000", "2024-01-01T08:00:00+00:00", true},
		{"2024-01-01T08:00:00-08:00", "", false},
		{"2024-13-01 08:00:00 -0800", "", false},
		{"2024-01-01 08:00:00.250 -0800", "", false},
		{"2024-01-01 8:00:00 -0800", "", false},
		{"2024-01-01 08:00:00 -08", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeTimestamp(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.Format(models.TimestampLayout))
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"72", 72, true},
		{" 72 ", 72, true},
		{"72 bpm", 72, true},
		{"12abc", 12, true},
		{"-1.5e2kg", -150, true},
		{".5", 0.5, true},
		{"3.", 3, true},
		{"1e", 1, true},
		{"abc", 0, false},
		{"", 0, false},
		{"-", 0, false},
		{"NaN", 0, false},
		{"Infinity", 0, false},
		{"inf", 0, false},
		{"1e400", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseValue(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalDate(t *testing.T) {
	d, ok := LocalDate("2024-01-01 23:30:00 -0800")
	require.True(t, ok)
	assert.Equal(t, "2024-01-01", d)

	_, ok = LocalDate("2024-01")
	assert.False(t, ok)
	_, ok = LocalDate("yesterday at noon")
	assert.False(t, ok)
}

func TestParse_ClassifiesRecords(t *testing.T) {
	path := writeExport(t,
		stepRecord("2024-01-01 08:00:00 -0800", 3000),
		`<Record type="HKQuantityTypeIdentifierHeartRate" sourceName="Watch" unit="count/min" startDate="2024-01-01 08:00:00 -0800" endDate="2024-01-01 08:00:00 -0800" value="72"/>`,
		`<Record type="HKQuantityTypeIdentifierStepCount" sourceName="Watch" unit="count" value="12"/>`,
		`<Record type="HKQuantityTypeIdentifierBodyMass" unit="lb" startDate="2024-01-01 21:00:00 -0800" value="181">
  <MetadataEntry key="HKWasUserEntered" value="1"/>
 </Record>`,
	)

	p := New(catalog.Default(), testLogger())
	var c collector
	n, err := p.Parse(context.Background(), path, c.callbacks())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	require.Len(t, c.records, 2)
	require.Len(t, c.warnings, 1)
	assert.Equal(t, 4, c.seen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int(info.Size()), c.bytes)

	steps := c.records[0]
	assert.Equal(t, "steps", steps.MetricKey)
	assert.Equal(t, 3000.0, steps.Value)
	assert.Equal(t, "2024-01-01", steps.DateLocal)
	assert.Equal(t, "2024-01-01T08:00:00-08:00", steps.StartISO())
	assert.Len(t, steps.Fingerprint, 64)

	weight := c.records[1]
	assert.Equal(t, "weight", weight.MetricKey)
	assert.Equal(t, "unknown", weight.SourceName)
	assert.Equal(t, "unknown", weight.SourceVersion)
	assert.Equal(t, "", weight.Device)
	assert.True(t, weight.End.Equal(weight.Start))
	assert.True(t, weight.Created.Equal(weight.Start))

	w := c.warnings[0]
	assert.Equal(t, models.WarningInvalidRecord, w.Type)
	assert.Equal(t, "Record is missing required date or numeric value fields", w.Message)
	assert.Equal(t, "HKQuantityTypeIdentifierStepCount", w.MetricType)
	assert.Equal(t, "12", w.RawValue)
	assert.Contains(t, w.SampleJSON, `"sourceName":"Watch"`)
}

func TestParse_InvalidValues(t *testing.T) {
	path := writeExport(t,
		`<Record type="HKQuantityTypeIdentifierStepCount" startDate="2024-01-01 08:00:00 -0800" value="abc"/>`,
		`<Record type="HKQuantityTypeIdentifierStepCount" startDate="2024-01-01 08:00:00 -0800" value="NaN"/>`,
		`<Record type="HKQuantityTypeIdentifierStepCount" startDate="2024-01-01 08:00:00 -0800"/>`,
		`<Record type="HKQuantityTypeIdentifierStepCount" startDate="not a date" value="5"/>`,
	)

	var c collector
	n, err := New(catalog.Default(), testLogger()).Parse(context.Background(), path, c.callbacks())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, c.warnings, 4)
}

func TestParse_LenientValuesStrictDates(t *testing.T) {
	path := writeExport(t,
		`<Record type="HKQuantityTypeIdentifierRestingHeartRate" unit="count/min" startDate="2024-01-01 08:00:00 -0800" value="72 bpm"/>`,
		`<Record type="HKQuantityTypeIdentifierRestingHeartRate" unit="count/min" startDate="2024-01-01 08:00:00.500 -0800" value="75"/>`,
	)

	var c collector
	n, err := New(catalog.Default(), testLogger()).Parse(context.Background(), path, c.callbacks())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, c.records, 1)
	assert.Equal(t, 72.0, c.records[0].Value)
	require.Len(t, c.warnings, 1)
	assert.Equal(t, "2024-01-01 08:00:00.500 -0800", c.warnings[0].StartTS)
}

func TestParse_MalformedXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xml")
	body := "<HealthData>\n" + stepRecord("2024-01-01 08:00:00 -0800", 10) + "\n<Record type=\"x\" </HealthData>"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	var c collector
	n, err := New(catalog.Default(), testLogger()).Parse(context.Background(), path, c.callbacks())
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, path, perr.Path)
	assert.Equal(t, 1, n)
}

func TestParse_InvalidUTF8IsReplaced(t *testing.T) {
	path := writeExport(t,
		"<Record type=\"HKQuantityTypeIdentifierStepCount\" sourceName=\"Watch\xff\xfe\" unit=\"count\" startDate=\"2024-01-01 08:00:00 -0800\" value=\"40\"/>",
		stepRecord("2024-01-01 09:00:00 -0800", 60),
	)

	var c collector
	n, err := New(catalog.Default(), testLogger()).Parse(context.Background(), path, c.callbacks())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	require.Len(t, c.records, 2)
	assert.Equal(t, "Watch\uFFFD\uFFFD", c.records[0].SourceName)
	assert.Equal(t, 60.0, c.records[1].Value)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int(info.Size()), c.bytes)
}

func TestParse_MissingFile(t *testing.T) {
	_, err := New(catalog.Default(), testLogger()).Parse(context.Background(), filepath.Join(t.TempDir(), "nope.xml"), Callbacks{})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_FirstCallbackErrorWins(t *testing.T) {
	var recs []string
	for i := 0; i < 50; i++ {
		recs = append(recs, stepRecord(fmt.Sprintf("2024-01-01 08:%02d:00 -0800", i), i+1))
	}
	path := writeExport(t, recs...)

	boom := errors.New("storage unavailable")
	calls := 0
	cb := Callbacks{
		OnRecord: func(context.Context, *models.Record) error {
			calls++
			if calls >= 3 {
				return fmt.Errorf("call %d: %w", calls, boom)
			}
			return nil
		},
	}

	n, err := New(catalog.Default(), testLogger()).Parse(context.Background(), path, cb)
	require.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "call 3: storage unavailable")
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestParse_ContextCancelled(t *testing.T) {
	path := writeExport(t, stepRecord("2024-01-01 08:00:00 -0800", 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(catalog.Default(), testLogger()).Parse(ctx, path, Callbacks{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_Backpressure(t *testing.T) {
	var recs []string
	for i := 0; i < 200; i++ {
		recs = append(recs, stepRecord(fmt.Sprintf("2024-01-01 %02d:%02d:00 -0800", i/60, i%60), i))
	}
	path := writeExport(t, recs...)

	p := New(catalog.Default(), testLogger(), WithHighWater(4), WithBufferSize(512))
	s, err := p.Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	records := 0
	for {
		ev, ok := s.Next()
		if !ok {
			break
		}
		if ev.Kind == EventRecord {
			records++
			time.Sleep(100 * time.Microsecond)
		}
	}
	require.NoError(t, s.Err())
	assert.Equal(t, 200, records)

	stats := s.Stats()
	assert.LessOrEqual(t, stats.MaxDepth, int64(4))
	assert.Positive(t, stats.Pauses)
}

func TestStream_CloseStopsProducer(t *testing.T) {
	var recs []string
	for i := 0; i < 500; i++ {
		recs = append(recs, stepRecord(fmt.Sprintf("2024-01-%02d 08:00:00 -0800", i%28+1), i))
	}
	path := writeExport(t, recs...)

	s, err := New(catalog.Default(), testLogger()).Open(context.Background(), path)
	require.NoError(t, err)

	_, ok := s.Next()
	require.True(t, ok)
	require.NoError(t, s.Close())

	_, ok = s.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Err(), context.Canceled)
}
