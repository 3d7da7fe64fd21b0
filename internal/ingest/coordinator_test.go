package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdata/internal/catalog"
	"watchdata/internal/models"
	"watchdata/internal/parser"
	"watchdata/internal/storage"
	"watchdata/internal/tracker"
)

const (
	stepType     = "HKQuantityTypeIdentifierStepCount"
	exerciseType = "HKQuantityTypeIdentifierAppleExerciseTime"
	weightType   = "HKQuantityTypeIdentifierBodyMass"
	heartType    = "HKQuantityTypeIdentifierHeartRate"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func rec(typ, unit, start, value string) string {
	return fmt.Sprintf(`<Record type="%s" sourceName="Watch" sourceVersion="10.1" unit="%s" creationDate="%s" startDate="%s" endDate="%s" value="%s"/>`,
		typ, unit, start, start, start, value)
}

func writeExport(t *testing.T, root, sub string, body ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<HealthData>\n")
	for _, r := range body {
		b.WriteString(" " + r + "\n")
	}
	b.WriteString("</HealthData>\n")

	dir := filepath.Join(root, sub)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "export.xml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func sampleExport(t *testing.T, root string) string {
	return writeExport(t, root, "2024-01",
		rec(stepType, "count", "2024-01-01 08:00:00 -0800", "3000"),
		rec(stepType, "count", "2024-01-01 10:00:00 -0800", "3000"),
		rec(stepType, "count", "2024-01-01 08:00:00 -0800", "3000"),
		rec(exerciseType, "min", "2024-01-01 09:00:00 -0800", "1"),
		rec(exerciseType, "min", "2024-01-01 09:01:00 -0800", "1"),
		rec(weightType, "lb", "2024-01-01 07:00:00 -0800", "182"),
		rec(weightType, "lb", "2024-01-01 21:00:00 -0800", "181"),
		rec(heartType, "count/min", "2024-01-01 09:00:00 -0800", "120"),
		rec(stepType, "count", "2024-01-02 08:00:00 -0800", "lots"),
	)
}

// hookStore wraps the real storage so tests can stall or break single calls.
type hookStore struct {
	*storage.Storage

	beforeGetFile func(ctx context.Context) error
	insertErr     error
	progress      atomic.Int64
}

func (h *hookStore) GetFile(ctx context.Context, path string) (*models.IngestFile, error) {
	if h.beforeGetFile != nil {
		if err := h.beforeGetFile(ctx); err != nil {
			return nil, err
		}
	}
	return h.Storage.GetFile(ctx, path)
}

func (h *hookStore) InsertRecord(ctx context.Context, r *models.Record, fileID, runID string) (bool, error) {
	if h.insertErr != nil {
		return false, h.insertErr
	}
	return h.Storage.InsertRecord(ctx, r, fileID, runID)
}

func (h *hookStore) UpdateRunProgress(ctx context.Context, id string, c models.Counters) error {
	h.progress.Add(1)
	return h.Storage.UpdateRunProgress(ctx, id, c)
}

type fixture struct {
	root  string
	store *hookStore
	coord *Coordinator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log := testLogger()
	st, err := storage.New("", log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := t.TempDir()
	cat := catalog.Default()
	hs := &hookStore{Storage: st}
	c := New(hs, parser.New(cat, log), tracker.New(root), cat, cfg, log)
	t.Cleanup(c.Close)
	return &fixture{root: root, store: hs, coord: c}
}

// blockFirstGetFile stalls the first file lookup until its context ends.
// The returned channel is closed once the lookup is blocked.
func (f *fixture) blockFirstGetFile() <-chan struct{} {
	entered := make(chan struct{})
	var calls atomic.Int64
	f.store.beforeGetFile = func(ctx context.Context) error {
		if calls.Add(1) != 1 {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	return entered
}

func daily(t *testing.T, st *hookStore, key string) map[string]storage.DailyMetric {
	t.Helper()
	rows, err := st.DailyMetrics(context.Background(), key, "2000-01-01", "2100-01-01")
	require.NoError(t, err)
	out := make(map[string]storage.DailyMetric, len(rows))
	for _, r := range rows {
		out[r.Date] = r
	}
	return out
}

func TestRunNow_ImportsAndAggregates(t *testing.T) {
	f := newFixture(t, Config{})
	path := sampleExport(t, f.root)
	ctx := context.Background()

	run, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)

	assert.Equal(t, models.RunCompletedWithWarnings, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.ErrorText)
	assert.Equal(t, int64(1), run.Counters.ScannedFiles)
	assert.Equal(t, int64(9), run.Counters.RecordsSeen)
	assert.Equal(t, int64(7), run.Counters.Parsed)
	assert.Equal(t, int64(6), run.Counters.Inserted)
	assert.Equal(t, int64(1), run.Counters.Duplicates)
	assert.Equal(t, int64(1), run.Counters.Warnings)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), run.Counters.BytesRead)

	steps := daily(t, f.store, "steps")
	require.Contains(t, steps, "2024-01-01")
	assert.Equal(t, 6000.0, steps["2024-01-01"].Value)
	assert.Equal(t, int64(2), steps["2024-01-01"].SampleCount)
	assert.NotContains(t, steps, "2024-01-02")

	assert.Equal(t, 2.0, daily(t, f.store, "exercise_minutes")["2024-01-01"].Value)
	assert.Equal(t, 181.0, daily(t, f.store, "weight")["2024-01-01"].Value)

	counts, err := f.store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum(counts))

	file, err := f.store.GetFile(ctx, path)
	require.NoError(t, err)
	assert.NotNil(t, file.ProcessedAt)
	assert.Len(t, file.SHA256, 64)
	assert.Equal(t, run.ID, file.LastRunID)

	goals, err := f.store.ListGoals(ctx)
	require.NoError(t, err)
	assert.Len(t, goals, len(catalog.Default().Keys()))
}

func sum(m map[string]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

func TestRunNow_RecordsEvents(t *testing.T) {
	f := newFixture(t, Config{})
	sampleExport(t, f.root)
	ctx := context.Background()

	run, err := f.coord.RunNow(ctx, models.ReasonStartup)
	require.NoError(t, err)

	started, err := f.store.ListEvents(ctx, models.EventImportStarted, 10)
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, run.ID, started[0].Attrs["runId"])
	assert.Equal(t, "startup", started[0].Attrs["reason"])

	completed, err := f.store.ListEvents(ctx, models.EventImportCompleted, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, string(models.RunCompletedWithWarnings), completed[0].Attrs["status"])
	assert.Equal(t, "6", completed[0].Attrs["inserted"])
}

func TestRunNow_SkipsUnchangedFiles(t *testing.T) {
	f := newFixture(t, Config{})
	path := sampleExport(t, f.root)
	ctx := context.Background()

	first, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)

	second, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.RunCompleted, second.Status)
	assert.Equal(t, int64(1), second.Counters.ScannedFiles)
	assert.Zero(t, second.Counters.Parsed)
	assert.Zero(t, second.Counters.BytesRead)

	file, err := f.store.GetFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, second.ID, file.LastRunID)
	assert.NotNil(t, file.ProcessedAt)

	assert.Equal(t, 6000.0, daily(t, f.store, "steps")["2024-01-01"].Value)
}

func TestRunNow_ReimportCountsDuplicates(t *testing.T) {
	f := newFixture(t, Config{})
	path := sampleExport(t, f.root)
	ctx := context.Background()

	_, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	run, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, int64(7), run.Counters.Parsed)
	assert.Zero(t, run.Counters.Inserted)
	assert.Equal(t, run.Counters.Parsed, run.Counters.Duplicates)

	steps := daily(t, f.store, "steps")
	assert.Equal(t, 6000.0, steps["2024-01-01"].Value)
}

func TestRunNow_MalformedFileIsIsolated(t *testing.T) {
	f := newFixture(t, Config{})
	bad := filepath.Join(f.root, "a", "export.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0o755))
	require.NoError(t, os.WriteFile(bad, []byte(`<HealthData><Record type="`+stepType+`" value="1"`), 0o644))
	good := writeExport(t, f.root, "b", rec(stepType, "count", "2024-03-01 08:00:00 +0000", "100"))
	ctx := context.Background()

	run, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompletedWithWarnings, run.Status)
	assert.Equal(t, int64(2), run.Counters.ScannedFiles)
	assert.Equal(t, int64(1), run.Counters.Inserted)

	dq, err := f.coord.DataQuality(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, dq.Summary, 1)
	assert.Equal(t, models.WarningFileError, dq.Summary[0].WarningType)
	require.Len(t, dq.Samples, 1)
	assert.Contains(t, dq.Samples[0].Message, bad)

	badFile, err := f.store.GetFile(ctx, bad)
	require.NoError(t, err)
	assert.Nil(t, badFile.ProcessedAt)

	goodFile, err := f.store.GetFile(ctx, good)
	require.NoError(t, err)
	assert.NotNil(t, goodFile.ProcessedAt)
	assert.Equal(t, 100.0, daily(t, f.store, "steps")["2024-03-01"].Value)
}

func TestRunNow_StorageFailureFailsRun(t *testing.T) {
	f := newFixture(t, Config{})
	sampleExport(t, f.root)
	f.store.insertErr = errors.New("disk full")
	ctx := context.Background()

	run, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, run.ErrorText, "disk full")
	assert.NotNil(t, run.FinishedAt)

	failed, err := f.store.ListEvents(ctx, models.EventImportFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, run.ID, failed[0].Attrs["runId"])

	st, err := f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, st.Status)
	require.NotNil(t, st.ErrorText)
	assert.Equal(t, run.ErrorText, *st.ErrorText)
}

func TestRunNow_EmptyRoot(t *testing.T) {
	f := newFixture(t, Config{})

	run, err := f.coord.RunNow(context.Background(), models.ReasonStartup)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Zero(t, run.Counters.ScannedFiles)
}

func TestStartRescan_InvalidReason(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.coord.StartRescan(context.Background(), models.Reason("cron"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestStartRescan_JoinsActiveRun(t *testing.T) {
	f := newFixture(t, Config{})
	sampleExport(t, f.root)
	entered := f.blockFirstGetFile()
	ctx := context.Background()

	first, err := f.coord.StartRescan(ctx, models.ReasonStartup)
	require.NoError(t, err)
	assert.False(t, first.Joined)
	<-entered

	second, err := f.coord.StartRescan(ctx, models.ReasonManual)
	require.NoError(t, err)
	assert.True(t, second.Joined)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, models.RunRunning, second.Status)

	st, err := f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, st.Status)
	assert.Equal(t, first.RunID, st.RunID)
	assert.Equal(t, int64(1), st.ScannedFiles)
}

func TestStartRescan_ManualSupersedesStaleRun(t *testing.T) {
	f := newFixture(t, Config{})
	sampleExport(t, f.root)
	entered := f.blockFirstGetFile()
	ctx := context.Background()

	stale, err := f.coord.StartRescan(ctx, models.ReasonStartup)
	require.NoError(t, err)
	<-entered

	// Startup requests never supersede.
	f.coord.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	joined, err := f.coord.StartRescan(ctx, models.ReasonStartup)
	require.NoError(t, err)
	assert.True(t, joined.Joined)

	fresh, err := f.coord.StartRescan(ctx, models.ReasonManual)
	require.NoError(t, err)
	assert.False(t, fresh.Joined)
	assert.NotEqual(t, stale.RunID, fresh.RunID)

	status, err := f.coord.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompletedWithWarnings, status)

	old, err := f.store.GetRun(ctx, stale.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, old.Status)
	assert.Equal(t, MessageSuperseded, old.ErrorText)

	cur, err := f.store.GetRun(ctx, fresh.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompletedWithWarnings, cur.Status)
	assert.Equal(t, int64(6), cur.Counters.Inserted)
}

func TestStartRescan_RecoversPersistedRuns(t *testing.T) {
	tests := []struct {
		name      string
		reason    models.Reason
		startedAt time.Duration
		wantError string
	}{
		{"startup fails interrupted run", models.ReasonStartup, -5 * time.Second, MessageRestart},
		{"startup fails stale run", models.ReasonStartup, -5 * time.Minute, MessageStale},
		{"manual fails running run", models.ReasonManual, -5 * time.Second, MessageSuperseded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			ctx := context.Background()
			require.NoError(t, f.store.CreateRun(ctx, "orphan", time.Now().Add(tt.startedAt)))

			run, err := f.coord.RunNow(ctx, tt.reason)
			require.NoError(t, err)
			assert.Equal(t, models.RunCompleted, run.Status)

			orphan, err := f.store.GetRun(ctx, "orphan")
			require.NoError(t, err)
			assert.Equal(t, models.RunFailed, orphan.Status)
			assert.Equal(t, tt.wantError, orphan.ErrorText)
			assert.NotNil(t, orphan.FinishedAt)
		})
	}
}

func TestClose_FailsActiveRun(t *testing.T) {
	f := newFixture(t, Config{})
	sampleExport(t, f.root)
	entered := f.blockFirstGetFile()
	ctx := context.Background()

	res, err := f.coord.StartRescan(ctx, models.ReasonManual)
	require.NoError(t, err)
	<-entered

	f.coord.Close()

	run, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, run.ErrorText, context.Canceled.Error())

	_, err = f.coord.StartRescan(ctx, models.ReasonManual)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	st, err := f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunIdle, st.Status)
	assert.Empty(t, st.RunID)
	assert.Nil(t, st.ErrorText)

	sampleExport(t, f.root)
	run, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)

	st, err = f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, st.RunID)
	assert.Equal(t, models.RunCompletedWithWarnings, st.Status)
	assert.Equal(t, int64(6), st.Inserted)
	assert.Equal(t, int64(1), st.Duplicates)
	assert.NotNil(t, st.FinishedAt)
	assert.Nil(t, st.ErrorText)
}

func TestDataQuality(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	dq, err := f.coord.DataQuality(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, dq.RunID)
	assert.Empty(t, dq.Summary)
	assert.NotNil(t, dq.Samples)

	sampleExport(t, f.root)
	run, err := f.coord.RunNow(ctx, models.ReasonManual)
	require.NoError(t, err)

	dq, err = f.coord.DataQuality(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, run.ID, dq.RunID)
	assert.Equal(t, []models.WarningCount{{WarningType: models.WarningInvalidRecord, Count: 1}}, dq.Summary)
	require.Len(t, dq.Samples, 1)
	w := dq.Samples[0]
	assert.Equal(t, stepType, w.MetricType)
	assert.Equal(t, "lots", w.RawValue)
	assert.Equal(t, "2024-01-02 08:00:00 -0800", w.StartTS)
	assert.NotEmpty(t, w.FileID)

	_, err = f.coord.DataQuality(ctx, "missing", 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProgressFlushes(t *testing.T) {
	f := newFixture(t, Config{FlushParsed: 1, FlushInterval: time.Millisecond})
	var body []string
	for i := range 50 {
		body = append(body, rec(stepType, "count", fmt.Sprintf("2024-02-01 08:%02d:00 +0000", i), "10"))
	}
	writeExport(t, f.root, "feb", body...)

	run, err := f.coord.RunNow(context.Background(), models.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, int64(50), run.Counters.Inserted)
	assert.GreaterOrEqual(t, f.store.progress.Load(), int64(2))
}

func TestFlusher_DropsWhileInFlight(t *testing.T) {
	f := newFixture(t, Config{})
	r := newRun("r1", models.ReasonManual, time.Now())
	fl := newFlusher(f.coord, r)
	fl.ctx = context.Background()

	fl.inFlight <- struct{}{}
	fl.trigger()
	fl.wg.Wait()
	assert.Zero(t, f.store.progress.Load())

	<-fl.inFlight
	fl.trigger()
	fl.wg.Wait()
	assert.Equal(t, int64(1), f.store.progress.Load())
}

func TestFlusher_Thresholds(t *testing.T) {
	f := newFixture(t, Config{FlushRecordsSeen: 10, FlushBytes: 100, FlushParsed: 5})
	r := newRun("r1", models.ReasonManual, time.Now())
	fl := newFlusher(f.coord, r)
	fl.ctx = context.Background()

	r.counters.parsed.Store(4)
	r.counters.bytesRead.Store(99)
	r.counters.recordsSeen.Store(9)
	fl.request()
	fl.wg.Wait()
	assert.Zero(t, f.store.progress.Load())

	r.counters.bytesRead.Store(100)
	fl.request()
	fl.wg.Wait()
	assert.Equal(t, int64(1), f.store.progress.Load())

	// Marks were advanced by the write.
	fl.request()
	fl.wg.Wait()
	assert.Equal(t, int64(1), f.store.progress.Load())
}

func TestRunStale(t *testing.T) {
	now := time.Now()
	r := newRun("r1", models.ReasonManual, now.Add(-2*time.Minute))
	assert.True(t, r.stale(now, time.Minute))
	assert.False(t, r.stale(now, 5*time.Minute))

	r.counters.recordsSeen.Store(100)
	r.counters.bytesRead.Store(1 << 20)
	assert.True(t, r.stale(now, time.Minute))

	r.counters.warnings.Store(1)
	assert.False(t, r.stale(now, time.Minute))
}

func TestRunNow_ConcurrentCallersShareRun(t *testing.T) {
	f := newFixture(t, Config{})
	sampleExport(t, f.root)
	entered := f.blockFirstGetFile()
	ctx := context.Background()

	res, err := f.coord.StartRescan(ctx, models.ReasonManual)
	require.NoError(t, err)
	<-entered

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.coord.StartRescan(ctx, models.ReasonManual)
			if err == nil {
				ids[i] = r.RunID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, res.RunID, id)
	}
}
