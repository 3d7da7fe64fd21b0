package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"watchdata/internal/metrics"
	"watchdata/internal/models"
	"watchdata/internal/parser"
	"watchdata/internal/tracker"
)

const bookkeepingTimeout = 10 * time.Second

type liveCounters struct {
	scannedFiles atomic.Int64
	recordsSeen  atomic.Int64
	bytesRead    atomic.Int64
	parsed       atomic.Int64
	inserted     atomic.Int64
	warnings     atomic.Int64
}

// snapshot reads the counters. Duplicates are derived so a live view never
// reports more inserts and duplicates than parsed records.
func (c *liveCounters) snapshot() models.Counters {
	parsed := c.parsed.Load()
	inserted := c.inserted.Load()
	return models.Counters{
		ScannedFiles: c.scannedFiles.Load(),
		RecordsSeen:  c.recordsSeen.Load(),
		BytesRead:    c.bytesRead.Load(),
		Parsed:       parsed,
		Inserted:     inserted,
		Duplicates:   max(0, parsed-inserted),
		Warnings:     c.warnings.Load(),
	}
}

type run struct {
	id        string
	reason    models.Reason
	startedAt time.Time
	counters  liveCounters
	cancel    context.CancelFunc

	// detached is set when the run has been superseded; its row is no longer
	// owned by it.
	detached atomic.Bool

	done   chan struct{}
	status models.RunStatus
	err    error
}

func newRun(id string, reason models.Reason, startedAt time.Time) *run {
	return &run{
		id:        id,
		reason:    reason,
		startedAt: startedAt,
		cancel:    func() {},
		done:      make(chan struct{}),
	}
}

func (r *run) stale(now time.Time, after time.Duration) bool {
	return now.Sub(r.startedAt) > after && !r.counters.snapshot().HasProgress()
}

func (r *run) wait(ctx context.Context) (models.RunStatus, error) {
	select {
	case <-r.done:
		return r.status, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) execute(ctx context.Context, r *run) {
	start := time.Now()
	log := c.log.WithFields(logrus.Fields{"run_id": r.id, "reason": r.reason})

	status, err := c.runImport(ctx, r, log)

	c.release(r)
	r.status, r.err = status, err
	close(r.done)

	metrics.ImportRuns.WithLabelValues(string(status)).Inc()
	metrics.ImportDuration.Observe(time.Since(start).Seconds())
}

func (c *Coordinator) runImport(ctx context.Context, r *run, log *logrus.Entry) (models.RunStatus, error) {
	c.event(ctx, r, models.EventImportStarted, map[string]any{"runId": r.id, "reason": string(r.reason)})

	fl := newFlusher(c, r)
	stop := fl.start(ctx)
	err := c.processFiles(ctx, r, fl, log)
	stop()
	if err != nil {
		return c.fail(ctx, r, err, log)
	}

	inserted, err := c.store.CountRunRecords(ctx, r.id)
	if err != nil {
		return c.fail(ctx, r, err, log)
	}
	r.counters.inserted.Store(inserted)

	days, err := c.store.RecomputeDaily(ctx, c.catalog)
	if err != nil {
		return c.fail(ctx, r, fmt.Errorf("aggregate: %w", err), log)
	}

	counters := r.counters.snapshot()
	status := models.RunCompleted
	if counters.Warnings > 0 {
		status = models.RunCompletedWithWarnings
	}

	if r.detached.Load() {
		log.Warn("superseded import finished, result discarded")
		return status, nil
	}
	if err := c.store.FinishRun(ctx, r.id, status, counters, ""); err != nil {
		return c.fail(ctx, r, fmt.Errorf("finish run: %w", err), log)
	}

	c.event(ctx, r, models.EventImportCompleted, map[string]any{
		"runId":      r.id,
		"status":     string(status),
		"parsed":     counters.Parsed,
		"inserted":   counters.Inserted,
		"duplicates": counters.Duplicates,
		"warnings":   counters.Warnings,
	})
	log.WithFields(logrus.Fields{
		"status":     status,
		"files":      counters.ScannedFiles,
		"parsed":     counters.Parsed,
		"inserted":   counters.Inserted,
		"duplicates": counters.Duplicates,
		"warnings":   counters.Warnings,
		"days":       days,
	}).Info("import finished")
	return status, nil
}

// fail records err on the run row. Bookkeeping uses a context detached from
// the run so a cancelled run still gets its terminal state.
func (c *Coordinator) fail(ctx context.Context, r *run, err error, log *logrus.Entry) (models.RunStatus, error) {
	if r.detached.Load() {
		log.WithError(err).Warn("superseded import stopped")
		return models.RunFailed, err
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if ferr := c.store.FinishRun(bctx, r.id, models.RunFailed, r.counters.snapshot(), err.Error()); ferr != nil {
		log.WithError(ferr).Error("failed to record import failure")
	}
	c.event(bctx, r, models.EventImportFailed, map[string]any{"runId": r.id, "error": err.Error()})
	log.WithError(err).Error("import failed")
	return models.RunFailed, err
}

func (c *Coordinator) processFiles(ctx context.Context, r *run, fl *flusher, log *logrus.Entry) error {
	paths, err := c.tracker.Candidates()
	if err != nil {
		return fmt.Errorf("list exports: %w", err)
	}
	r.counters.scannedFiles.Store(int64(len(paths)))
	fl.flushNow(ctx)

	for _, path := range paths {
		if err := c.processFile(ctx, r, fl, path, log.WithField("path", path)); err != nil {
			return err
		}
	}
	return nil
}

// processFile imports one file. Problems confined to the file become a
// file_error warning; storage and context errors abort the run.
func (c *Coordinator) processFile(ctx context.Context, r *run, fl *flusher, path string, log *logrus.Entry) error {
	info, err := tracker.Stat(path)
	if err != nil {
		return c.fileWarning(ctx, r, "", path, err, log)
	}

	f, err := c.store.GetFile(ctx, path)
	switch {
	case errors.Is(err, models.ErrNotFound):
		f = nil
	case err != nil:
		return err
	}

	needs := tracker.NeedsProcessing(f, info)
	if f == nil {
		f = &models.IngestFile{Path: path}
	}
	f.SizeBytes = info.Size
	f.Mtime = info.Mtime
	f.LastRunID = r.id
	if needs {
		f.ProcessedAt = nil
	}
	if err := c.store.SaveFile(ctx, f); err != nil {
		return err
	}

	if !needs {
		metrics.FilesSkipped.Inc()
		log.Debug("file unchanged, skipping")
		return nil
	}

	parsed, err := c.parser.Parse(ctx, path, parser.Callbacks{
		OnChunk: func(n int) {
			r.counters.bytesRead.Add(int64(n))
			metrics.BytesRead.Add(float64(n))
			fl.request()
		},
		OnSeen: func(n int) {
			r.counters.recordsSeen.Add(int64(n))
			metrics.RecordsSeen.Add(float64(n))
			fl.request()
		},
		OnRecord: func(ctx context.Context, rec *models.Record) error {
			r.counters.parsed.Add(1)
			metrics.RecordsParsed.Inc()
			inserted, err := c.store.InsertRecord(ctx, rec, f.ID, r.id)
			if err != nil {
				return err
			}
			if inserted {
				r.counters.inserted.Add(1)
				metrics.RecordsInserted.Inc()
			}
			fl.request()
			return nil
		},
		OnWarning: func(ctx context.Context, w *models.Warning) error {
			w.RunID = r.id
			w.FileID = f.ID
			if err := c.store.InsertWarning(ctx, w); err != nil {
				return err
			}
			r.counters.warnings.Add(1)
			metrics.Warnings.WithLabelValues(w.Type).Inc()
			fl.request()
			return nil
		},
	})

	var perr *parser.ParseError
	if errors.As(err, &perr) {
		return c.fileWarning(ctx, r, f.ID, path, perr, log)
	}
	if err != nil {
		return err
	}

	sum, err := tracker.Hash(path)
	if err != nil {
		return c.fileWarning(ctx, r, f.ID, path, err, log)
	}
	if err := c.store.MarkFileProcessed(ctx, f.ID, sum, r.id); err != nil {
		return err
	}
	log.WithField("parsed", parsed).Info("file imported")
	return nil
}

func (c *Coordinator) fileWarning(ctx context.Context, r *run, fileID, path string, cause error, log *logrus.Entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.WithError(cause).Warn("file skipped")

	sample := map[string]any{"path": path}
	var perr *parser.ParseError
	if errors.As(cause, &perr) && perr.Offset >= 0 {
		sample["offset"] = perr.Offset
	}
	raw, _ := json.Marshal(sample)

	w := &models.Warning{
		RunID:      r.id,
		FileID:     fileID,
		Type:       models.WarningFileError,
		Message:    fmt.Sprintf("Failed to import %s: %v", path, cause),
		SampleJSON: string(raw),
	}
	if err := c.store.InsertWarning(ctx, w); err != nil {
		return err
	}
	r.counters.warnings.Add(1)
	metrics.Warnings.WithLabelValues(w.Type).Inc()
	return nil
}

// event appends to the event log. Failures are logged, never returned.
func (c *Coordinator) event(ctx context.Context, r *run, name string, attrs map[string]any) {
	if r.detached.Load() {
		return
	}
	if err := c.store.RecordEvent(ctx, name, attrs); err != nil {
		c.log.WithError(err).WithField("event", name).Warn("failed to record event")
	}
}
