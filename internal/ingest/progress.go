package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"watchdata/internal/metrics"
)

// flusher persists live counters of a run. Writes happen on a timer and when
// enough work accumulated since the last write; at most one write is in
// flight and requests arriving meanwhile are dropped.
type flusher struct {
	c *Coordinator
	r *run

	ctx      context.Context
	inFlight chan struct{}
	wg       sync.WaitGroup

	lastSeen   atomic.Int64
	lastBytes  atomic.Int64
	lastParsed atomic.Int64
}

func newFlusher(c *Coordinator, r *run) *flusher {
	return &flusher{c: c, r: r, inFlight: make(chan struct{}, 1)}
}

// start runs the periodic flush until the returned stop func is called.
// stop waits for an in-flight write.
func (f *flusher) start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	f.ctx = ctx

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.c.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.trigger()
			}
		}
	}()

	return func() {
		cancel()
		f.wg.Wait()
	}
}

// request flushes when a threshold has been crossed.
func (f *flusher) request() {
	cnt := &f.r.counters
	cfg := f.c.cfg
	if cnt.recordsSeen.Load()-f.lastSeen.Load() < cfg.FlushRecordsSeen &&
		cnt.bytesRead.Load()-f.lastBytes.Load() < cfg.FlushBytes &&
		cnt.parsed.Load()-f.lastParsed.Load() < cfg.FlushParsed {
		return
	}
	f.trigger()
}

func (f *flusher) trigger() {
	select {
	case f.inFlight <- struct{}{}:
	default:
		metrics.ProgressFlushes.WithLabelValues("skipped").Inc()
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() { <-f.inFlight }()
		f.write(f.ctx)
	}()
}

// flushNow writes synchronously, waiting for any in-flight write first.
func (f *flusher) flushNow(ctx context.Context) {
	select {
	case f.inFlight <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-f.inFlight }()
	f.write(ctx)
}

func (f *flusher) write(ctx context.Context) {
	snap := f.r.counters.snapshot()
	defer func() {
		f.lastSeen.Store(snap.RecordsSeen)
		f.lastBytes.Store(snap.BytesRead)
		f.lastParsed.Store(snap.Parsed)
	}()

	if f.r.detached.Load() {
		return
	}
	if err := f.c.store.UpdateRunProgress(ctx, f.r.id, snap); err != nil {
		metrics.ProgressFlushes.WithLabelValues("failed").Inc()
		f.c.log.WithError(err).WithField("run_id", f.r.id).Warn("progress flush failed")
		return
	}
	metrics.ProgressFlushes.WithLabelValues("ok").Inc()
}
