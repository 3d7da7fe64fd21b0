package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"watchdata/internal/catalog"
	"watchdata/internal/models"
	"watchdata/internal/parser"
	"watchdata/internal/tracker"
)

// Error texts written to failed runs.
const (
	MessageRestart    = "Import interrupted by process restart"
	MessageSuperseded = "Running import interrupted by new manual rescan"
	MessageStale      = "Running import made no progress and was recovered"
	MessageReset      = "Import reset manually"
)

// Data quality sample limits.
const (
	DefaultSampleLimit = 200
	MaxSampleLimit     = 500
)

// ErrClosed is returned when a rescan is requested after Close.
var ErrClosed = errors.New("coordinator closed")

// Config tunes run bookkeeping.
type Config struct {
	StaleAfter       time.Duration
	FlushInterval    time.Duration
	FlushRecordsSeen int64
	FlushBytes       int64
	FlushParsed      int64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		StaleAfter:       60 * time.Second,
		FlushInterval:    2 * time.Second,
		FlushRecordsSeen: 50_000,
		FlushBytes:       8_000_000,
		FlushParsed:      500,
	}
}

// Coordinator owns the import lifecycle. At most one run is active per
// coordinator; concurrent requests join it or, when it is stale and the
// request is manual, supersede it.
type Coordinator struct {
	store   Store
	parser  *parser.Parser
	tracker *tracker.Tracker
	catalog *catalog.Catalog
	cfg     Config
	log     *logrus.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active *run
	last   *run
	closed bool
}

// New creates a Coordinator. Runs are bound to the coordinator lifetime and
// cancelled by Close.
func New(store Store, p *parser.Parser, t *tracker.Tracker, cat *catalog.Catalog, cfg Config, log *logrus.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushRecordsSeen <= 0 {
		cfg.FlushRecordsSeen = def.FlushRecordsSeen
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = def.FlushBytes
	}
	if cfg.FlushParsed <= 0 {
		cfg.FlushParsed = def.FlushParsed
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:   store,
		parser:  p,
		tracker: t,
		catalog: cat,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartRescan starts a run in the background, or reports the active one.
func (c *Coordinator) StartRescan(ctx context.Context, reason models.Reason) (models.StartResult, error) {
	res, _, err := c.start(ctx, reason)
	return res, err
}

// RunNow starts (or joins) a run and waits for it to finish.
func (c *Coordinator) RunNow(ctx context.Context, reason models.Reason) (*models.Run, error) {
	_, r, err := c.start(ctx, reason)
	if err != nil {
		return nil, err
	}
	_, runErr := r.wait(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	row, err := c.store.GetRun(ctx, r.id)
	if err != nil {
		return nil, err
	}
	return row, runErr
}

// Wait blocks until the active run, or the most recent one, has finished.
func (c *Coordinator) Wait(ctx context.Context) (models.RunStatus, error) {
	c.mu.Lock()
	r := c.active
	if r == nil {
		r = c.last
	}
	c.mu.Unlock()

	if r == nil {
		return models.RunIdle, nil
	}
	return r.wait(ctx)
}

// Close cancels any active run and waits for it to stop.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) start(ctx context.Context, reason models.Reason) (models.StartResult, *run, error) {
	if !reason.Valid() {
		return models.StartResult{}, nil, fmt.Errorf("%w: unknown rescan reason %q", models.ErrInvalidInput, reason)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return models.StartResult{}, nil, ErrClosed
	}

	if r := c.active; r != nil {
		if reason != models.ReasonManual || !r.stale(c.now(), c.cfg.StaleAfter) {
			return models.StartResult{RunID: r.id, Status: models.RunRunning, Joined: true}, r, nil
		}
		c.supersede(ctx, r)
	}

	if err := c.recoverRunning(ctx, reason); err != nil {
		return models.StartResult{}, nil, err
	}

	r := newRun(uuid.New().String(), reason, c.now().UTC())
	if err := c.store.CreateRun(ctx, r.id, r.startedAt); err != nil {
		return models.StartResult{}, nil, fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	r.cancel = cancel
	c.active = r

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.execute(runCtx, r)
	}()

	c.log.WithFields(logrus.Fields{"run_id": r.id, "reason": reason}).Info("import started")
	return models.StartResult{RunID: r.id, Status: models.RunRunning}, r, nil
}

// supersede detaches a stale active run: its row is failed now and any later
// bookkeeping it attempts is dropped. Caller holds c.mu.
func (c *Coordinator) supersede(ctx context.Context, r *run) {
	r.detached.Store(true)
	r.cancel()
	c.active = nil

	log := c.log.WithField("run_id", r.id)
	if err := c.store.FailRun(ctx, r.id, MessageSuperseded); err != nil {
		log.WithError(err).Error("failed to mark superseded run")
		return
	}
	log.Warn("stale import superseded by manual rescan")
}

// recoverRunning fails persisted runs that no live run owns. The database is
// held by this process alone, so a live run is always c.active and joining it
// happens before this point. A fresh row reached on startup falls through to
// the restart sweep below.
func (c *Coordinator) recoverRunning(ctx context.Context, reason models.Reason) error {
	existing, err := c.store.LatestRunningRun(ctx)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load running run: %w", err)
	case reason == models.ReasonManual:
		if err := c.store.FailRun(ctx, existing.ID, MessageSuperseded); err != nil {
			return fmt.Errorf("fail running run: %w", err)
		}
		c.log.WithField("run_id", existing.ID).Warn("running import interrupted by manual rescan")
	case existing.IsStale(c.now(), c.cfg.StaleAfter):
		if err := c.store.FailRun(ctx, existing.ID, MessageStale); err != nil {
			return fmt.Errorf("fail stale run: %w", err)
		}
		c.log.WithField("run_id", existing.ID).Warn("stale import recovered")
	}

	if reason == models.ReasonStartup {
		n, err := c.store.FailRunningRuns(ctx, MessageRestart)
		if err != nil {
			return fmt.Errorf("fail interrupted runs: %w", err)
		}
		if n > 0 {
			c.log.WithField("runs", n).Warn("imports interrupted by restart marked failed")
		}
	}
	return nil
}

func (c *Coordinator) release(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == r {
		c.active = nil
	}
	if !r.detached.Load() {
		c.last = r
	}
}

// Status returns live counters while a run is active, else the latest
// persisted run, else idle.
func (c *Coordinator) Status(ctx context.Context) (models.ImportStatus, error) {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()

	if r != nil {
		row := models.Run{
			ID:        r.id,
			StartedAt: r.startedAt,
			Status:    models.RunRunning,
			Counters:  r.counters.snapshot(),
		}
		return models.NewImportStatus(&row), nil
	}

	row, err := c.store.LatestRun(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return models.IdleStatus(), nil
	}
	if err != nil {
		return models.ImportStatus{}, err
	}
	return models.NewImportStatus(row), nil
}

// DataQuality reports warnings of runID, or of the latest run when empty.
func (c *Coordinator) DataQuality(ctx context.Context, runID string, limit int) (*models.DataQuality, error) {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	limit = min(limit, MaxSampleLimit)

	if runID == "" {
		latest, err := c.store.LatestRun(ctx)
		if errors.Is(err, models.ErrNotFound) {
			return &models.DataQuality{Summary: []models.WarningCount{}, Samples: []models.Warning{}}, nil
		}
		if err != nil {
			return nil, err
		}
		runID = latest.ID
	} else if _, err := c.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	summary, err := c.store.WarningSummary(ctx, runID)
	if err != nil {
		return nil, err
	}
	samples, err := c.store.WarningSamples(ctx, runID, limit)
	if err != nil {
		return nil, err
	}
	return &models.DataQuality{RunID: runID, Summary: summary, Samples: samples}, nil
}
