package ingest

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/archive"
	"github.com/beyondk-network/gmvtracker/internal/metrics"
	"github.com/beyondk-network/gmvtracker/internal/normalize"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// Options tune the collection loop.
type Options struct {
	// CycleInterval is the pause between successful cycles.
	CycleInterval time.Duration
	// ArchiveInterval is the target cadence between history snapshots.
	ArchiveInterval time.Duration
	// FailureBackoff is the fixed pause after a failed cycle.
	FailureBackoff time.Duration
	// Columns maps producer cells to metric fields.
	Columns normalize.ColumnMap
}

func (o *Options) defaults() {
	if o.CycleInterval <= 0 {
		o.CycleInterval = 5 * time.Minute
	}
	if o.ArchiveInterval <= 0 {
		o.ArchiveInterval = time.Hour
	}
	if o.FailureBackoff <= 0 {
		o.FailureBackoff = 30 * time.Second
	}
	if o.Columns.ItemID == 0 && o.Columns.Revenue == 0 {
		o.Columns = normalize.DefaultColumns()
	}
}

// Collector repeatedly pulls a batch, replaces the session's live rows
// and archives on cadence. A failed cycle backs off for a fixed interval
// and never advances the archive clock.
type Collector struct {
	store    *sqlite.Client
	archiver *archive.Engine
	producer Producer
	opts     Options

	stopped atomic.Bool
}

func NewCollector(store *sqlite.Client, archiver *archive.Engine, producer Producer, opts Options) *Collector {
	opts.defaults()
	return &Collector{
		store:    store,
		archiver: archiver,
		producer: producer,
		opts:     opts,
	}
}

// Stop asks the loop to exit. The loop notices within a second even
// mid-pause.
func (c *Collector) Stop() {
	c.stopped.Store(true)
}

// Run drives the loop until Stop is called or ctx ends.
func (c *Collector) Run(ctx context.Context) {
	logger.Info("Collector started",
		zap.Duration("cycle_interval", c.opts.CycleInterval),
		zap.Duration("archive_interval", c.opts.ArchiveInterval),
	)

	nextArchive := time.Now().Add(c.opts.ArchiveInterval)

	for {
		if c.shouldStop(ctx) {
			logger.Info("Collector stopped")
			return
		}

		pause := c.opts.CycleInterval
		sessionID, err := c.cycle(ctx)
		if err != nil {
			logger.Error("Ingest cycle failed", zap.Error(err))
			metrics.IngestBatches.WithLabelValues("error").Inc()
			pause = c.opts.FailureBackoff
		} else {
			metrics.IngestBatches.WithLabelValues("success").Inc()

			if !time.Now().Before(nextArchive) {
				// Skipped counts as done: the cooldown already covered
				// this slot, so the cadence advances either way.
				if _, err := c.archiver.Snapshot(ctx, sessionID); err != nil {
					logger.Error("Archive failed", zap.Error(err))
				} else {
					nextArchive = time.Now().Add(c.opts.ArchiveInterval)
				}
			}
		}

		if !c.sleep(ctx, pause) {
			logger.Info("Collector stopped")
			return
		}
	}
}

func (c *Collector) cycle(ctx context.Context) (string, error) {
	cycleID := uuid.New().String()
	start := time.Now()

	batch, err := c.producer.Produce(ctx)
	if err != nil {
		return "", err
	}

	rows := c.opts.Columns.Batch(batch.Rows)
	written, err := c.store.WriteBatch(ctx, batch.SessionID, batch.SessionTitle, rows)
	if err != nil {
		return "", err
	}
	metrics.RowsWritten.Add(float64(written))

	if batch.Overview != nil {
		if data, err := json.Marshal(batch.Overview); err == nil {
			if err := c.store.SetConfig(ctx, "session_overview", string(data)); err != nil {
				logger.Warn("Failed to store session overview", zap.Error(err))
			}
		}
	}

	elapsed := time.Since(start)
	metrics.IngestCycleDuration.Observe(elapsed.Seconds())
	logger.Info("Ingest cycle complete",
		zap.String("cycle_id", cycleID),
		zap.String("session_id", batch.SessionID),
		zap.Int("rows_received", len(batch.Rows)),
		zap.Int("rows_written", written),
		zap.Duration("elapsed", elapsed),
	)
	return batch.SessionID, nil
}

func (c *Collector) shouldStop(ctx context.Context) bool {
	return c.stopped.Load() || ctx.Err() != nil
}

// sleep pauses for d while polling the stop flag once a second. Returns
// false when the loop should exit.
func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if c.shouldStop(ctx) {
			return false
		}

		step := time.Second
		if remaining := time.Until(deadline); remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
		}
	}
	return !c.shouldStop(ctx)
}
