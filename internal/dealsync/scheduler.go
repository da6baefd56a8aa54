package dealsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// AutoSyncer re-runs deal-list syncs on a fixed interval while enabled.
// Enable and disable are idempotent; state is also persisted to config so
// a restart resumes the previous setting.
type AutoSyncer struct {
	syncer   *Syncer
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr error
}

func NewAutoSyncer(syncer *Syncer, interval time.Duration) *AutoSyncer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &AutoSyncer{syncer: syncer, interval: interval}
}

func (a *AutoSyncer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.loop(ctx, a.done)
	logger.Info("Auto-sync started", zap.Duration("interval", a.interval))
}

func (a *AutoSyncer) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("Auto-sync stopped")
}

// Running reports whether the loop is active.
func (a *AutoSyncer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

// Status returns the loop state for the diagnostics endpoint.
func (a *AutoSyncer) Status() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	status := map[string]any{
		"enabled":          a.cancel != nil,
		"interval_seconds": a.interval.Seconds(),
	}
	if !a.lastRun.IsZero() {
		status["last_run"] = a.lastRun.Format(time.RFC3339)
	}
	if a.lastErr != nil {
		status["last_error"] = a.lastErr.Error()
	}
	return status
}

func (a *AutoSyncer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *AutoSyncer) runOnce(ctx context.Context) {
	var firstErr error
	for _, instance := range []int{1, 2} {
		_, err := a.syncer.Sync(ctx, instance)
		if err != nil && !errors.Is(err, ErrNotConfigured) {
			logger.Warn("Auto-sync failed",
				zap.Int("instance", instance),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	a.mu.Lock()
	a.lastRun = time.Now()
	a.lastErr = firstErr
	a.mu.Unlock()
}
