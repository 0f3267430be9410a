package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/match-engine/internal/config"
)

// RatingApplier re-drives rating applications left pending after completion
type RatingApplier interface {
	ReapplyPendingRatings(ctx context.Context, limit int) (int, error)
}

// RatingWorker periodically applies ratings of completed matches whose
// application failed or never ran
type RatingWorker struct {
	applier RatingApplier
	config  *config.WorkerConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewRatingWorker creates a new rating worker
func NewRatingWorker(applier RatingApplier, cfg *config.WorkerConfig, logger *slog.Logger) *RatingWorker {
	return &RatingWorker{
		applier: applier,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background loop. A first pass runs immediately so
// applications left over from a previous process are picked up on boot.
func (w *RatingWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("rating worker started", "interval", w.config.Interval, "batch_size", w.config.BatchSize)

	go w.run(ctx)
	return nil
}

// Stop stops the background loop
func (w *RatingWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("rating worker stopped")
	return nil
}

func (w *RatingWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single pass and returns the number of applied matches
func (w *RatingWorker) RunOnce(ctx context.Context) int {
	startTime := time.Now()

	applied, err := w.applier.ReapplyPendingRatings(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("rating pass failed", "error", err, "applied", applied)
		return applied
	}

	if applied > 0 {
		w.logger.Info("rating pass completed", "duration", time.Since(startTime), "applied", applied)
	} else {
		w.logger.Debug("rating pass completed", "duration", time.Since(startTime))
	}
	return applied
}

// IsRunning returns whether the worker is currently running
func (w *RatingWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
