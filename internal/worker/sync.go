package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/celo-runner/internal/config"
)

// Source refreshes chain-derived views
type Source interface {
	LoadPlayerData(ctx context.Context) error
	RefreshLeaderboards(ctx context.Context) error
	RefreshStats(ctx context.Context) error
}

// SyncWorker periodically re-reads the connected player, the leaderboards
// and the global counters from the chain
type SyncWorker struct {
	source  Source
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(source Source, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		source: source,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
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

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll runs every refresh task, continuing past failures
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Debug("starting sync cycle")
	startTime := time.Now()

	tasks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"player", w.source.LoadPlayerData},
		{"leaderboards", w.source.RefreshLeaderboards},
		{"stats", w.source.RefreshStats},
	}

	syncedCount := 0
	errorCount := 0
	for _, task := range tasks {
		if err := task.run(ctx); err != nil {
			w.logger.Warn("sync task failed", "task", task.name, "error", err)
			errorCount++
		} else {
			syncedCount++
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
