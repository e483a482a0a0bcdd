package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SyncWorker drains the sync queue on startup and then on a fixed interval.
type SyncWorker struct {
	attempts *AttemptService
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopChan chan struct{}
	done     chan struct{}
}

func NewSyncWorker(attempts *AttemptService, interval time.Duration, logger *slog.Logger) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SyncWorker{
		attempts: attempts,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *SyncWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.loop(ctx)
	w.logger.Info("sync worker started", "interval", w.interval.String())
}

// Stop halts the loop and waits for an in-progress drain. Safe to call more than once,
// and before Start.
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopChan)
	}
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

func (w *SyncWorker) loop(ctx context.Context) {
	defer close(w.done)
	w.drain(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *SyncWorker) drain(ctx context.Context) {
	report, err := w.attempts.Drain(ctx)
	if err != nil {
		w.logger.Warn("sync drain stopped", "delivered", report.Delivered, "remaining", report.Remaining, "error", err)
		return
	}
	if report.Delivered > 0 || report.Dropped > 0 {
		w.logger.Info("sync drain", "delivered", report.Delivered, "dropped", report.Dropped)
	}
}
