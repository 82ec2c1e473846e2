package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor runs the retention sweep on a fixed interval
// PRINCIPLES:
// - SRP: Scheduling only; sweep eligibility lives in CheckpointService
// - KISS: A plain ticker loop instead of a scheduler dependency
type Janitor struct {
	service  *CheckpointService
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor sweeping every interval. A non-positive
// interval falls back to 15 minutes.
func NewJanitor(service *CheckpointService, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop in the background. Starting a running
// janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	done := make(chan struct{})
	j.done = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
// Stopping an idle janitor is a no-op.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (j *Janitor) sweep(ctx context.Context) {
	deleted, err := j.service.CleanupExpiredCheckpoints(ctx, "")
	if err != nil {
		j.logger.WarnContext(ctx, "retention sweep failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		j.logger.InfoContext(ctx, "retention sweep finished", slog.Int("deleted", deleted))
	}
}
