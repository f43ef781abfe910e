// Package worker runs the engine's periodic background jobs.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// loop runs tick on a fixed interval until stopped
type loop struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

func newLoop(name string, interval time.Duration, tick func(ctx context.Context), logger *slog.Logger) *loop {
	return &loop{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background loop
func (l *loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	l.logger.Info("worker started", "worker", l.name, "interval", l.interval)

	go l.run(ctx)
	return nil
}

// Stop stops the loop and waits for the current tick to finish
func (l *loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	close(l.stopCh)
	<-l.doneCh

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	l.logger.Info("worker stopped", "worker", l.name)
	return nil
}

// IsRunning returns whether the worker is currently running
func (l *loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// run is the main worker loop
func (l *loop) run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}
