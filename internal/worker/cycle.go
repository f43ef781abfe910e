package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/tracker"
)

// Cycler refreshes and finalizes a bounded batch of tracked items
type Cycler interface {
	Cycle(ctx context.Context, maxBatch int) []tracker.ItemResult
}

// Flusher expires stale leaderboard entries
type Flusher interface {
	FlushExpired(ctx context.Context) error
}

// CycleWorker drives the tracker. Each tick flushes expired leaderboard
// entries first, then runs one tracker cycle.
type CycleWorker struct {
	*loop
	tracker Cycler
	board   Flusher
	config  *config.TrackerConfig
	logger  *slog.Logger
}

// NewCycleWorker creates a new cycle worker
func NewCycleWorker(
	tracker Cycler,
	board Flusher,
	cfg *config.TrackerConfig,
	logger *slog.Logger,
) *CycleWorker {
	w := &CycleWorker{
		tracker: tracker,
		board:   board,
		config:  cfg,
		logger:  logger,
	}
	w.loop = newLoop("cycle", cfg.CycleInterval, func(ctx context.Context) { w.RunOnce(ctx) }, logger)
	return w
}

// RunOnce runs a single flush and cycle and returns the outcome counts
func (w *CycleWorker) RunOnce(ctx context.Context) map[tracker.Outcome]int {
	if w.board != nil {
		if err := w.board.FlushExpired(ctx); err != nil {
			w.logger.Error("failed to flush expired leaderboard entries", "error", err)
		}
	}

	startTime := time.Now()
	results := w.tracker.Cycle(ctx, w.config.MaxBatch)
	counts := tracker.Summarize(results)

	for _, r := range results {
		if r.Outcome == tracker.OutcomeRetry {
			w.logger.Debug("item will be retried", "item_id", r.ItemID, "error", r.Err)
		}
	}

	if counts[tracker.OutcomeFinalized]+counts[tracker.OutcomeRetry]+counts[tracker.OutcomeDropped] > 0 {
		w.logger.Info("cycle completed",
			"duration", time.Since(startTime),
			"items", len(results),
			"refreshed", counts[tracker.OutcomeRefreshed],
			"finalized", counts[tracker.OutcomeFinalized],
			"retry", counts[tracker.OutcomeRetry],
			"dropped", counts[tracker.OutcomeDropped],
		)
	}
	return counts
}
