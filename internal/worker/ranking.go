package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/ledger"
)

// RankingStore lists user ledgers and stores their ranks
type RankingStore interface {
	ListUsers(ctx context.Context) ([]domain.LedgerEntry, error)
	SaveRankings(ctx context.Context, rankings []domain.UserRanking) error
}

// RankingWorker periodically recomputes every user's rank
type RankingWorker struct {
	*loop
	store  RankingStore
	logger *slog.Logger
}

// NewRankingWorker creates a new ranking worker
func NewRankingWorker(store RankingStore, cfg *config.RankingConfig, logger *slog.Logger) *RankingWorker {
	w := &RankingWorker{
		store:  store,
		logger: logger,
	}
	w.loop = newLoop("ranking", cfg.Interval, func(ctx context.Context) {
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("ranking update failed", "error", err)
		}
	}, logger)
	return w
}

// RunOnce ranks all users by total, submission and distribution score
func (w *RankingWorker) RunOnce(ctx context.Context) error {
	startTime := time.Now()

	entries, err := w.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	rankings := ledger.Rank(entries)
	if err := w.store.SaveRankings(ctx, rankings); err != nil {
		return fmt.Errorf("saving rankings: %w", err)
	}

	w.logger.Info("rankings updated",
		"duration", time.Since(startTime),
		"users", len(rankings),
	)
	return nil
}
