package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/metrics"
)

// RecoveryReport summarizes a recovery pass
type RecoveryReport struct {
	Scanned  int
	Restored int
	Orphans  int
	Skipped  int
}

// RecoveryLoader rebuilds the tracker's queue from the tracking table
type RecoveryLoader struct {
	store   Store
	tracker *Tracker
	logger  *slog.Logger
}

// NewRecoveryLoader creates a loader that restores into tracker
func NewRecoveryLoader(store Store, tracker *Tracker, logger *slog.Logger) *RecoveryLoader {
	return &RecoveryLoader{
		store:   store,
		tracker: tracker,
		logger:  logger,
	}
}

// Load scans every tracking record and re-tracks it without persisting.
// Records missing a mandatory field are orphans of a racing finalize and
// are deleted. A failure on one record never aborts the scan.
func (l *RecoveryLoader) Load(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	records, err := l.store.ScanTracking(ctx)
	if err != nil {
		return report, fmt.Errorf("scanning tracking table: %w", err)
	}
	report.Scanned = len(records)

	for _, rec := range records {
		item, err := rec.ToItem()
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTrackingRecord) {
				l.removeOrphan(ctx, rec, err)
				report.Orphans++
				continue
			}
			l.logger.Error("failed to rebuild tracked item", "item_id", rec.ItemID, "error", err)
			metrics.RecoveredItems.WithLabelValues("skipped").Inc()
			report.Skipped++
			continue
		}

		if err := l.tracker.Track(ctx, item, false); err != nil {
			l.logger.Error("failed to restore tracked item", "item_id", item.ID, "error", err)
			metrics.RecoveredItems.WithLabelValues("skipped").Inc()
			report.Skipped++
			continue
		}
		metrics.RecoveredItems.WithLabelValues("restored").Inc()
		metrics.ItemsTracked.WithLabelValues(string(item.Kind), "recovery").Inc()
		report.Restored++
	}

	l.logger.Info("recovered tracking state",
		"scanned", report.Scanned,
		"restored", report.Restored,
		"orphans", report.Orphans,
		"skipped", report.Skipped,
		"queue_size", l.tracker.Len(),
	)
	return report, nil
}

func (l *RecoveryLoader) removeOrphan(ctx context.Context, rec domain.TrackingRecord, reason error) {
	if err := l.store.DeleteTracking(ctx, rec.ItemID); err != nil {
		l.logger.Error("failed to delete orphan tracking record", "item_id", rec.ItemID, "error", err)
		metrics.RecoveredItems.WithLabelValues("orphan_kept").Inc()
		return
	}
	l.logger.Warn("removed orphan tracking record", "item_id", rec.ItemID, "reason", reason)
	metrics.RecoveredItems.WithLabelValues("orphan").Inc()
}
