// Package tracker keeps the working set of tracked items, refreshes their
// scores in bounded round-robin batches and finalizes each item exactly once
// when its deadline passes.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/ledger"
	"github.com/template-scoreboard/internal/metrics"
)

// ScoreSource returns the current score of an item
type ScoreSource interface {
	GetScore(ctx context.Context, itemID string) (int64, error)
}

// Store persists tracking records and applies ledger credits
type Store interface {
	PutTracking(ctx context.Context, rec domain.TrackingRecord) error
	UpdateTrackingScore(ctx context.Context, itemID string, score int64, at time.Time) error
	ScanTracking(ctx context.Context) ([]domain.TrackingRecord, error)
	// DeleteTracking removes a record; a missing record is not an error.
	DeleteTracking(ctx context.Context, itemID string) error
	// CommitFinalization marks the record finalized with its final score and
	// applies payouts in one atomic step. It returns false, without crediting
	// anything, when the record is already finalized or no longer exists.
	CommitFinalization(ctx context.Context, itemID string, finalScore int64, payouts []domain.Payout) (bool, error)
}

// FinalizeHandler is invoked once per finalized item before its record is
// deleted. It must be idempotent: a failure anywhere later in finalization
// causes it to run again on the next cycle.
type FinalizeHandler interface {
	OnFinalized(ctx context.Context, item domain.FinalizedItem) error
}

// Notifier receives finalized items on a best-effort basis
type Notifier interface {
	Notify(ctx context.Context, item domain.FinalizedItem) error
}

// LiveScores mirrors in-flight scores for outward readers
type LiveScores interface {
	SetLiveScore(ctx context.Context, itemID string, score int64) error
	RemoveLiveScore(ctx context.Context, itemID string) error
}

// Outcome is the per-item result of a cycle
type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeFinalized Outcome = "finalized"
	OutcomeRetry     Outcome = "retry"
	OutcomeDropped   Outcome = "dropped"
)

// ItemResult reports what a cycle did with one item
type ItemResult struct {
	ItemID  string
	Outcome Outcome
	Err     error
}

// Tracker owns the expiry queue. Track, Cycle, Finalize and Cancel are
// serialized by one mutex, so finalization of an item never interleaves with
// another operation on it.
type Tracker struct {
	mu        sync.Mutex
	queue     *ExpiryQueue
	source    ScoreSource
	store     Store
	handler   FinalizeHandler
	notifiers []Notifier
	live      LiveScores
	config    *config.TrackerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a tracker with an empty queue
func New(
	source ScoreSource,
	store Store,
	handler FinalizeHandler,
	cfg *config.TrackerConfig,
	logger *slog.Logger,
) *Tracker {
	return &Tracker{
		queue:   NewExpiryQueue(),
		source:  source,
		store:   store,
		handler: handler,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetNotifiers sets the best-effort receivers of finalized items
func (t *Tracker) SetNotifiers(notifiers ...Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifiers = notifiers
}

// SetLiveScores sets the live score mirror
func (t *Tracker) SetLiveScores(live LiveScores) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = live
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// CommissionRate returns the configured creator commission
func (t *Tracker) CommissionRate() float64 {
	return t.config.CommissionRate
}

// TrackDuration returns how long each item is tracked
func (t *Tracker) TrackDuration() time.Duration {
	return t.config.TrackDuration
}

// Len returns the number of tracked items
func (t *Tracker) Len() int {
	return t.queue.Len()
}

// Get returns a copy of a tracked item
func (t *Tracker) Get(itemID string) (domain.TrackedItem, bool) {
	return t.queue.Get(itemID)
}

// Snapshot returns copies of all tracked items in visiting order
func (t *Tracker) Snapshot() []domain.TrackedItem {
	return t.queue.Snapshot()
}

// Track registers a new item. With persist the tracking record is written
// before the item is enqueued. Without persist (recovery) tracking an id that
// is already queued is a no-op.
func (t *Tracker) Track(ctx context.Context, item domain.TrackedItem, persist bool) error {
	if err := item.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.queue.Contains(item.ID) {
		if !persist {
			return nil
		}
		return fmt.Errorf("tracking %s: %w", item.ID, domain.ErrAlreadyTracked)
	}

	if persist {
		callCtx, cancel := t.callContext(ctx)
		err := t.store.PutTracking(callCtx, domain.NewTrackingRecord(item))
		cancel()
		if err != nil {
			return fmt.Errorf("persisting tracking record: %w", err)
		}
	}

	if err := t.queue.Enqueue(item); err != nil {
		return fmt.Errorf("tracking %s: %w", item.ID, err)
	}
	metrics.QueueSize.Set(float64(t.queue.Len()))

	t.logger.Debug("tracking item",
		"item_id", item.ID,
		"kind", item.Kind,
		"owner_user_id", item.OwnerUserID,
		"deadline", item.Deadline,
		"persisted", persist,
	)
	return nil
}

// Cancel stops tracking an item without crediting anyone
func (t *Tracker) Cancel(ctx context.Context, itemID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.queue.Get(itemID)
	if !ok {
		return domain.ErrItemNotTracked
	}
	if item.Finalized {
		return fmt.Errorf("cancelling %s: credit already committed", itemID)
	}

	callCtx, cancel := t.callContext(ctx)
	defer cancel()
	if err := t.store.DeleteTracking(callCtx, itemID); err != nil {
		return fmt.Errorf("deleting tracking record: %w", err)
	}
	t.forget(callCtx, itemID)

	t.logger.Info("cancelled tracking", "item_id", itemID)
	return nil
}

// Cycle refreshes up to maxBatch items in round-robin order and finalizes
// those whose deadline has passed.
func (t *Tracker) Cycle(ctx context.Context, maxBatch int) []ItemResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	batch := t.queue.NextBatch(maxBatch)
	results := make([]ItemResult, 0, len(batch))

	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}
		result := t.process(ctx, item)
		metrics.ItemResults.WithLabelValues(string(result.Outcome)).Inc()
		results = append(results, result)
	}

	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	metrics.QueueSize.Set(float64(t.queue.Len()))
	return results
}

// Finalize runs finalization for a queued item regardless of its deadline.
// It is safe to call repeatedly; credits are applied at most once.
func (t *Tracker) Finalize(ctx context.Context, itemID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.queue.Get(itemID)
	if !ok {
		t.logger.Error("finalize requested for untracked item", "item_id", itemID)
		return domain.ErrItemNotTracked
	}

	result := t.finalize(ctx, item)
	if result.Outcome != OutcomeFinalized {
		return result.Err
	}
	return nil
}

// process refreshes one item and finalizes it when due
func (t *Tracker) process(ctx context.Context, item domain.TrackedItem) ItemResult {
	if item.Finalized {
		// Credit already committed; only the remaining steps are left.
		return t.finalize(ctx, item)
	}

	now := t.now()
	score, err := t.fetchScore(ctx, item.ID)
	if err != nil {
		if errors.Is(err, domain.ErrContentDeleted) {
			return t.drop(ctx, item, err)
		}
		if !item.Expired(now) || now.Before(item.Deadline.Add(t.config.FinalizeGrace)) {
			t.logger.Warn("score refresh failed, will retry",
				"item_id", item.ID,
				"error", err,
			)
			return ItemResult{ItemID: item.ID, Outcome: OutcomeRetry, Err: err}
		}
		t.logger.Warn("score source unavailable past grace period, finalizing with last known score",
			"item_id", item.ID,
			"score", item.Score,
			"error", err,
		)
		return t.finalize(ctx, item)
	}

	item.Score = score
	item.LastUpdate = now
	t.queue.Update(item.ID, func(queued *domain.TrackedItem) {
		queued.Score = score
		queued.LastUpdate = now
	})

	if item.Expired(now) {
		return t.finalize(ctx, item)
	}

	callCtx, cancel := t.callContext(ctx)
	defer cancel()
	if err := t.store.UpdateTrackingScore(callCtx, item.ID, score, now); err != nil {
		t.logger.Warn("failed to persist refreshed score", "item_id", item.ID, "error", err)
	}
	if t.live != nil {
		if err := t.live.SetLiveScore(callCtx, item.ID, score); err != nil {
			t.logger.Debug("failed to mirror live score", "item_id", item.ID, "error", err)
		}
	}
	return ItemResult{ItemID: item.ID, Outcome: OutcomeRefreshed}
}

// finalize runs the ordered finalization steps. Each step that fails leaves
// the item queued so the next cycle resumes from the first incomplete step.
func (t *Tracker) finalize(ctx context.Context, item domain.TrackedItem) ItemResult {
	// 1. compute payouts
	payouts, err := ledger.Payouts(item, item.Score, t.config.CommissionRate)
	if err != nil {
		t.logger.Error("cannot compute payouts, dropping item",
			"item_id", item.ID,
			"kind", item.Kind,
			"owner_user_id", item.OwnerUserID,
			"creator_user_id", item.CreatorUserID,
			"error", err,
		)
		return t.drop(ctx, item, err)
	}

	// 2. commit the credit together with the finalized flag
	if !item.Finalized {
		callCtx, cancel := t.callContext(ctx)
		applied, err := t.store.CommitFinalization(callCtx, item.ID, item.Score, payouts)
		cancel()
		if err != nil {
			metrics.FinalizeErrors.WithLabelValues("credit").Inc()
			t.logger.Error("failed to commit finalization", "item_id", item.ID, "error", err)
			return ItemResult{ItemID: item.ID, Outcome: OutcomeRetry, Err: err}
		}
		if applied {
			for _, p := range payouts {
				metrics.PointsCredited.WithLabelValues(string(p.Field)).Add(float64(p.Amount))
			}
		} else {
			t.logger.Warn("finalization already committed, skipping credit", "item_id", item.ID)
		}
		item.Finalized = true
		t.queue.Update(item.ID, func(queued *domain.TrackedItem) {
			queued.Finalized = true
			queued.Score = item.Score
		})
	}

	finalized := domain.FinalizedItem{
		ItemID:         item.ID,
		Kind:           item.Kind,
		OwnerUserID:    item.OwnerUserID,
		CreatorUserID:  item.CreatorUserID,
		Username:       item.Username,
		Title:          item.Title,
		Permalink:      item.Permalink,
		FinalScore:     item.Score,
		Payouts:        payouts,
		NotifyTargetID: item.NotifyTargetID,
		ScoringTime:    item.Deadline,
	}

	callCtx, cancel := t.callContext(ctx)
	defer cancel()

	// 3. finalization callback
	if t.handler != nil {
		if err := t.handler.OnFinalized(callCtx, finalized); err != nil {
			metrics.FinalizeErrors.WithLabelValues("callback").Inc()
			t.logger.Error("finalization callback failed", "item_id", item.ID, "error", err)
			return ItemResult{ItemID: item.ID, Outcome: OutcomeRetry, Err: err}
		}
	}

	// 4. delete the tracking record
	if err := t.store.DeleteTracking(callCtx, item.ID); err != nil {
		metrics.FinalizeErrors.WithLabelValues("delete").Inc()
		t.logger.Error("failed to delete tracking record", "item_id", item.ID, "error", err)
		return ItemResult{ItemID: item.ID, Outcome: OutcomeRetry, Err: err}
	}

	// 5. remove from memory
	t.forget(callCtx, item.ID)
	metrics.Finalized.WithLabelValues(string(item.Kind)).Inc()

	t.logger.Info("item finalized",
		"item_id", item.ID,
		"kind", item.Kind,
		"final_score", item.Score,
		"owner_user_id", item.OwnerUserID,
		"creator_user_id", item.CreatorUserID,
	)

	// 6. best-effort notifications
	for _, n := range t.notifiers {
		if err := n.Notify(callCtx, finalized); err != nil {
			t.logger.Warn("finalization notification failed", "item_id", item.ID, "error", err)
		}
	}

	return ItemResult{ItemID: item.ID, Outcome: OutcomeFinalized}
}

// drop removes an item that can never be finalized
func (t *Tracker) drop(ctx context.Context, item domain.TrackedItem, reason error) ItemResult {
	callCtx, cancel := t.callContext(ctx)
	defer cancel()

	if err := t.store.DeleteTracking(callCtx, item.ID); err != nil {
		t.logger.Error("failed to delete dropped item", "item_id", item.ID, "error", err)
		return ItemResult{ItemID: item.ID, Outcome: OutcomeRetry, Err: err}
	}
	t.forget(callCtx, item.ID)

	t.logger.Warn("dropped tracked item", "item_id", item.ID, "reason", reason)
	return ItemResult{ItemID: item.ID, Outcome: OutcomeDropped, Err: reason}
}

// forget removes an item from memory and from the live mirror
func (t *Tracker) forget(ctx context.Context, itemID string) {
	t.queue.Remove(itemID)
	metrics.QueueSize.Set(float64(t.queue.Len()))
	if t.live != nil {
		if err := t.live.RemoveLiveScore(ctx, itemID); err != nil {
			t.logger.Debug("failed to remove live score", "item_id", itemID, "error", err)
		}
	}
}

func (t *Tracker) fetchScore(ctx context.Context, itemID string) (int64, error) {
	callCtx, cancel := t.callContext(ctx)
	defer cancel()
	return t.source.GetScore(callCtx, itemID)
}

func (t *Tracker) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.config.CallTimeout)
}

// Summarize counts results by outcome
func Summarize(results []ItemResult) map[Outcome]int {
	counts := make(map[Outcome]int, 4)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}
