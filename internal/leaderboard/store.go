package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/metrics"
)

// Repository persists bucket records, one per bucket
type Repository interface {
	LoadBuckets(ctx context.Context) ([]domain.BucketRecord, error)
	SaveBuckets(ctx context.Context, records []domain.BucketRecord) error
}

// Publisher receives a bucket after each successful save
type Publisher interface {
	PublishBucket(ctx context.Context, rec domain.BucketRecord) error
}

// Store is the persisted leaderboard. It implements the tracker's
// finalization callback.
type Store struct {
	mu         sync.RWMutex
	board      *Board
	repo       Repository
	publishers []Publisher
	dirty      map[domain.Bucket]bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewStore creates a store with empty buckets of the given capacity
func NewStore(repo Repository, capacity int, logger *slog.Logger) *Store {
	return &Store{
		board:  NewBoard(capacity),
		repo:   repo,
		dirty:  make(map[domain.Bucket]bool),
		logger: logger,
		now:    time.Now,
	}
}

// SetPublishers sets the receivers of saved buckets
func (s *Store) SetPublishers(publishers ...Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = publishers
}

// SetClock replaces the time source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Load replaces the in-memory buckets with the persisted ones
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.LoadBuckets(ctx)
	if err != nil {
		return fmt.Errorf("loading leaderboard buckets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if !s.board.Restore(rec) {
			s.logger.Warn("ignoring unknown leaderboard bucket", "bucket", int(rec.Bucket))
		}
	}
	s.logger.Info("loaded leaderboard buckets", "count", len(records))
	return nil
}

// OnFinalized flushes expired entries and cascades the finalized item into
// the buckets. Re-running it for the same item is a no-op apart from saving
// any bucket left unsaved by an earlier failure.
func (s *Store) OnFinalized(ctx context.Context, item domain.FinalizedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.flushLocked(now)

	entry := domain.EntryFromFinalized(item)
	for _, bucket := range s.board.OfferCascade(domain.ListFor(item.Kind), entry, now) {
		s.dirty[bucket] = true
		metrics.LeaderboardUpdates.WithLabelValues(bucket.String(), "offer").Inc()
		s.logger.Debug("leaderboard entry placed",
			"bucket", bucket.String(),
			"item_id", item.ItemID,
			"score", item.FinalScore,
		)
	}

	return s.saveLocked(ctx, now)
}

// FlushExpired replaces entries older than their bucket retention with
// placeholders and saves the buckets that changed.
func (s *Store) FlushExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.flushLocked(now)
	return s.saveLocked(ctx, now)
}

func (s *Store) flushLocked(now time.Time) {
	for _, bucket := range domain.Buckets {
		if n := s.board.Flush(bucket, now); n > 0 {
			s.dirty[bucket] = true
			metrics.LeaderboardUpdates.WithLabelValues(bucket.String(), "flush").Inc()
			s.logger.Debug("flushed expired leaderboard entries", "bucket", bucket.String(), "removed", n)
		}
	}
}

// saveLocked persists every dirty bucket. On failure the buckets stay dirty
// and the next call saves them again.
func (s *Store) saveLocked(ctx context.Context, now time.Time) error {
	if len(s.dirty) == 0 {
		return nil
	}

	records := make([]domain.BucketRecord, 0, len(s.dirty))
	for _, bucket := range domain.Buckets {
		if !s.dirty[bucket] {
			continue
		}
		rec := s.board.record(bucket)
		rec.UpdatedAt = now
		records = append(records, rec.Clone())
	}

	if err := s.repo.SaveBuckets(ctx, records); err != nil {
		return fmt.Errorf("saving leaderboard buckets: %w", err)
	}
	s.dirty = make(map[domain.Bucket]bool)

	for _, rec := range records {
		for _, p := range s.publishers {
			if err := p.PublishBucket(ctx, rec); err != nil {
				s.logger.Warn("failed to publish leaderboard bucket", "bucket", rec.Bucket.String(), "error", err)
			}
		}
	}
	return nil
}

// Dirty reports whether any bucket has unsaved changes
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0
}

// Snapshot returns a copy of one bucket
func (s *Store) Snapshot(bucket domain.Bucket) (domain.BucketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.board.Record(bucket)
	if !ok {
		return domain.BucketRecord{}, domain.ErrUnknownBucket
	}
	return rec, nil
}

// Snapshots returns copies of every bucket in retention order
func (s *Store) Snapshots() []domain.BucketRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BucketRecord, 0, len(domain.Buckets))
	for _, bucket := range domain.Buckets {
		rec, _ := s.board.Record(bucket)
		out = append(out, rec)
	}
	return out
}
