package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/ledger"
	"github.com/template-scoreboard/internal/metrics"
)

// Tracker is the part of the tracking engine the service drives
type Tracker interface {
	Track(ctx context.Context, item domain.TrackedItem, persist bool) error
	Cancel(ctx context.Context, itemID string) error
	Snapshot() []domain.TrackedItem
	Get(itemID string) (domain.TrackedItem, bool)
}

// UserStore reads and creates user ledgers
type UserStore interface {
	EnsureUser(ctx context.Context, userID, username string) error
	GetUser(ctx context.Context, userID string) (*domain.LedgerEntry, error)
	GetRanking(ctx context.Context, userID string) (*domain.UserRanking, error)
}

// LedgerCache is an optional read-through cache of user ledgers
type LedgerCache interface {
	GetCachedLedger(ctx context.Context, userID string) (*domain.LedgerEntry, error)
	CacheLedger(ctx context.Context, entry domain.LedgerEntry) error
}

// UserProfile is a user's ledger with their stored ranks
type UserProfile struct {
	Ledger  domain.LedgerEntry  `json:"ledger"`
	Ranking *domain.UserRanking `json:"ranking,omitempty"`
}

// TrackingService accepts new content for tracking and answers score queries
type TrackingService struct {
	tracker Tracker
	users   UserStore
	cache   LedgerCache
	config  *config.TrackerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewTrackingService creates a new tracking service
func NewTrackingService(
	tracker Tracker,
	users UserStore,
	cfg *config.TrackerConfig,
	logger *slog.Logger,
) *TrackingService {
	return &TrackingService{
		tracker: tracker,
		users:   users,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetLedgerCache enables ledger caching
func (s *TrackingService) SetLedgerCache(cache LedgerCache) {
	s.cache = cache
}

// SetClock replaces the time source
func (s *TrackingService) SetClock(now func() time.Time) {
	s.now = now
}

// Track validates a request, makes sure the involved users have ledgers and
// starts tracking the item until created_at + track duration.
func (s *TrackingService) Track(ctx context.Context, req domain.TrackRequest) (*domain.TrackedItem, error) {
	now := s.now()
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() || createdAt.After(now) {
		createdAt = now
	}
	if now.Sub(createdAt) >= s.config.TrackDuration {
		return nil, fmt.Errorf("%w: %s created %s ago", domain.ErrItemTooOld, req.ItemID, now.Sub(createdAt).Round(time.Second))
	}

	if err := s.users.EnsureUser(ctx, req.OwnerUserID, req.Username); err != nil {
		return nil, fmt.Errorf("ensuring owner: %w", err)
	}
	if req.Kind == domain.KindExample {
		if err := s.users.EnsureUser(ctx, req.CreatorUserID, req.CreatorName); err != nil {
			return nil, fmt.Errorf("ensuring creator: %w", err)
		}
	}

	item := domain.TrackedItem{
		ID:             req.ItemID,
		Kind:           req.Kind,
		OwnerUserID:    req.OwnerUserID,
		CreatorUserID:  req.CreatorUserID,
		TemplateID:     req.TemplateID,
		Username:       req.Username,
		Title:          req.Title,
		Permalink:      req.Permalink,
		CreatedAt:      createdAt,
		Deadline:       createdAt.Add(s.config.TrackDuration),
		NotifyTargetID: req.NotifyTargetID,
	}
	if item.Kind == domain.KindSubmission {
		item.CreatorUserID = ""
	}

	if err := s.tracker.Track(ctx, item, true); err != nil {
		return nil, err
	}
	metrics.ItemsTracked.WithLabelValues(string(item.Kind), "request").Inc()

	s.logger.Info("started tracking",
		"item_id", item.ID,
		"kind", item.Kind,
		"owner_user_id", item.OwnerUserID,
		"creator_user_id", item.CreatorUserID,
		"deadline", item.Deadline,
	)
	return &item, nil
}

func validateRequest(req domain.TrackRequest) error {
	if req.ItemID == "" {
		return fmt.Errorf("%w: item_id is required", domain.ErrInvalidRequest)
	}
	if req.OwnerUserID == "" {
		return fmt.Errorf("%w: owner_user_id is required", domain.ErrInvalidRequest)
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidRequest, req.Kind)
	}
	if req.Kind == domain.KindExample && req.CreatorUserID == "" {
		return fmt.Errorf("%w: examples need the creator_user_id of the original", domain.ErrInvalidRequest)
	}
	return nil
}

// Cancel stops tracking an item without crediting anyone
func (s *TrackingService) Cancel(ctx context.Context, itemID string) error {
	return s.tracker.Cancel(ctx, itemID)
}

// Tracked returns every item currently being tracked
func (s *TrackingService) Tracked() []domain.TrackedItem {
	return s.tracker.Snapshot()
}

// TrackedItem returns one tracked item
func (s *TrackingService) TrackedItem(itemID string) (*domain.TrackedItem, error) {
	item, ok := s.tracker.Get(itemID)
	if !ok {
		return nil, domain.ErrItemNotTracked
	}
	return &item, nil
}

// User returns a user's ledger and ranks
func (s *TrackingService) User(ctx context.Context, userID string) (*UserProfile, error) {
	entry, err := s.ledger(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{Ledger: *entry}
	rk, err := s.users.GetRanking(ctx, userID)
	switch {
	case err == nil:
		profile.Ranking = rk
	case errors.Is(err, domain.ErrUserNotFound):
		// not ranked yet
	default:
		s.logger.Warn("failed to load user ranking", "user_id", userID, "error", err)
	}
	return profile, nil
}

// UserScore returns a user's stored ledger plus the commission-split score of
// items still being tracked.
func (s *TrackingService) UserScore(ctx context.Context, userID string) (*domain.UserScore, error) {
	items := s.tracker.Snapshot()
	submission, distribution := ledger.Pending(userID, items, s.config.CommissionRate)

	entry, err := s.ledger(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) || submission+distribution == 0 {
			return nil, err
		}
		entry = &domain.LedgerEntry{UserID: userID}
	}

	return &domain.UserScore{
		Ledger:              *entry,
		PendingSubmission:   submission,
		PendingDistribution: distribution,
		ProjectedTotal:      entry.TotalScore + submission + distribution,
	}, nil
}

func (s *TrackingService) ledger(ctx context.Context, userID string) (*domain.LedgerEntry, error) {
	if s.cache != nil {
		if entry, err := s.cache.GetCachedLedger(ctx, userID); err == nil {
			return entry, nil
		}
	}

	entry, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheLedger(ctx, *entry); err != nil {
			s.logger.Debug("failed to cache ledger", "user_id", userID, "error", err)
		}
	}
	return entry, nil
}
