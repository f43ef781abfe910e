package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeTracker struct {
	items    map[string]domain.TrackedItem
	trackErr error
}

func (f *fakeTracker) Track(_ context.Context, item domain.TrackedItem, _ bool) error {
	if f.trackErr != nil {
		return f.trackErr
	}
	if _, ok := f.items[item.ID]; ok {
		return domain.ErrAlreadyTracked
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeTracker) Cancel(_ context.Context, itemID string) error {
	if _, ok := f.items[itemID]; !ok {
		return domain.ErrItemNotTracked
	}
	delete(f.items, itemID)
	return nil
}

func (f *fakeTracker) Snapshot() []domain.TrackedItem {
	out := make([]domain.TrackedItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	return out
}

func (f *fakeTracker) Get(itemID string) (domain.TrackedItem, bool) {
	item, ok := f.items[itemID]
	return item, ok
}

type fakeUsers struct {
	users    map[string]*domain.LedgerEntry
	rankings map[string]*domain.UserRanking
	gets     int
}

func (f *fakeUsers) EnsureUser(_ context.Context, userID, username string) error {
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = &domain.LedgerEntry{UserID: userID, Username: username}
	}
	return nil
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*domain.LedgerEntry, error) {
	f.gets++
	entry, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *entry
	return &copied, nil
}

func (f *fakeUsers) GetRanking(_ context.Context, userID string) (*domain.UserRanking, error) {
	rk, ok := f.rankings[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return rk, nil
}

type mapCache struct {
	entries map[string]domain.LedgerEntry
}

func (m *mapCache) GetCachedLedger(_ context.Context, userID string) (*domain.LedgerEntry, error) {
	entry, ok := m.entries[userID]
	if !ok {
		return nil, errors.New("miss")
	}
	return &entry, nil
}

func (m *mapCache) CacheLedger(_ context.Context, entry domain.LedgerEntry) error {
	m.entries[entry.UserID] = entry
	return nil
}

func newTestService() (*TrackingService, *fakeTracker, *fakeUsers) {
	tr := &fakeTracker{items: map[string]domain.TrackedItem{}}
	users := &fakeUsers{users: map[string]*domain.LedgerEntry{}, rankings: map[string]*domain.UserRanking{}}
	cfg := &config.TrackerConfig{TrackDuration: 24 * time.Hour, CommissionRate: 0.20}
	svc := NewTrackingService(tr, users, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.SetClock(func() time.Time { return now })
	return svc, tr, users
}

func TestTrackSetsDeadlineAndEnsuresUsers(t *testing.T) {
	svc, tr, users := newTestService()

	item, err := svc.Track(context.Background(), domain.TrackRequest{
		ItemID:        "E1",
		Kind:          domain.KindExample,
		OwnerUserID:   "U2",
		CreatorUserID: "U1",
		Username:      "bob",
		CreatorName:   "alice",
		CreatedAt:     now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), item.CreatedAt)
	assert.Equal(t, now.Add(23*time.Hour), item.Deadline)
	assert.Contains(t, tr.items, "E1")
	assert.Equal(t, "bob", users.users["U2"].Username)
	assert.Equal(t, "alice", users.users["U1"].Username)
}

func TestTrackDefaultsCreatedAtToNow(t *testing.T) {
	svc, _, _ := newTestService()
	item, err := svc.Track(context.Background(), domain.TrackRequest{
		ItemID:      "S1",
		Kind:        domain.KindSubmission,
		OwnerUserID: "U1",
		// a submission never carries a creator
		CreatorUserID: "U9",
	})
	require.NoError(t, err)
	assert.Equal(t, now, item.CreatedAt)
	assert.Empty(t, item.CreatorUserID)
}

func TestTrackRejectsOldAndInvalidRequests(t *testing.T) {
	svc, tr, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Track(ctx, domain.TrackRequest{
		ItemID: "S1", Kind: domain.KindSubmission, OwnerUserID: "U1", CreatedAt: now.Add(-24 * time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrItemTooOld)

	_, err = svc.Track(ctx, domain.TrackRequest{ItemID: "E1", Kind: domain.KindExample, OwnerUserID: "U2"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Track(ctx, domain.TrackRequest{ItemID: "X", Kind: "video", OwnerUserID: "U2"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Track(ctx, domain.TrackRequest{Kind: domain.KindSubmission, OwnerUserID: "U2"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.Empty(t, tr.items)
}

func TestTrackDuplicate(t *testing.T) {
	svc, _, _ := newTestService()
	req := domain.TrackRequest{ItemID: "S1", Kind: domain.KindSubmission, OwnerUserID: "U1"}
	_, err := svc.Track(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Track(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrAlreadyTracked)
}

func TestUserScoreIncludesPending(t *testing.T) {
	svc, tr, users := newTestService()
	users.users["U1"] = &domain.LedgerEntry{UserID: "U1", SubmissionScore: 5, TotalScore: 5}
	tr.items["S1"] = domain.TrackedItem{ID: "S1", Kind: domain.KindSubmission, OwnerUserID: "U1", Score: 10}
	tr.items["E1"] = domain.TrackedItem{ID: "E1", Kind: domain.KindExample, OwnerUserID: "U2", CreatorUserID: "U1", Score: 100}
	tr.items["E2"] = domain.TrackedItem{ID: "E2", Kind: domain.KindExample, OwnerUserID: "U1", CreatorUserID: "U3", Score: 50}

	score, err := svc.UserScore(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), score.PendingSubmission)
	assert.Equal(t, int64(40), score.PendingDistribution)
	assert.Equal(t, int64(75), score.ProjectedTotal)
}

func TestUserScoreUnknownUser(t *testing.T) {
	svc, tr, _ := newTestService()
	_, err := svc.UserScore(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// a user with pending items but no ledger row yet still gets a score
	tr.items["S1"] = domain.TrackedItem{ID: "S1", Kind: domain.KindSubmission, OwnerUserID: "new", Score: 4}
	score, err := svc.UserScore(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, int64(4), score.ProjectedTotal)
}

func TestUserUsesCacheAndRanking(t *testing.T) {
	svc, _, users := newTestService()
	cache := &mapCache{entries: map[string]domain.LedgerEntry{}}
	svc.SetLedgerCache(cache)
	users.users["U1"] = &domain.LedgerEntry{UserID: "U1", TotalScore: 0}
	users.rankings["U1"] = &domain.UserRanking{UserID: "U1", Total: 3}

	profile, err := svc.User(context.Background(), "U1")
	require.NoError(t, err)
	require.NotNil(t, profile.Ranking)
	assert.Equal(t, 3, profile.Ranking.Total)
	assert.Contains(t, cache.entries, "U1")

	_, err = svc.User(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, users.gets)
}

func TestCancelAndTrackedItem(t *testing.T) {
	svc, tr, _ := newTestService()
	tr.items["S1"] = domain.TrackedItem{ID: "S1"}

	item, err := svc.TrackedItem("S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", item.ID)
	assert.Len(t, svc.Tracked(), 1)

	require.NoError(t, svc.Cancel(context.Background(), "S1"))
	_, err = svc.TrackedItem("S1")
	assert.ErrorIs(t, err, domain.ErrItemNotTracked)
}
