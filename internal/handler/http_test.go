package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/redis"
	"github.com/template-scoreboard/internal/service"
	"github.com/template-scoreboard/internal/websocket"
)

type fakeTracking struct {
	items     map[string]domain.TrackedItem
	trackErr  error
	users     map[string]domain.LedgerEntry
	cancelled []string
}

func newFakeTracking() *fakeTracking {
	return &fakeTracking{
		items: make(map[string]domain.TrackedItem),
		users: make(map[string]domain.LedgerEntry),
	}
}

func (f *fakeTracking) Track(_ context.Context, req domain.TrackRequest) (*domain.TrackedItem, error) {
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	if _, ok := f.items[req.ItemID]; ok {
		return nil, domain.ErrAlreadyTracked
	}
	item := domain.TrackedItem{ID: req.ItemID, Kind: req.Kind, OwnerUserID: req.OwnerUserID}
	f.items[req.ItemID] = item
	return &item, nil
}

func (f *fakeTracking) Cancel(_ context.Context, itemID string) error {
	if _, ok := f.items[itemID]; !ok {
		return domain.ErrItemNotTracked
	}
	delete(f.items, itemID)
	f.cancelled = append(f.cancelled, itemID)
	return nil
}

func (f *fakeTracking) Tracked() []domain.TrackedItem {
	out := make([]domain.TrackedItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	return out
}

func (f *fakeTracking) TrackedItem(itemID string) (*domain.TrackedItem, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotTracked
	}
	return &item, nil
}

func (f *fakeTracking) User(_ context.Context, userID string) (*service.UserProfile, error) {
	entry, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &service.UserProfile{Ledger: entry}, nil
}

func (f *fakeTracking) UserScore(_ context.Context, userID string) (*domain.UserScore, error) {
	entry, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &domain.UserScore{Ledger: entry, ProjectedTotal: entry.TotalScore}, nil
}

type fakeBoards struct {
	records map[domain.Bucket]domain.BucketRecord
}

func (f *fakeBoards) Snapshot(bucket domain.Bucket) (domain.BucketRecord, error) {
	rec, ok := f.records[bucket]
	if !ok {
		return domain.BucketRecord{}, domain.ErrUnknownBucket
	}
	return rec, nil
}

func (f *fakeBoards) Snapshots() []domain.BucketRecord {
	out := make([]domain.BucketRecord, 0, len(f.records))
	for b := domain.BucketLastDay; b <= domain.BucketAllTime; b++ {
		if rec, ok := f.records[b]; ok {
			out = append(out, rec)
		}
	}
	return out
}

type fakeCache struct {
	buckets map[domain.Bucket]domain.BucketRecord
	live    []redis.LiveScore
}

func (f *fakeCache) GetBucket(_ context.Context, bucket domain.Bucket) (*domain.BucketRecord, error) {
	rec, ok := f.buckets[bucket]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return &rec, nil
}

func (f *fakeCache) TopLive(_ context.Context, n int) ([]redis.LiveScore, error) {
	if n < len(f.live) {
		return f.live[:n], nil
	}
	return f.live, nil
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func bucketRecord(bucket domain.Bucket, ids ...string) domain.BucketRecord {
	rec := domain.BucketRecord{
		Bucket:    bucket,
		Templates: make([]domain.LeaderboardEntry, 3),
		Examples:  make([]domain.LeaderboardEntry, 3),
		UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for i, id := range ids {
		rec.Templates[i] = domain.LeaderboardEntry{ItemID: id, Score: int64(100 - i)}
	}
	return rec
}

type testEnv struct {
	tracking *fakeTracking
	boards   *fakeBoards
	handler  *Handler
	router   http.Handler
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracking := newFakeTracking()
	boards := &fakeBoards{records: map[domain.Bucket]domain.BucketRecord{
		domain.BucketLastDay: bucketRecord(domain.BucketLastDay, "T1"),
		domain.BucketAllTime: bucketRecord(domain.BucketAllTime, "T1", "T2"),
	}}
	h := NewHandler(tracking, boards, websocket.NewHub(logger), logger)
	return &testEnv{tracking: tracking, boards: boards, handler: h, router: h.Router()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	var resp APIResponse
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func decodeData(t *testing.T, resp APIResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestHealth(t *testing.T) {
	env := newTestEnv()
	rr, resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Success)
}

func TestReady(t *testing.T) {
	env := newTestEnv()
	env.handler.AddReadinessCheck("postgres", pingFunc(func(context.Context) error { return nil }))

	rr, _ := env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	env.handler.AddReadinessCheck("redis", pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	rr, resp := env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.False(t, resp.Success)
}

func TestListLeaderboards(t *testing.T) {
	env := newTestEnv()
	rr, resp := env.do(t, http.MethodGet, "/api/v1/leaderboards", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var views []LeaderboardView
	decodeData(t, resp, &views)
	require.Len(t, views, 2)
	assert.Equal(t, "last_day", views[0].Bucket)
	assert.Len(t, views[0].Templates, 1)
	assert.Empty(t, views[0].Examples)
	assert.Equal(t, "all_time", views[1].Bucket)
	assert.Len(t, views[1].Templates, 2)
}

func TestGetLeaderboard(t *testing.T) {
	env := newTestEnv()

	rr, resp := env.do(t, http.MethodGet, "/api/v1/leaderboards/all_time", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view LeaderboardView
	decodeData(t, resp, &view)
	assert.Equal(t, "T1", view.Templates[0].ItemID)

	rr, _ = env.do(t, http.MethodGet, "/api/v1/leaderboards/last_century", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetLeaderboardPrefersCache(t *testing.T) {
	env := newTestEnv()
	env.handler.SetCache(&fakeCache{buckets: map[domain.Bucket]domain.BucketRecord{
		domain.BucketAllTime: bucketRecord(domain.BucketAllTime, "C1"),
	}})

	_, resp := env.do(t, http.MethodGet, "/api/v1/leaderboards/all_time", "")
	var view LeaderboardView
	decodeData(t, resp, &view)
	require.Len(t, view.Templates, 1)
	assert.Equal(t, "C1", view.Templates[0].ItemID)

	// cache miss falls back to memory
	_, resp = env.do(t, http.MethodGet, "/api/v1/leaderboards/last_day", "")
	decodeData(t, resp, &view)
	assert.Equal(t, "T1", view.Templates[0].ItemID)
}

func TestTrackLifecycle(t *testing.T) {
	env := newTestEnv()
	body := `{"item_id":"S1","kind":"submission","owner_user_id":"U1"}`

	rr, resp := env.do(t, http.MethodPost, "/api/v1/tracking", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, resp.Success)

	rr, _ = env.do(t, http.MethodPost, "/api/v1/tracking", body)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, resp = env.do(t, http.MethodGet, "/api/v1/tracking", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var items []domain.TrackedItem
	decodeData(t, resp, &items)
	assert.Len(t, items, 1)

	rr, _ = env.do(t, http.MethodGet, "/api/v1/tracking/S1", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = env.do(t, http.MethodDelete, "/api/v1/tracking/S1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"S1"}, env.tracking.cancelled)

	rr, _ = env.do(t, http.MethodDelete, "/api/v1/tracking/S1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTrackErrors(t *testing.T) {
	env := newTestEnv()

	rr, _ := env.do(t, http.MethodPost, "/api/v1/tracking", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env.tracking.trackErr = domain.ErrItemTooOld
	rr, _ = env.do(t, http.MethodPost, "/api/v1/tracking", `{"item_id":"S1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	env.tracking.trackErr = errors.New("db down")
	rr, resp := env.do(t, http.MethodPost, "/api/v1/tracking", `{"item_id":"S1"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, domain.ErrInternalError.Error(), resp.Error)
}

func TestUserEndpoints(t *testing.T) {
	env := newTestEnv()
	env.tracking.users["U1"] = domain.LedgerEntry{UserID: "U1", SubmissionScore: 30, TotalScore: 30}

	rr, resp := env.do(t, http.MethodGet, "/api/v1/users/U1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var profile service.UserProfile
	decodeData(t, resp, &profile)
	assert.Equal(t, int64(30), profile.Ledger.TotalScore)

	rr, resp = env.do(t, http.MethodGet, "/api/v1/users/U1/score", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var score domain.UserScore
	decodeData(t, resp, &score)
	assert.Equal(t, int64(30), score.ProjectedTotal)

	rr, _ = env.do(t, http.MethodGet, "/api/v1/users/U9", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLiveScores(t *testing.T) {
	env := newTestEnv()
	rr, _ := env.do(t, http.MethodGet, "/api/v1/tracking/live", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	env.handler.SetCache(&fakeCache{live: []redis.LiveScore{{ItemID: "S2", Score: 9}, {ItemID: "S1", Score: 3}}})
	_, resp := env.do(t, http.MethodGet, "/api/v1/tracking/live?limit=1", "")
	var scores []redis.LiveScore
	decodeData(t, resp, &scores)
	require.Len(t, scores, 1)
	assert.Equal(t, "S2", scores[0].ItemID)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
