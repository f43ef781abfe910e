package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/tracker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	calls []string
}

type stubCycler struct {
	rec      *recorder
	maxBatch int
	results  []tracker.ItemResult
}

func (s *stubCycler) Cycle(_ context.Context, maxBatch int) []tracker.ItemResult {
	s.rec.calls = append(s.rec.calls, "cycle")
	s.maxBatch = maxBatch
	return s.results
}

type stubFlusher struct {
	rec *recorder
	err error
}

func (s *stubFlusher) FlushExpired(context.Context) error {
	s.rec.calls = append(s.rec.calls, "flush")
	return s.err
}

func TestCycleWorkerFlushesBeforeCycle(t *testing.T) {
	rec := &recorder{}
	cycler := &stubCycler{rec: rec, results: []tracker.ItemResult{
		{ItemID: "a", Outcome: tracker.OutcomeRefreshed},
		{ItemID: "b", Outcome: tracker.OutcomeFinalized},
		{ItemID: "c", Outcome: tracker.OutcomeRetry, Err: errors.New("timeout")},
	}}
	flusher := &stubFlusher{rec: rec, err: errors.New("save failed")}
	w := NewCycleWorker(cycler, flusher, &config.TrackerConfig{CycleInterval: time.Second, MaxBatch: 7}, discardLogger())

	counts := w.RunOnce(context.Background())

	assert.Equal(t, []string{"flush", "cycle"}, rec.calls)
	assert.Equal(t, 7, cycler.maxBatch)
	assert.Equal(t, 1, counts[tracker.OutcomeRefreshed])
	assert.Equal(t, 1, counts[tracker.OutcomeFinalized])
	assert.Equal(t, 1, counts[tracker.OutcomeRetry])
}

type countingCycler struct {
	n atomic.Int32
}

func (c *countingCycler) Cycle(context.Context, int) []tracker.ItemResult {
	c.n.Add(1)
	return nil
}

func TestCycleWorkerStartStop(t *testing.T) {
	cycler := &countingCycler{}
	w := NewCycleWorker(cycler, nil, &config.TrackerConfig{CycleInterval: time.Millisecond, MaxBatch: 1}, discardLogger())

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	require.Eventually(t, func() bool { return cycler.n.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

type memRankingStore struct {
	users   []domain.LedgerEntry
	saved   []domain.UserRanking
	listErr error
}

func (m *memRankingStore) ListUsers(context.Context) ([]domain.LedgerEntry, error) {
	return m.users, m.listErr
}

func (m *memRankingStore) SaveRankings(_ context.Context, rankings []domain.UserRanking) error {
	m.saved = rankings
	return nil
}

func TestRankingWorkerRunOnce(t *testing.T) {
	store := &memRankingStore{users: []domain.LedgerEntry{
		{UserID: "a", SubmissionScore: 1, TotalScore: 1},
		{UserID: "b", DistributionScore: 5, TotalScore: 5},
	}}
	w := NewRankingWorker(store, &config.RankingConfig{Interval: time.Minute}, discardLogger())

	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, store.saved, 2)
	assert.Equal(t, "b", store.saved[0].UserID)
	assert.Equal(t, 1, store.saved[0].Total)

	store.listErr = errors.New("db down")
	assert.Error(t, w.RunOnce(context.Background()))
}
