package tracker

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/template-scoreboard/internal/domain"
)

func seed(t *testing.T, store *memStore, items ...domain.TrackedItem) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, store.PutTracking(context.Background(), domain.NewTrackingRecord(item)))
	}
}

func TestRecoveryRestoresPersistedFields(t *testing.T) {
	h := newHarness()
	item := submission("S1", "U1", t0.Add(-2*time.Hour))
	item.Score = 42
	item.Title = "cat"
	seed(t, h.store, item)

	report, err := NewRecoveryLoader(h.store, h.tracker, discardLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Scanned: 1, Restored: 1}, report)

	got, ok := h.tracker.Get("S1")
	require.True(t, ok)
	assert.Equal(t, item.Deadline, got.Deadline)
	assert.Equal(t, item.CreatedAt, got.CreatedAt)
	assert.Equal(t, int64(42), got.Score)
	assert.Equal(t, "cat", got.Title)
}

func TestRecoveryPastDeadlineFinalizesOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	item := submission("S1", "U1", t0.Add(-24*time.Hour-time.Second))
	require.True(t, item.Deadline.Before(t0))
	seed(t, h.store, item)
	h.source.set("S1", 6)

	_, err := NewRecoveryLoader(h.store, h.tracker, discardLogger()).Load(ctx)
	require.NoError(t, err)

	results := h.tracker.Cycle(ctx, 10)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFinalized, results[0].Outcome)
	assert.Empty(t, h.tracker.Cycle(ctx, 10))

	assert.Equal(t, int64(6), h.store.ledger("U1").TotalScore)
	assert.Equal(t, 1, h.store.commits)
	assert.False(t, h.store.has("S1"))
}

func TestRecoveryDeletesOrphans(t *testing.T) {
	h := newHarness()
	seed(t, h.store, submission("S1", "U1", t0))
	created := t0
	h.store.records["orphan"] = domain.TrackingRecord{
		ItemID:      "orphan",
		Kind:        domain.KindSubmission,
		OwnerUserID: "U1",
		CreatedAt:   &created,
		Score:       3,
	}

	report, err := NewRecoveryLoader(h.store, h.tracker, discardLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Restored)
	assert.Equal(t, 1, report.Orphans)

	assert.False(t, h.store.has("orphan"))
	assert.True(t, h.store.has("S1"))
	assert.False(t, isTracked(h.tracker, "orphan"))
}

func TestRecoverySkipsBadRecordWithoutAborting(t *testing.T) {
	h := newHarness()
	bad := submission("bad", "U1", t0)
	bad.Deadline = t0.Add(-time.Hour)
	seed(t, h.store, bad, submission("good", "U2", t0))

	report, err := NewRecoveryLoader(h.store, h.tracker, discardLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Restored)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, isTracked(h.tracker, "good"))
	assert.False(t, isTracked(h.tracker, "bad"))
}

func TestRecoveryIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	seed(t, h.store,
		submission("S1", "U1", t0),
		example("E1", "U2", "U1", t0.Add(time.Minute)),
	)
	loader := NewRecoveryLoader(h.store, h.tracker, discardLogger())

	_, err := loader.Load(ctx)
	require.NoError(t, err)
	first := h.tracker.Snapshot()

	_, err = loader.Load(ctx)
	require.NoError(t, err)
	second := h.tracker.Snapshot()

	byID := func(items []domain.TrackedItem) []domain.TrackedItem {
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		return items
	}
	assert.Equal(t, byID(first), byID(second))
	assert.Equal(t, 2, h.tracker.Len())
}

func TestRecoveryScanFailure(t *testing.T) {
	h := newHarness()
	h.store.scanErr = errors.New("connection refused")

	_, err := NewRecoveryLoader(h.store, h.tracker, discardLogger()).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, h.tracker.Len())
}
