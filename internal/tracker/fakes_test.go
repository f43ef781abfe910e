package tracker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/ledger"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.TrackerConfig {
	return &config.TrackerConfig{
		TrackDuration:  24 * time.Hour,
		CycleInterval:  time.Second,
		MaxBatch:       25,
		CommissionRate: 0.20,
		CallTimeout:    time.Second,
		FinalizeGrace:  10 * time.Minute,
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// memStore is an in-memory Store with the same finalize-flag semantics as
// the Postgres repository.
type memStore struct {
	mu          sync.Mutex
	records     map[string]domain.TrackingRecord
	ledgers     map[string]*domain.LedgerEntry
	putErr      error
	commitErr   error
	deleteErr   error
	scanErr     error
	deleteCalls int
	commits     int
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]domain.TrackingRecord),
		ledgers: make(map[string]*domain.LedgerEntry),
	}
}

func (s *memStore) PutTracking(_ context.Context, rec domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.records[rec.ItemID] = rec
	return nil
}

func (s *memStore) UpdateTrackingScore(_ context.Context, itemID string, score int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[itemID]
	if !ok {
		return domain.ErrTrackingNotFound
	}
	rec.Score = score
	rec.LastUpdate = &at
	s.records[itemID] = rec
	return nil
}

func (s *memStore) ScanTracking(_ context.Context) ([]domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	out := make([]domain.TrackingRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStore) DeleteTracking(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.records, itemID)
	return nil
}

func (s *memStore) CommitFinalization(_ context.Context, itemID string, finalScore int64, payouts []domain.Payout) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return false, s.commitErr
	}
	rec, ok := s.records[itemID]
	if !ok || rec.Finalized {
		return false, nil
	}
	rec.Finalized = true
	rec.Score = finalScore
	s.records[itemID] = rec
	ledger.Apply(s.ledgers, payouts)
	s.commits++
	return true, nil
}

func (s *memStore) ledger(userID string) domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.ledgers[userID]; ok {
		return *e
	}
	return domain.LedgerEntry{UserID: userID}
}

func (s *memStore) has(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[itemID]
	return ok
}

type fakeSource struct {
	mu     sync.Mutex
	scores map[string]int64
	errs   map[string]error
	calls  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{scores: map[string]int64{}, errs: map[string]error{}}
}

func (f *fakeSource) GetScore(_ context.Context, itemID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID)
	if err := f.errs[itemID]; err != nil {
		return 0, err
	}
	return f.scores[itemID], nil
}

func (f *fakeSource) set(itemID string, score int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[itemID] = score
}

func (f *fakeSource) fail(itemID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, itemID)
		return
	}
	f.errs[itemID] = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeHandler struct {
	mu    sync.Mutex
	err   error
	items []domain.FinalizedItem
}

func (h *fakeHandler) OnFinalized(_ context.Context, item domain.FinalizedItem) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	return h.err
}

func (h *fakeHandler) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

type fakeNotifier struct {
	err   error
	items []domain.FinalizedItem
}

func (n *fakeNotifier) Notify(_ context.Context, item domain.FinalizedItem) error {
	n.items = append(n.items, item)
	return n.err
}

type fakeLive struct {
	scores map[string]int64
}

func (l *fakeLive) SetLiveScore(_ context.Context, itemID string, score int64) error {
	l.scores[itemID] = score
	return nil
}

func (l *fakeLive) RemoveLiveScore(_ context.Context, itemID string) error {
	delete(l.scores, itemID)
	return nil
}

func submission(id, owner string, created time.Time) domain.TrackedItem {
	return domain.TrackedItem{
		ID:          id,
		Kind:        domain.KindSubmission,
		OwnerUserID: owner,
		Username:    owner,
		CreatedAt:   created,
		Deadline:    created.Add(24 * time.Hour),
	}
}

func example(id, owner, creator string, created time.Time) domain.TrackedItem {
	item := submission(id, owner, created)
	item.Kind = domain.KindExample
	item.CreatorUserID = creator
	return item
}

type harness struct {
	clock   *clock
	store   *memStore
	source  *fakeSource
	handler *fakeHandler
	tracker *Tracker
}

func newHarness() *harness {
	h := &harness{
		clock:   &clock{now: t0},
		store:   newMemStore(),
		source:  newFakeSource(),
		handler: &fakeHandler{},
	}
	h.tracker = h.restart()
	return h
}

// restart builds a fresh tracker over the same store, as after a crash
func (h *harness) restart() *Tracker {
	tr := New(h.source, h.store, h.handler, testConfig(), discardLogger())
	tr.SetClock(h.clock.Now)
	return tr
}

func isTracked(tr *Tracker, itemID string) bool {
	_, ok := tr.Get(itemID)
	return ok
}
