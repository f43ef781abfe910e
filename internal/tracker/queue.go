package tracker

import (
	"container/list"
	"sync"

	"github.com/template-scoreboard/internal/domain"
)

// ExpiryQueue is the ordered working set of tracked items. Items are visited
// round robin: each batch is taken from the head and rotated to the tail, so
// the item refreshed longest ago is always next. An id appears at most once.
type ExpiryQueue struct {
	mu    sync.RWMutex
	order *list.List
	index map[string]*list.Element
}

// NewExpiryQueue creates an empty queue
func NewExpiryQueue() *ExpiryQueue {
	return &ExpiryQueue{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Enqueue appends a copy of item at the tail. It returns
// domain.ErrAlreadyTracked if the id is already present.
func (q *ExpiryQueue) Enqueue(item domain.TrackedItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[item.ID]; ok {
		return domain.ErrAlreadyTracked
	}
	q.index[item.ID] = q.order.PushBack(&item)
	return nil
}

// NextBatch returns copies of up to n items from the head and moves them to
// the tail. The items stay in the queue until Remove is called.
func (q *ExpiryQueue) NextBatch(n int) []domain.TrackedItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > q.order.Len() {
		n = q.order.Len()
	}
	if n <= 0 {
		return nil
	}
	batch := make([]domain.TrackedItem, 0, n)
	for i := 0; i < n; i++ {
		front := q.order.Front()
		batch = append(batch, *front.Value.(*domain.TrackedItem))
		q.order.MoveToBack(front)
	}
	return batch
}

// Update applies fn to the queued item with the given id
func (q *ExpiryQueue) Update(id string, fn func(item *domain.TrackedItem)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[id]
	if !ok {
		return false
	}
	fn(el.Value.(*domain.TrackedItem))
	return true
}

// Remove drops the item with the given id; it reports whether it was present
func (q *ExpiryQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[id]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, id)
	return true
}

// Get returns a copy of the item for id
func (q *ExpiryQueue) Get(id string) (domain.TrackedItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	el, ok := q.index[id]
	if !ok {
		return domain.TrackedItem{}, false
	}
	return *el.Value.(*domain.TrackedItem), true
}

// Contains reports whether id is queued
func (q *ExpiryQueue) Contains(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.index[id]
	return ok
}

// Len returns the number of queued items
func (q *ExpiryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.order.Len()
}

// Snapshot returns copies of all items in visiting order
func (q *ExpiryQueue) Snapshot() []domain.TrackedItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]domain.TrackedItem, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		items = append(items, *el.Value.(*domain.TrackedItem))
	}
	return items
}
