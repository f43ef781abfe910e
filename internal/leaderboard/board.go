// Package leaderboard maintains the five time-bucketed top-N lists that
// finalized items compete for.
package leaderboard

import (
	"sort"
	"time"

	"github.com/template-scoreboard/internal/domain"
)

// Board holds every bucket in memory. It is not safe for concurrent use;
// Store serializes access to it.
type Board struct {
	capacity int
	buckets  [len(bucketSlots)]domain.BucketRecord
}

var bucketSlots = [...]domain.Bucket{
	domain.BucketLastDay,
	domain.BucketLastWeek,
	domain.BucketLastMonth,
	domain.BucketLastYear,
	domain.BucketAllTime,
}

// NewBoard creates a board whose lists all hold capacity placeholders
func NewBoard(capacity int) *Board {
	b := &Board{capacity: capacity}
	for i, bucket := range bucketSlots {
		b.buckets[i] = domain.BucketRecord{
			Bucket:    bucket,
			Templates: placeholders(capacity),
			Examples:  placeholders(capacity),
		}
	}
	return b
}

func placeholders(n int) []domain.LeaderboardEntry {
	return make([]domain.LeaderboardEntry, n)
}

// Capacity returns the fixed length of every list
func (b *Board) Capacity() int {
	return b.capacity
}

func (b *Board) record(bucket domain.Bucket) *domain.BucketRecord {
	if !bucket.Valid() {
		return nil
	}
	return &b.buckets[bucket]
}

func (b *Board) list(bucket domain.Bucket, kind domain.ListKind) []domain.LeaderboardEntry {
	rec := b.record(bucket)
	if rec == nil {
		return nil
	}
	return rec.List(kind)
}

// Record returns a copy of one bucket
func (b *Board) Record(bucket domain.Bucket) (domain.BucketRecord, bool) {
	rec := b.record(bucket)
	if rec == nil {
		return domain.BucketRecord{}, false
	}
	return rec.Clone(), true
}

// Restore replaces a bucket with a persisted record. Lists are padded with
// placeholders or truncated to the board capacity and re-sorted.
func (b *Board) Restore(rec domain.BucketRecord) bool {
	dst := b.record(rec.Bucket)
	if dst == nil {
		return false
	}
	dst.Templates = normalize(rec.Templates, b.capacity)
	dst.Examples = normalize(rec.Examples, b.capacity)
	dst.UpdatedAt = rec.UpdatedAt
	return true
}

func normalize(in []domain.LeaderboardEntry, capacity int) []domain.LeaderboardEntry {
	out := placeholders(capacity)
	live := make([]domain.LeaderboardEntry, 0, len(in))
	for _, e := range in {
		if !e.IsPlaceholder() {
			live = append(live, e)
		}
	}
	sortEntries(live)
	copy(out, live)
	return out
}

// Offer tries to place entry into one list of a bucket. A free placeholder is
// taken first; otherwise the entry must strictly beat the lowest live score,
// which it then displaces. Ties keep the existing entry. Offering an item
// already on the list changes nothing.
func (b *Board) Offer(bucket domain.Bucket, kind domain.ListKind, entry domain.LeaderboardEntry) bool {
	modified, _ := b.offer(bucket, kind, entry)
	return modified
}

// offer reports whether the list changed and whether the entry is on it
// afterwards.
func (b *Board) offer(bucket domain.Bucket, kind domain.ListKind, entry domain.LeaderboardEntry) (modified, present bool) {
	list := b.list(bucket, kind)
	if len(list) == 0 || entry.IsPlaceholder() {
		return false, false
	}

	for _, e := range list {
		if e.ItemID == entry.ItemID {
			return false, true
		}
	}

	slot := -1
	for i, e := range list {
		if e.IsPlaceholder() {
			slot = i
			break
		}
	}
	if slot < 0 {
		// sorted, so the last slot holds the minimum
		last := len(list) - 1
		if entry.Score <= list[last].Score {
			return false, false
		}
		slot = last
	}

	list[slot] = entry
	sortEntries(list)
	return true, true
}

// Flush replaces every live entry whose age reaches the bucket retention with
// a placeholder. It returns the number of entries removed.
func (b *Board) Flush(bucket domain.Bucket, now time.Time) int {
	rec := b.record(bucket)
	if rec == nil || bucket.Retention() == 0 {
		return 0
	}

	removed := 0
	for _, list := range [][]domain.LeaderboardEntry{rec.Templates, rec.Examples} {
		n := 0
		for i, e := range list {
			if !e.IsPlaceholder() && !bucket.Admits(e.ScoringTime, now) {
				list[i] = domain.LeaderboardEntry{}
				n++
			}
		}
		if n > 0 {
			sortEntries(list)
			removed += n
		}
	}
	return removed
}

// OfferCascade offers entry to the buckets in increasing retention order and
// stops at the first bucket it could not enter. Buckets whose retention the
// entry has already outlived are skipped. It returns the modified buckets.
func (b *Board) OfferCascade(kind domain.ListKind, entry domain.LeaderboardEntry, now time.Time) []domain.Bucket {
	var modified []domain.Bucket
	for _, bucket := range bucketSlots {
		if !bucket.Admits(entry.ScoringTime, now) {
			continue
		}
		changed, present := b.offer(bucket, kind, entry)
		if changed {
			modified = append(modified, bucket)
		}
		if !present {
			break
		}
	}
	return modified
}

// sortEntries orders live entries by descending score with placeholders last.
// The sort is stable so equal scores keep their existing order.
func sortEntries(list []domain.LeaderboardEntry) {
	sort.SliceStable(list, func(i, j int) bool {
		a, c := list[i], list[j]
		if a.IsPlaceholder() || c.IsPlaceholder() {
			return !a.IsPlaceholder() && c.IsPlaceholder()
		}
		return a.Score > c.Score
	})
}
