package domain

import (
	"fmt"
	"time"
)

// Bucket is one independently retained top-N window
type Bucket int

const (
	BucketLastDay Bucket = iota
	BucketLastWeek
	BucketLastMonth
	BucketLastYear
	BucketAllTime
)

// Buckets lists every bucket in increasing retention order
var Buckets = []Bucket{BucketLastDay, BucketLastWeek, BucketLastMonth, BucketLastYear, BucketAllTime}

var bucketNames = [...]string{"last_day", "last_week", "last_month", "last_year", "all_time"}

var bucketRetention = [...]time.Duration{
	24 * time.Hour,
	7 * 24 * time.Hour,
	30 * 24 * time.Hour,
	365 * 24 * time.Hour,
	0,
}

// Valid reports whether b is a known bucket
func (b Bucket) Valid() bool {
	return b >= BucketLastDay && b <= BucketAllTime
}

// String returns the persisted bucket name
func (b Bucket) String() string {
	if !b.Valid() {
		return fmt.Sprintf("bucket(%d)", int(b))
	}
	return bucketNames[b]
}

// Retention returns how long an entry stays in the bucket; zero means forever
func (b Bucket) Retention() time.Duration {
	if !b.Valid() {
		return 0
	}
	return bucketRetention[b]
}

// Admits reports whether an entry scored at scoringTime is still young
// enough for this bucket.
func (b Bucket) Admits(scoringTime, now time.Time) bool {
	r := b.Retention()
	return r == 0 || now.Sub(scoringTime) < r
}

// MarshalText implements encoding.TextMarshaler
func (b Bucket) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, ErrUnknownBucket
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *Bucket) UnmarshalText(text []byte) error {
	parsed, err := ParseBucket(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBucket resolves a bucket name
func ParseBucket(name string) (Bucket, error) {
	for i, n := range bucketNames {
		if n == name {
			return Bucket(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBucket, name)
}

// ListKind selects the templates or examples list of a bucket
type ListKind string

const (
	ListTemplates ListKind = "templates"
	ListExamples  ListKind = "examples"
)

// ListFor maps an item kind to the list it competes in
func ListFor(kind Kind) ListKind {
	if kind == KindExample {
		return ListExamples
	}
	return ListTemplates
}

// LeaderboardEntry is one slot of a ranked list. A slot with an empty ItemID
// is a placeholder.
type LeaderboardEntry struct {
	ItemID      string    `json:"item_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Score       int64     `json:"score"`
	ScoringTime time.Time `json:"scoring_time"`
	Permalink   string    `json:"permalink"`
	Title       string    `json:"title"`
}

// IsPlaceholder reports whether the slot is empty
func (e LeaderboardEntry) IsPlaceholder() bool {
	return e.ItemID == ""
}

// EntryFromFinalized builds the leaderboard entry for a finalized item
func EntryFromFinalized(item FinalizedItem) LeaderboardEntry {
	return LeaderboardEntry{
		ItemID:      item.ItemID,
		UserID:      item.OwnerUserID,
		Username:    item.Username,
		Score:       item.FinalScore,
		ScoringTime: item.ScoringTime,
		Permalink:   item.Permalink,
		Title:       item.Title,
	}
}

// BucketRecord is the persisted form of a bucket: two fixed-length lists
type BucketRecord struct {
	Bucket    Bucket             `json:"bucket"`
	Templates []LeaderboardEntry `json:"templates"`
	Examples  []LeaderboardEntry `json:"examples"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// List returns the list of the given kind
func (r BucketRecord) List(kind ListKind) []LeaderboardEntry {
	if kind == ListExamples {
		return r.Examples
	}
	return r.Templates
}

// Live returns the non-placeholder entries of a list, in rank order
func (r BucketRecord) Live(kind ListKind) []LeaderboardEntry {
	list := r.List(kind)
	live := make([]LeaderboardEntry, 0, len(list))
	for _, e := range list {
		if !e.IsPlaceholder() {
			live = append(live, e)
		}
	}
	return live
}

// Clone returns a deep copy of the record
func (r BucketRecord) Clone() BucketRecord {
	out := r
	out.Templates = append([]LeaderboardEntry(nil), r.Templates...)
	out.Examples = append([]LeaderboardEntry(nil), r.Examples...)
	return out
}
