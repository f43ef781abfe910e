package domain

import (
	"fmt"
	"time"
)

// Kind distinguishes original submissions from distributed examples
type Kind string

const (
	KindSubmission Kind = "submission"
	KindExample    Kind = "example"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	return k == KindSubmission || k == KindExample
}

// TrackedItem is a submission or example whose score is refreshed until its
// deadline, then finalized exactly once.
type TrackedItem struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	OwnerUserID    string    `json:"owner_user_id"`
	CreatorUserID  string    `json:"creator_user_id,omitempty"`
	TemplateID     string    `json:"template_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	Title          string    `json:"title,omitempty"`
	Permalink      string    `json:"permalink,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Deadline       time.Time `json:"deadline"`
	Score          int64     `json:"score"`
	LastUpdate     time.Time `json:"last_update,omitempty"`
	NotifyTargetID string    `json:"notify_target_id,omitempty"`

	// Finalized is set once the ledger credit for this item has been
	// committed. A finalized item still in the queue only has its remaining
	// finalize steps left to run.
	Finalized bool `json:"finalized"`
}

// Expired reports whether the item's deadline has been reached
func (i *TrackedItem) Expired(now time.Time) bool {
	return !now.Before(i.Deadline)
}

// Validate checks the invariants of a freshly built item
func (i *TrackedItem) Validate() error {
	if i.ID == "" || i.OwnerUserID == "" {
		return fmt.Errorf("%w: id and owner are required", ErrInvalidRequest)
	}
	if !i.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, i.Kind)
	}
	if i.Kind == KindExample && i.CreatorUserID == "" {
		return fmt.Errorf("%w: example requires a creator", ErrInvalidRequest)
	}
	if i.CreatedAt.IsZero() || i.Deadline.IsZero() || i.Deadline.Before(i.CreatedAt) {
		return fmt.Errorf("%w: bad created_at/deadline", ErrInvalidRequest)
	}
	return nil
}

// TrackingRecord is the persisted form of a TrackedItem. Deadline is nullable
// because a racing finalize and score update can leave a partial row behind.
type TrackingRecord struct {
	ItemID         string
	Kind           Kind
	OwnerUserID    string
	CreatorUserID  string
	TemplateID     string
	Username       string
	Title          string
	Permalink      string
	CreatedAt      *time.Time
	Deadline       *time.Time
	Score          int64
	LastUpdate     *time.Time
	NotifyTargetID string
	Finalized      bool
}

// NewTrackingRecord builds the persisted form of an item
func NewTrackingRecord(item TrackedItem) TrackingRecord {
	created, deadline := item.CreatedAt, item.Deadline
	rec := TrackingRecord{
		ItemID:         item.ID,
		Kind:           item.Kind,
		OwnerUserID:    item.OwnerUserID,
		CreatorUserID:  item.CreatorUserID,
		TemplateID:     item.TemplateID,
		Username:       item.Username,
		Title:          item.Title,
		Permalink:      item.Permalink,
		CreatedAt:      &created,
		Deadline:       &deadline,
		Score:          item.Score,
		NotifyTargetID: item.NotifyTargetID,
		Finalized:      item.Finalized,
	}
	if !item.LastUpdate.IsZero() {
		last := item.LastUpdate
		rec.LastUpdate = &last
	}
	return rec
}

// ToItem rebuilds a TrackedItem from persisted fields without recomputing
// created_at or deadline.
func (r TrackingRecord) ToItem() (TrackedItem, error) {
	if r.ItemID == "" || r.Deadline == nil || r.CreatedAt == nil || r.OwnerUserID == "" || !r.Kind.Valid() {
		return TrackedItem{}, fmt.Errorf("%w: item %q", ErrInvalidTrackingRecord, r.ItemID)
	}
	if r.Kind == KindExample && r.CreatorUserID == "" {
		return TrackedItem{}, fmt.Errorf("%w: example %q has no creator", ErrInvalidTrackingRecord, r.ItemID)
	}

	item := TrackedItem{
		ID:             r.ItemID,
		Kind:           r.Kind,
		OwnerUserID:    r.OwnerUserID,
		CreatorUserID:  r.CreatorUserID,
		TemplateID:     r.TemplateID,
		Username:       r.Username,
		Title:          r.Title,
		Permalink:      r.Permalink,
		CreatedAt:      *r.CreatedAt,
		Deadline:       *r.Deadline,
		Score:          r.Score,
		NotifyTargetID: r.NotifyTargetID,
		Finalized:      r.Finalized,
	}
	if r.LastUpdate != nil {
		item.LastUpdate = *r.LastUpdate
	}
	return item, nil
}

// FinalizedItem is handed to finalization callbacks and notifiers
type FinalizedItem struct {
	ItemID         string    `json:"item_id"`
	Kind           Kind      `json:"kind"`
	OwnerUserID    string    `json:"owner_user_id"`
	CreatorUserID  string    `json:"creator_user_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	Title          string    `json:"title,omitempty"`
	Permalink      string    `json:"permalink,omitempty"`
	FinalScore     int64     `json:"final_score"`
	Payouts        []Payout  `json:"payouts"`
	NotifyTargetID string    `json:"notify_target_id,omitempty"`
	ScoringTime    time.Time `json:"scoring_time"`
}

// TrackRequest asks the engine to start tracking new content. It arrives
// from the upstream bot glue over Kafka or HTTP.
type TrackRequest struct {
	ItemID         string    `json:"item_id"`
	Kind           Kind      `json:"kind"`
	OwnerUserID    string    `json:"owner_user_id"`
	CreatorUserID  string    `json:"creator_user_id,omitempty"`
	TemplateID     string    `json:"template_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	CreatorName    string    `json:"creator_name,omitempty"`
	Title          string    `json:"title,omitempty"`
	Permalink      string    `json:"permalink,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	NotifyTargetID string    `json:"notify_target_id,omitempty"`
}
