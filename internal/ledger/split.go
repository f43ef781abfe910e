// Package ledger holds the pure score arithmetic applied at finalization:
// the commission split, payout construction and user ranking.
package ledger

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/template-scoreboard/internal/domain"
)

// Split divides total between the original creator and the distributor.
// The creator share is rounded half up and the distributor receives the
// remainder, so the two shares always sum to total. The product is taken in
// decimal so a rate such as 0.29 is not rounded through its binary form.
func Split(total int64, rate float64) (creatorShare, distributorShare int64) {
	creatorShare = decimal.NewFromInt(total).Mul(decimal.NewFromFloat(rate)).Round(0).IntPart()
	distributorShare = total - creatorShare
	return creatorShare, distributorShare
}

// Payouts computes the ledger credits for finalizing item with score.
// Negative scores credit nothing; ledgers never decrease through finalization.
func Payouts(item domain.TrackedItem, score int64, rate float64) ([]domain.Payout, error) {
	if rate < 0 || rate > 1 || math.IsNaN(rate) {
		return nil, domain.ErrInvalidCommission
	}
	if score < 0 {
		score = 0
	}

	switch item.Kind {
	case domain.KindSubmission:
		return []domain.Payout{
			{UserID: item.OwnerUserID, Field: domain.FieldSubmission, Amount: score},
		}, nil
	case domain.KindExample:
		if item.CreatorUserID == "" {
			return nil, fmt.Errorf("%w: example %q has no creator", domain.ErrInvalidTrackingRecord, item.ID)
		}
		creator, distributor := Split(score, rate)
		// Owner and creator may be the same user; both credits still apply.
		return []domain.Payout{
			{UserID: item.OwnerUserID, Field: domain.FieldDistribution, Amount: distributor},
			{UserID: item.CreatorUserID, Field: domain.FieldSubmission, Amount: creator},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidTrackingRecord, item.Kind)
	}
}

// Apply credits payouts to in-memory ledger entries, creating entries for
// users not seen before.
func Apply(entries map[string]*domain.LedgerEntry, payouts []domain.Payout) {
	for _, p := range payouts {
		e, ok := entries[p.UserID]
		if !ok {
			e = &domain.LedgerEntry{UserID: p.UserID}
			entries[p.UserID] = e
		}
		e.Credit(p.Field, p.Amount)
	}
}

// Pending returns the submission and distribution score a user would
// receive if every item were finalized at its current score.
func Pending(userID string, items []domain.TrackedItem, rate float64) (submission, distribution int64) {
	entries := make(map[string]*domain.LedgerEntry)
	for _, item := range items {
		if item.Finalized || (item.OwnerUserID != userID && item.CreatorUserID != userID) {
			continue
		}
		payouts, err := Payouts(item, item.Score, rate)
		if err != nil {
			continue
		}
		Apply(entries, payouts)
	}
	if e, ok := entries[userID]; ok {
		return e.SubmissionScore, e.DistributionScore
	}
	return 0, 0
}
