package domain

import "time"

// ScoreField names one of the two additive ledger columns
type ScoreField string

const (
	FieldSubmission   ScoreField = "submission_score"
	FieldDistribution ScoreField = "distribution_score"
)

// LedgerEntry holds a user's accumulated scores.
// TotalScore always equals SubmissionScore + DistributionScore.
type LedgerEntry struct {
	UserID            string    `json:"user_id"`
	Username          string    `json:"username,omitempty"`
	SubmissionScore   int64     `json:"submission_score"`
	DistributionScore int64     `json:"distribution_score"`
	TotalScore        int64     `json:"total_score"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Credit adds amount to the given field and keeps the total consistent
func (e *LedgerEntry) Credit(field ScoreField, amount int64) {
	switch field {
	case FieldSubmission:
		e.SubmissionScore += amount
	case FieldDistribution:
		e.DistributionScore += amount
	}
	e.TotalScore = e.SubmissionScore + e.DistributionScore
}

// Payout is one additive credit produced by finalizing an item
type Payout struct {
	UserID string     `json:"user_id"`
	Field  ScoreField `json:"field"`
	Amount int64      `json:"amount"`
}

// UserScore is a user's stored ledger plus what is still being tracked
type UserScore struct {
	Ledger              LedgerEntry `json:"ledger"`
	PendingSubmission   int64       `json:"pending_submission_score"`
	PendingDistribution int64       `json:"pending_distribution_score"`
	ProjectedTotal      int64       `json:"projected_total_score"`
}

// UserRanking is a user's 1-based rank for each score column
type UserRanking struct {
	UserID       string `json:"user_id"`
	Total        int    `json:"total"`
	Submission   int    `json:"submission"`
	Distribution int    `json:"distribution"`
}
