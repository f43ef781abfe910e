package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/template-scoreboard/internal/domain"
)

// EnsureUser creates a zeroed ledger row for a user seen for the first time.
// A non-empty username replaces the stored one.
func (r *Repository) EnsureUser(ctx context.Context, userID, username string) error {
	query := `
		INSERT INTO users (user_id, username, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username)
	`
	_, err := r.pool.Exec(ctx, query, userID, username, time.Now())
	if err != nil {
		return fmt.Errorf("ensuring user: %w", err)
	}
	return nil
}

// GetUser retrieves a user's ledger
func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.LedgerEntry, error) {
	query := `
		SELECT user_id, username, submission_score, distribution_score, total_score, created_at, updated_at
		FROM users
		WHERE user_id = $1
	`
	var entry domain.LedgerEntry
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&entry.UserID,
		&entry.Username,
		&entry.SubmissionScore,
		&entry.DistributionScore,
		&entry.TotalScore,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &entry, nil
}

// ListUsers retrieves every user ledger ordered by total score
func (r *Repository) ListUsers(ctx context.Context) ([]domain.LedgerEntry, error) {
	query := `
		SELECT user_id, username, submission_score, distribution_score, total_score, created_at, updated_at
		FROM users
		ORDER BY total_score DESC, user_id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		err := rows.Scan(
			&entry.UserID,
			&entry.Username,
			&entry.SubmissionScore,
			&entry.DistributionScore,
			&entry.TotalScore,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SaveRankings stores user ranks using a single batch
func (r *Repository) SaveRankings(ctx context.Context, rankings []domain.UserRanking) error {
	if len(rankings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO user_rankings (user_id, total_rank, submission_rank, distribution_rank, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET
			total_rank = $2,
			submission_rank = $3,
			distribution_rank = $4,
			updated_at = $5
	`
	now := time.Now()

	for _, rk := range rankings {
		batch.Queue(query, rk.UserID, rk.Total, rk.Submission, rk.Distribution, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rankings {
		_, err := br.Exec()
		if err != nil {
			return fmt.Errorf("batch saving rankings: %w", err)
		}
	}
	return nil
}

// GetRanking retrieves a user's stored ranks
func (r *Repository) GetRanking(ctx context.Context, userID string) (*domain.UserRanking, error) {
	query := `
		SELECT user_id, total_rank, submission_rank, distribution_rank
		FROM user_rankings
		WHERE user_id = $1
	`
	var rk domain.UserRanking
	err := r.pool.QueryRow(ctx, query, userID).Scan(&rk.UserID, &rk.Total, &rk.Submission, &rk.Distribution)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting ranking: %w", err)
	}
	return &rk, nil
}
