package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/template-scoreboard/internal/domain"
)

const trackingColumns = `item_id, kind, owner_user_id, creator_user_id, template_id, username,
	title, permalink, created_at, deadline, score, last_update, notify_target_id, finalized`

// PutTracking inserts or replaces a tracking record. The finalized flag of an
// existing row is never cleared.
func (r *Repository) PutTracking(ctx context.Context, rec domain.TrackingRecord) error {
	query := `
		INSERT INTO tracking (` + trackingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (item_id)
		DO UPDATE SET
			kind = EXCLUDED.kind,
			owner_user_id = EXCLUDED.owner_user_id,
			creator_user_id = EXCLUDED.creator_user_id,
			template_id = EXCLUDED.template_id,
			username = EXCLUDED.username,
			title = EXCLUDED.title,
			permalink = EXCLUDED.permalink,
			created_at = EXCLUDED.created_at,
			deadline = EXCLUDED.deadline,
			score = EXCLUDED.score,
			last_update = EXCLUDED.last_update,
			notify_target_id = EXCLUDED.notify_target_id,
			finalized = tracking.finalized OR EXCLUDED.finalized
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ItemID,
		nullable(string(rec.Kind)),
		nullable(rec.OwnerUserID),
		nullable(rec.CreatorUserID),
		nullable(rec.TemplateID),
		nullable(rec.Username),
		nullable(rec.Title),
		nullable(rec.Permalink),
		rec.CreatedAt,
		rec.Deadline,
		rec.Score,
		rec.LastUpdate,
		nullable(rec.NotifyTargetID),
		rec.Finalized,
	)
	if err != nil {
		return fmt.Errorf("putting tracking record: %w", err)
	}
	return nil
}

// UpdateTrackingScore stores a refreshed score. It never creates a row, so a
// refresh racing a finalize cannot leave a partial record behind.
func (r *Repository) UpdateTrackingScore(ctx context.Context, itemID string, score int64, at time.Time) error {
	query := `
		UPDATE tracking SET score = $2, last_update = $3
		WHERE item_id = $1 AND finalized = FALSE
	`
	result, err := r.pool.Exec(ctx, query, itemID, score, at)
	if err != nil {
		return fmt.Errorf("updating tracking score: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTrackingNotFound
	}
	return nil
}

// ScanTracking returns every tracking record
func (r *Repository) ScanTracking(ctx context.Context) ([]domain.TrackingRecord, error) {
	query := `SELECT ` + trackingColumns + ` FROM tracking ORDER BY deadline NULLS FIRST`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scanning tracking table: %w", err)
	}
	defer rows.Close()

	var records []domain.TrackingRecord
	for rows.Next() {
		rec, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tracking record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning tracking table: %w", err)
	}
	return records, nil
}

// DeleteTracking removes a tracking record; a missing row is not an error
func (r *Repository) DeleteTracking(ctx context.Context, itemID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tracking WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("deleting tracking record: %w", err)
	}
	return nil
}

// CommitFinalization flips the record's finalized flag and applies every
// payout in one transaction. When the flag is already set, or the row is
// gone, nothing is credited and false is returned.
func (r *Repository) CommitFinalization(ctx context.Context, itemID string, finalScore int64, payouts []domain.Payout) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("beginning finalize transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	result, err := tx.Exec(ctx, `
		UPDATE tracking SET finalized = TRUE, score = $2, last_update = $3
		WHERE item_id = $1 AND finalized = FALSE
	`, itemID, finalScore, now)
	if err != nil {
		return false, fmt.Errorf("marking item finalized: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if len(payouts) > 0 {
		batch := &pgx.Batch{}
		for _, p := range payouts {
			sub, dist := creditColumns(p)
			batch.Queue(`
				INSERT INTO users (user_id, submission_score, distribution_score, total_score, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $5)
				ON CONFLICT (user_id)
				DO UPDATE SET
					submission_score = users.submission_score + EXCLUDED.submission_score,
					distribution_score = users.distribution_score + EXCLUDED.distribution_score,
					total_score = users.total_score + EXCLUDED.total_score,
					updated_at = EXCLUDED.updated_at
			`, p.UserID, sub, dist, sub+dist, now)
			batch.Queue(`
				INSERT INTO ledger_events (item_id, user_id, field, amount, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, itemID, p.UserID, string(p.Field), p.Amount, now)
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return false, fmt.Errorf("crediting ledgers: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return false, fmt.Errorf("crediting ledgers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing finalization: %w", err)
	}
	return true, nil
}

// creditColumns splits a payout into submission and distribution deltas
func creditColumns(p domain.Payout) (submission, distribution int64) {
	switch p.Field {
	case domain.FieldSubmission:
		return p.Amount, 0
	case domain.FieldDistribution:
		return 0, p.Amount
	}
	return 0, 0
}

func scanTracking(row pgx.Row) (domain.TrackingRecord, error) {
	var (
		rec                                      domain.TrackingRecord
		kind, owner, creator, template, username *string
		title, permalink, notify                 *string
	)
	err := row.Scan(
		&rec.ItemID,
		&kind,
		&owner,
		&creator,
		&template,
		&username,
		&title,
		&permalink,
		&rec.CreatedAt,
		&rec.Deadline,
		&rec.Score,
		&rec.LastUpdate,
		&notify,
		&rec.Finalized,
	)
	if err != nil {
		return rec, err
	}
	rec.Kind = domain.Kind(deref(kind))
	rec.OwnerUserID = deref(owner)
	rec.CreatorUserID = deref(creator)
	rec.TemplateID = deref(template)
	rec.Username = deref(username)
	rec.Title = deref(title)
	rec.Permalink = deref(permalink)
	rec.NotifyTargetID = deref(notify)
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
