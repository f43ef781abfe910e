package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/template-scoreboard/internal/domain"
)

// LoadBuckets retrieves every persisted leaderboard bucket. Rows with an
// unknown bucket name are skipped.
func (r *Repository) LoadBuckets(ctx context.Context) ([]domain.BucketRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT bucket, templates, examples, updated_at FROM leaderboard_buckets`)
	if err != nil {
		return nil, fmt.Errorf("loading buckets: %w", err)
	}
	defer rows.Close()

	var records []domain.BucketRecord
	for rows.Next() {
		var (
			name                string
			templates, examples []byte
			updatedAt           *time.Time
		)
		if err := rows.Scan(&name, &templates, &examples, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning bucket: %w", err)
		}

		bucket, err := domain.ParseBucket(name)
		if err != nil {
			r.logger.Warn("skipping unknown leaderboard bucket", "bucket", name)
			continue
		}
		rec := domain.BucketRecord{Bucket: bucket}
		if err := json.Unmarshal(templates, &rec.Templates); err != nil {
			return nil, fmt.Errorf("decoding %s templates: %w", name, err)
		}
		if err := json.Unmarshal(examples, &rec.Examples); err != nil {
			return nil, fmt.Errorf("decoding %s examples: %w", name, err)
		}
		if updatedAt != nil {
			rec.UpdatedAt = *updatedAt
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveBuckets upserts bucket records in one batch
func (r *Repository) SaveBuckets(ctx context.Context, records []domain.BucketRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO leaderboard_buckets (bucket, templates, examples, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucket)
		DO UPDATE SET templates = $2, examples = $3, updated_at = $4
	`
	for _, rec := range records {
		templates, err := json.Marshal(rec.Templates)
		if err != nil {
			return fmt.Errorf("encoding %s templates: %w", rec.Bucket, err)
		}
		examples, err := json.Marshal(rec.Examples)
		if err != nil {
			return fmt.Errorf("encoding %s examples: %w", rec.Bucket, err)
		}
		batch.Queue(query, rec.Bucket.String(), templates, examples, rec.UpdatedAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("saving buckets: %w", err)
		}
	}
	return nil
}
