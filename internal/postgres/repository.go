package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/template-scoreboard/internal/config"
)

// pgxPool is the part of *pgxpool.Pool the repository uses
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Repository provides PostgreSQL-based data access for tracking records,
// user ledgers, rankings and leaderboard buckets
type Repository struct {
	pool   pgxPool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		// Mandatory columns are nullable so partially written rows can be
		// loaded and cleaned up instead of failing the scan.
		`CREATE TABLE IF NOT EXISTS tracking (
			item_id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(16),
			owner_user_id VARCHAR(64),
			creator_user_id VARCHAR(64),
			template_id VARCHAR(64),
			username VARCHAR(255),
			title TEXT,
			permalink TEXT,
			created_at TIMESTAMPTZ,
			deadline TIMESTAMPTZ,
			score BIGINT NOT NULL DEFAULT 0,
			last_update TIMESTAMPTZ,
			notify_target_id VARCHAR(64),
			finalized BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			submission_score BIGINT NOT NULL DEFAULT 0,
			distribution_score BIGINT NOT NULL DEFAULT 0,
			total_score BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CHECK (total_score = submission_score + distribution_score)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id BIGSERIAL PRIMARY KEY,
			item_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			field VARCHAR(32) NOT NULL,
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_rankings (
			user_id VARCHAR(64) PRIMARY KEY,
			total_rank INT NOT NULL,
			submission_rank INT NOT NULL,
			distribution_rank INT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_buckets (
			bucket VARCHAR(16) PRIMARY KEY,
			templates JSONB NOT NULL,
			examples JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_deadline ON tracking(deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_users_total ON users(total_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_user ON ledger_events(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_item ON ledger_events(item_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}
