package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
)

// ErrCacheMiss is returned when a key is not cached
var ErrCacheMiss = errors.New("cache miss")

const liveScoresKey = "scoreboard:tracking:live"

// Cache holds the Redis-side views of the engine: the live score set of
// tracked items, bucket snapshots and user ledgers.
type Cache struct {
	client    *redis.Client
	ledgerTTL time.Duration
	bucketTTL time.Duration
	logger    *slog.Logger
}

// LiveScore is an in-flight item and its latest refreshed score
type LiveScore struct {
	ItemID string `json:"item_id"`
	Score  int64  `json:"score"`
}

// NewCache connects to Redis
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{
		client:    client,
		ledgerTTL: cfg.LedgerTTL,
		bucketTTL: cfg.BucketTTL,
		logger:    logger,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// bucketKey returns the Redis key for a cached bucket snapshot
func bucketKey(bucket domain.Bucket) string {
	return fmt.Sprintf("scoreboard:bucket:%s", bucket)
}

// ledgerKey returns the Redis key for a cached user ledger
func ledgerKey(userID string) string {
	return fmt.Sprintf("scoreboard:user:%s:ledger", userID)
}

// SetLiveScore records an item's latest score in the live sorted set
func (c *Cache) SetLiveScore(ctx context.Context, itemID string, score int64) error {
	err := c.client.ZAdd(ctx, liveScoresKey, redis.Z{
		Score:  float64(score),
		Member: itemID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting live score: %w", err)
	}
	return nil
}

// RemoveLiveScore drops a finalized or cancelled item from the live set
func (c *Cache) RemoveLiveScore(ctx context.Context, itemID string) error {
	if err := c.client.ZRem(ctx, liveScoresKey, itemID).Err(); err != nil {
		return fmt.Errorf("removing live score: %w", err)
	}
	return nil
}

// TopLive returns the n highest scoring tracked items
func (c *Cache) TopLive(ctx context.Context, n int) ([]LiveScore, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, liveScoresKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top live scores: %w", err)
	}

	scores := make([]LiveScore, len(results))
	for i, result := range results {
		scores[i] = LiveScore{
			ItemID: result.Member.(string),
			Score:  int64(result.Score),
		}
	}
	return scores, nil
}

// PublishBucket caches a saved bucket for readers. Snapshots expire after
// bucketTTL, and a failed write drops the old snapshot so readers fall back
// to the store instead of serving a stale bucket.
func (c *Cache) PublishBucket(ctx context.Context, rec domain.BucketRecord) error {
	key := bucketKey(rec.Bucket)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding bucket: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.bucketTTL).Err(); err != nil {
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("failed to drop stale bucket snapshot", "bucket", rec.Bucket.String(), "error", delErr)
		}
		return fmt.Errorf("caching bucket: %w", err)
	}
	return nil
}

// GetBucket returns a cached bucket snapshot or ErrCacheMiss
func (c *Cache) GetBucket(ctx context.Context, bucket domain.Bucket) (*domain.BucketRecord, error) {
	data, err := c.client.Get(ctx, bucketKey(bucket)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("getting cached bucket: %w", err)
	}

	var rec domain.BucketRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding cached bucket: %w", err)
	}
	return &rec, nil
}

// CacheLedger stores a user's ledger with the configured TTL
func (c *Cache) CacheLedger(ctx context.Context, entry domain.LedgerEntry) error {
	key := ledgerKey(entry.UserID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key,
		"username", entry.Username,
		"submission_score", entry.SubmissionScore,
		"distribution_score", entry.DistributionScore,
		"total_score", entry.TotalScore,
	)
	if c.ledgerTTL > 0 {
		pipe.Expire(ctx, key, c.ledgerTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching ledger: %w", err)
	}
	return nil
}

// GetCachedLedger returns a cached user ledger or ErrCacheMiss
func (c *Cache) GetCachedLedger(ctx context.Context, userID string) (*domain.LedgerEntry, error) {
	result, err := c.client.HGetAll(ctx, ledgerKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting cached ledger: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrCacheMiss
	}
	return ledgerFromHash(userID, result)
}

// InvalidateLedgers drops the cached ledgers of the given users
func (c *Cache) InvalidateLedgers(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = ledgerKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidating ledgers: %w", err)
	}
	return nil
}

// Notify invalidates the ledgers a finalized item credited
func (c *Cache) Notify(ctx context.Context, item domain.FinalizedItem) error {
	ids := make([]string, 0, len(item.Payouts))
	for _, p := range item.Payouts {
		ids = append(ids, p.UserID)
	}
	return c.InvalidateLedgers(ctx, ids...)
}
