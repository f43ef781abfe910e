package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	ContentAPI  ContentAPIConfig  `yaml:"content_api"`
	Ranking     RankingConfig     `yaml:"ranking"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	LedgerTTL    time.Duration `yaml:"ledger_ttl"`
	BucketTTL    time.Duration `yaml:"bucket_ttl"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration.
// TrackTopic carries track requests from the upstream bot glue,
// FinalizedTopic receives one event per finalized item.
type KafkaConfig struct {
	Brokers          []string      `yaml:"brokers"`
	TrackTopic       string        `yaml:"track_topic"`
	FinalizedTopic   string        `yaml:"finalized_topic"`
	GroupID          string        `yaml:"group_id"`
	Enabled          bool          `yaml:"enabled"`
	PublishFinalized bool          `yaml:"publish_finalized"`
	BatchSize        int           `yaml:"batch_size"`
	BatchTimeout     time.Duration `yaml:"batch_timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// TrackerConfig holds the tracking engine configuration
type TrackerConfig struct {
	TrackDuration  time.Duration `yaml:"track_duration"`
	CycleInterval  time.Duration `yaml:"cycle_interval"`
	MaxBatch       int           `yaml:"max_batch"`
	CommissionRate float64       `yaml:"commission_rate"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	FinalizeGrace  time.Duration `yaml:"finalize_grace"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	Capacity int `yaml:"capacity"`
}

// ContentAPIConfig holds the external content API client configuration
type ContentAPIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	UserAgent string        `yaml:"user_agent"`
}

// RankingConfig holds the user ranking worker configuration
type RankingConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

const defaultCommissionRate = 0.20

// Parse decodes YAML configuration, expanding environment variables first
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	// commission_rate: 0 is valid, so its default is seeded before decoding
	cfg := Config{Tracker: TrackerConfig{CommissionRate: defaultCommissionRate}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	if c.Tracker.CommissionRate < 0 || c.Tracker.CommissionRate > 1 {
		return fmt.Errorf("tracker.commission_rate must be within [0,1], got %v", c.Tracker.CommissionRate)
	}
	if c.Tracker.MaxBatch <= 0 {
		return errors.New("tracker.max_batch must be positive")
	}
	if c.Leaderboard.Capacity <= 0 {
		return errors.New("leaderboard.capacity must be positive")
	}
	if c.Tracker.TrackDuration <= 0 {
		return errors.New("tracker.track_duration must be positive")
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.LedgerTTL == 0 {
		c.Redis.LedgerTTL = 5 * time.Minute
	}
	if c.Redis.BucketTTL == 0 {
		c.Redis.BucketTTL = 10 * time.Minute
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.TrackTopic == "" {
		c.Kafka.TrackTopic = "scoreboard-track"
	}
	if c.Kafka.FinalizedTopic == "" {
		c.Kafka.FinalizedTopic = "scoreboard-finalized"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "scoreboard-tracker"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Tracker defaults
	if c.Tracker.TrackDuration == 0 {
		c.Tracker.TrackDuration = 24 * time.Hour
	}
	if c.Tracker.CycleInterval == 0 {
		c.Tracker.CycleInterval = 1 * time.Second
	}
	if c.Tracker.MaxBatch == 0 {
		c.Tracker.MaxBatch = 25
	}
	if c.Tracker.CallTimeout == 0 {
		c.Tracker.CallTimeout = 5 * time.Second
	}
	if c.Tracker.FinalizeGrace == 0 {
		c.Tracker.FinalizeGrace = 10 * time.Minute
	}

	// Leaderboard defaults
	if c.Leaderboard.Capacity == 0 {
		c.Leaderboard.Capacity = 10
	}

	// Content API defaults
	if c.ContentAPI.BaseURL == "" {
		c.ContentAPI.BaseURL = "http://localhost:9000/api"
	}
	if c.ContentAPI.Timeout == 0 {
		c.ContentAPI.Timeout = 5 * time.Second
	}
	if c.ContentAPI.RateLimit == 0 {
		c.ContentAPI.RateLimit = 10
	}
	if c.ContentAPI.Burst == 0 {
		c.ContentAPI.Burst = 5
	}
	if c.ContentAPI.UserAgent == "" {
		c.ContentAPI.UserAgent = "template-scoreboard/1.0"
	}

	// Ranking defaults
	if c.Ranking.Interval == 0 {
		c.Ranking.Interval = 10 * time.Minute
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{Tracker: TrackerConfig{CommissionRate: defaultCommissionRate}}
	cfg.applyDefaults()
	cfg.Ranking.Enabled = true
	return cfg
}
