package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/contentapi"
	"github.com/template-scoreboard/internal/handler"
	"github.com/template-scoreboard/internal/kafka"
	"github.com/template-scoreboard/internal/leaderboard"
	"github.com/template-scoreboard/internal/postgres"
	"github.com/template-scoreboard/internal/redis"
	"github.com/template-scoreboard/internal/service"
	"github.com/template-scoreboard/internal/tracker"
	"github.com/template-scoreboard/internal/websocket"
	"github.com/template-scoreboard/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL holds tracking records, ledgers and buckets
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	cache, err := redis.NewCache(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	defer cache.Close()

	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	board := leaderboard.NewStore(repo, cfg.Leaderboard.Capacity, logger)
	board.SetPublishers(cache, hub)
	if err := board.Load(ctx); err != nil {
		return fmt.Errorf("loading leaderboards: %w", err)
	}

	content := contentapi.NewClient(&cfg.ContentAPI, logger)

	trk := tracker.New(content, repo, board, &cfg.Tracker, logger)
	trk.SetLiveScores(cache)

	notifiers := []tracker.Notifier{content, cache, hub}
	if cfg.Kafka.PublishFinalized {
		publisher, err := kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create finalized event publisher, continuing without it", "error", err)
		} else {
			defer publisher.Close()
			notifiers = append(notifiers, publisher)
		}
	}
	trk.SetNotifiers(notifiers...)

	// Rebuild the queue before the first cycle runs
	report, err := tracker.NewRecoveryLoader(repo, trk, logger).Load(ctx)
	if err != nil {
		return fmt.Errorf("recovering tracked items: %w", err)
	}
	logger.Info("recovered tracked items",
		"scanned", report.Scanned,
		"restored", report.Restored,
		"orphans", report.Orphans,
		"skipped", report.Skipped,
	)

	trackingService := service.NewTrackingService(trk, repo, &cfg.Tracker, logger)
	trackingService.SetLedgerCache(cache)

	cycleWorker := worker.NewCycleWorker(trk, board, &cfg.Tracker, logger)
	if err := cycleWorker.Start(ctx); err != nil {
		return fmt.Errorf("starting cycle worker: %w", err)
	}
	defer cycleWorker.Stop()

	if cfg.Ranking.Enabled {
		rankingWorker := worker.NewRankingWorker(repo, &cfg.Ranking, logger)
		if err := rankingWorker.Start(ctx); err != nil {
			return fmt.Errorf("starting ranking worker: %w", err)
		}
		defer rankingWorker.Stop()
	}

	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.TrackTopic,
		)
		consumer, err := kafka.NewConsumer(&cfg.Kafka, trackingService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := consumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
		} else {
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.Error("failed to stop Kafka consumer", "error", err)
				}
			}()
		}
	}

	httpHandler := handler.NewHandler(trackingService, board, hub, logger)
	httpHandler.SetCache(cache)
	httpHandler.AddReadinessCheck("postgres", repo)
	httpHandler.AddReadinessCheck("redis", cache)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
