// Package metrics declares the Prometheus collectors shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsTracked counts items accepted for tracking by kind and origin
	ItemsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_items_tracked_total",
		Help: "Items accepted for tracking by kind and origin",
	}, []string{"kind", "origin"})

	// QueueSize reports the number of items in the expiry queue
	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scoreboard_queue_size",
		Help: "Items currently in the expiry queue",
	})

	// CycleDuration tracks tracker cycle latency
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scoreboard_cycle_duration_seconds",
		Help:    "Tracker cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// ItemResults counts per-item cycle outcomes
	ItemResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_cycle_item_results_total",
		Help: "Per-item cycle outcomes",
	}, []string{"outcome"})

	// Finalized counts items finalized by kind
	Finalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_items_finalized_total",
		Help: "Items finalized by kind",
	}, []string{"kind"})

	// FinalizeErrors counts finalize step failures by step
	FinalizeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_finalize_errors_total",
		Help: "Finalize failures by step",
	}, []string{"step"})

	// PointsCredited counts points credited to ledgers by field
	PointsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_points_credited_total",
		Help: "Points credited to user ledgers by field",
	}, []string{"field"})

	// LeaderboardUpdates counts bucket modifications by bucket and cause
	LeaderboardUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_leaderboard_updates_total",
		Help: "Leaderboard bucket modifications by bucket and cause",
	}, []string{"bucket", "cause"})

	// ScoreSourceRequests counts content API score lookups by result
	ScoreSourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_score_source_requests_total",
		Help: "Score lookups against the content API by result",
	}, []string{"result"})

	// RecoveredItems counts records seen by the recovery loader by result
	RecoveredItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scoreboard_recovered_items_total",
		Help: "Tracking records processed at startup by result",
	}, []string{"result"})
)
