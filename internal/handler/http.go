package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/redis"
	"github.com/template-scoreboard/internal/service"
	"github.com/template-scoreboard/internal/websocket"
)

// TrackingAPI is the tracking and user surface of the engine
type TrackingAPI interface {
	Track(ctx context.Context, req domain.TrackRequest) (*domain.TrackedItem, error)
	Cancel(ctx context.Context, itemID string) error
	Tracked() []domain.TrackedItem
	TrackedItem(itemID string) (*domain.TrackedItem, error)
	User(ctx context.Context, userID string) (*service.UserProfile, error)
	UserScore(ctx context.Context, userID string) (*domain.UserScore, error)
}

// Leaderboards reads the in-memory buckets
type Leaderboards interface {
	Snapshot(bucket domain.Bucket) (domain.BucketRecord, error)
	Snapshots() []domain.BucketRecord
}

// ReadCache serves cached buckets and live scores
type ReadCache interface {
	GetBucket(ctx context.Context, bucket domain.Bucket) (*domain.BucketRecord, error)
	TopLive(ctx context.Context, n int) ([]redis.LiveScore, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the scoreboard API
type Handler struct {
	tracking TrackingAPI
	boards   Leaderboards
	cache    ReadCache
	hub      *websocket.Hub
	checks   map[string]Pinger
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(tracking TrackingAPI, boards Leaderboards, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		tracking: tracking,
		boards:   boards,
		hub:      hub,
		checks:   make(map[string]Pinger),
		logger:   logger,
	}
}

// SetCache enables cached reads of buckets and live scores
func (h *Handler) SetCache(cache ReadCache) {
	h.cache = cache
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// LeaderboardView is the public form of a bucket: live entries only
type LeaderboardView struct {
	Bucket    string                    `json:"bucket"`
	Templates []domain.LeaderboardEntry `json:"templates"`
	Examples  []domain.LeaderboardEntry `json:"examples"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

func viewOf(rec domain.BucketRecord) LeaderboardView {
	return LeaderboardView{
		Bucket:    rec.Bucket.String(),
		Templates: rec.Live(domain.ListTemplates),
		Examples:  rec.Live(domain.ListExamples),
		UpdatedAt: rec.UpdatedAt,
	}
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/leaderboards", func(r chi.Router) {
			r.Get("/", h.ListLeaderboards)
			r.Get("/{bucket}", h.GetLeaderboard)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Get("/score", h.GetUserScore)
		})

		r.Route("/tracking", func(r chi.Router) {
			r.Get("/", h.ListTracking)
			r.Post("/", h.Track)
			r.Get("/live", h.GetLiveScores)
			r.Get("/{itemID}", h.GetTracking)
			r.Delete("/{itemID}", h.CancelTracking)
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors to status codes; anything unknown is
// logged and reported as an internal error
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrItemTooOld):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrAlreadyTracked):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.TotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   "not ready",
		})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// ListLeaderboards returns every bucket
func (h *Handler) ListLeaderboards(w http.ResponseWriter, r *http.Request) {
	records := h.boards.Snapshots()
	views := make([]LeaderboardView, len(records))
	for i, rec := range records {
		views[i] = viewOf(rec)
	}
	h.writeSuccess(w, views)
}

// GetLeaderboard returns one bucket, preferring the cached copy
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	bucket, err := domain.ParseBucket(chi.URLParam(r, "bucket"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}

	if h.cache != nil {
		rec, err := h.cache.GetBucket(r.Context(), bucket)
		if err == nil {
			h.writeSuccess(w, viewOf(*rec))
			return
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			h.logger.Warn("bucket cache read failed", "bucket", bucket, "error", err)
		}
	}

	rec, err := h.boards.Snapshot(bucket)
	if err != nil {
		h.writeServiceError(w, "get leaderboard", err)
		return
	}
	h.writeSuccess(w, viewOf(rec))
}

// GetUser returns a user's ledger and ranks
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	profile, err := h.tracking.User(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get user", err)
		return
	}
	h.writeSuccess(w, profile)
}

// GetUserScore returns a user's stored and pending score
func (h *Handler) GetUserScore(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	score, err := h.tracking.UserScore(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get user score", err)
		return
	}
	h.writeSuccess(w, score)
}

// ListTracking returns every tracked item
func (h *Handler) ListTracking(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.tracking.Tracked())
}

// GetTracking returns one tracked item
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	item, err := h.tracking.TrackedItem(chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeServiceError(w, "get tracking", err)
		return
	}
	h.writeSuccess(w, item)
}

// Track starts tracking a new item
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req domain.TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	item, err := h.tracking.Track(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "track", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    item,
	})
}

// CancelTracking stops tracking an item without credit
func (h *Handler) CancelTracking(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	if err := h.tracking.Cancel(r.Context(), itemID); err != nil {
		h.writeServiceError(w, "cancel tracking", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cancelled"})
}

// GetLiveScores returns the highest scoring items still being tracked
func (h *Handler) GetLiveScores(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeSuccess(w, []redis.LiveScore{})
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	scores, err := h.cache.TopLive(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "live scores", err)
		return
	}
	h.writeSuccess(w, scores)
}
