// Package contentapi talks to the external content platform: it reads live
// item scores and posts final-score messages.
package contentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
	"github.com/template-scoreboard/internal/metrics"
)

// Client is a rate limited HTTP client for the content API
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient creates a new content API client
func NewClient(cfg *config.ContentAPIConfig, logger *slog.Logger) *Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: cfg.Timeout}, logger)
}

// NewClientWithHTTP creates a client using the given HTTP client
func NewClientWithHTTP(cfg *config.ContentAPIConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:    logger,
	}
}

type scoreResponse struct {
	Score int64 `json:"score"`
}

// GetScore returns the current score of an item. Deleted content maps to
// domain.ErrContentDeleted, throttling and server errors wrap
// domain.ErrSourceUnavailable.
func (c *Client) GetScore(ctx context.Context, itemID string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(itemID), nil)
	if err != nil {
		metrics.ScoreSourceRequests.WithLabelValues("error").Inc()
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		metrics.ScoreSourceRequests.WithLabelValues("deleted").Inc()
		c.logger.Debug("item deleted upstream", "item_id", itemID, "status", resp.StatusCode)
		return 0, fmt.Errorf("item %s: %w", itemID, domain.ErrContentDeleted)
	case resp.StatusCode != http.StatusOK:
		metrics.ScoreSourceRequests.WithLabelValues("error").Inc()
		return 0, statusError(resp)
	}

	var body scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.ScoreSourceRequests.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("decoding score response: %w", err)
	}

	metrics.ScoreSourceRequests.WithLabelValues("ok").Inc()
	return body.Score, nil
}

// Notify posts the final score of an item to its reply message. Items
// without a notify target are skipped.
func (c *Client) Notify(ctx context.Context, item domain.FinalizedItem) error {
	if item.NotifyTargetID == "" {
		return nil
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling finalized item: %w", err)
	}

	path := "/messages/" + url.PathEscape(item.NotifyTargetID) + "/final-score"
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrSourceUnavailable, err)
	}
	return resp, nil
}

// statusError describes an unexpected response. 429 and 5xx are marked
// unavailable so callers retry them.
func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("status %d: %w: %s", resp.StatusCode, domain.ErrSourceUnavailable, msg)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}
