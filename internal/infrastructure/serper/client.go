package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://google.serper.dev"
	defaultLimit   = 25
)

// Config holds configuration for the Serper client
type Config struct {
	APIKey       string
	BaseURL      string
	Country      string
	Language     string
	Rate         float64 // requests per second
	Burst        int
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

// Client handles communication with the Serper Google search API
type Client struct {
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	country      string
	language     string
	rateLimiter  *rate.Limiter
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewClient creates a new Serper API client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		country:      cfg.Country,
		language:     cfg.Language,
		rateLimiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger.With(zap.String("component", "serper")),
	}
}

// Search returns listings for one marketplace. Shopping results come first,
// topped up with organic results from the same response; when neither yields
// a listing on the marketplace the plain web search is tried.
func (c *Client) Search(ctx context.Context, req domain.SearchRequest) ([]domain.Candidate, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	q := strings.TrimSpace(req.Query)
	if req.Marketplace.Domain != "" {
		q = fmt.Sprintf("%s site:%s", q, req.Marketplace.Domain)
	}

	resp, err := c.post(ctx, "/shopping", searchPayload{Q: q, GL: c.country, HL: c.language, Num: limit})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrRateLimited) {
			return nil, err
		}
		c.logger.Warn("shopping search failed, trying web search",
			zap.String("marketplace", req.Marketplace.Name), zap.Error(err))
		resp = &searchResponse{}
	}

	candidates := MapShopping(resp.Shopping, req.Marketplace, limit)
	if len(candidates) < limit {
		candidates = append(candidates, MapOrganic(resp.Organic, req.Marketplace, limit-len(candidates))...)
	}
	if len(candidates) > 0 {
		c.logger.Debug("shopping results",
			zap.String("marketplace", req.Marketplace.Name), zap.Int("candidates", len(candidates)))
		return candidates, nil
	}

	c.logger.Info("no shopping results, falling back to web search", zap.String("marketplace", req.Marketplace.Name))
	resp, err = c.post(ctx, "/search", searchPayload{Q: q, GL: c.country, HL: c.language, Num: limit})
	if err != nil {
		return nil, err
	}
	return MapOrganic(resp.Organic, req.Marketplace, limit), nil
}

// post sends one search request, retrying rate limiting and server errors
// with exponential backoff.
func (c *Client) post(ctx context.Context, path string, payload searchPayload) (*searchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		// Wait for rate limiter
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		resp, err := c.doRequest(ctx, path, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("request error", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var out searchResponse
			if err := json.Unmarshal(respBody, &out); err != nil {
				return nil, fmt.Errorf("%w: failed to decode response: %v", domain.ErrSearchProvider, err)
			}
			return &out, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: %w: status 429", domain.ErrSearchProvider, domain.ErrRateLimited)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: status %d", domain.ErrSearchProvider, resp.StatusCode)
		default:
			// Client errors (bad key, bad payload) do not improve on retry
			return nil, fmt.Errorf("%w: status %d, body: %s", domain.ErrSearchProvider, resp.StatusCode, truncate(string(respBody), 200))
		}
		c.logger.Debug("api error", zap.String("path", path), zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
	}

	return nil, lastErr
}

// doRequest executes an HTTP POST with the API key header
func (c *Client) doRequest(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PriceLens/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchProvider, err)
	}
	return resp, nil
}

// backoff is base·2^(n-1) for the n-th retry
func (c *Client) backoff(n int) time.Duration {
	return c.retryBackoff * time.Duration(1<<(n-1))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.SearchProvider = (*Client)(nil)
