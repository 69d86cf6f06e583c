package acer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/services/fetch"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// ErrNoResult is returned when the catalog answers with a non-200 status
// or without the expected top-level key
var ErrNoResult = errors.New("no result from catalog API")

// Default series type for direct URL resolution
const SeriesTypeEpisode = "episode"

// SearchResult is one catalog search hit
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Image string `json:"image,omitempty"`
}

// Quality is one quality/season option of a catalog item
type Quality struct {
	Title       string `json:"title"`
	Quality     string `json:"quality,omitempty"`
	URL         string `json:"url,omitempty"`
	EpisodesURL string `json:"episodesUrl,omitempty"`
	BatchURL    string `json:"batchUrl,omitempty"`
}

// Episode is one downloadable episode
type Episode struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Client calls the catalog API. Search, quality and episode listings are
// cached; direct URLs are not since they tend to be short-lived.
type Client struct {
	baseURL string
	fetch   *fetch.Client
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewClient creates a new catalog client
func NewClient(cfg *config.Config, fc *fetch.Client, m *metrics.Metrics, logger *logrus.Logger) (*Client, error) {
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("catalog API base URL is required")
	}
	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid catalog API base URL: %w", err)
	}

	ttl := cfg.APICacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		fetch:   fc,
		cache:   cache.New(ttl, 2*ttl),
		metrics: m,
		logger:  logger,
	}, nil
}

// Search queries the catalog by title
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return cached[[]SearchResult](ctx, c, "search", "/search", "searchResult",
		map[string]string{"searchQuery": query})
}

// Qualities lists the quality/season options of a catalog item
func (c *Client) Qualities(ctx context.Context, itemURL string) ([]Quality, error) {
	return cached[[]Quality](ctx, c, "qualities", "/sourceQuality", "sourceQualityList",
		map[string]string{"url": itemURL})
}

// Episodes lists the episodes behind an episodes URL
func (c *Client) Episodes(ctx context.Context, episodesURL string) ([]Episode, error) {
	return cached[[]Episode](ctx, c, "episodes", "/sourceEpisodes", "sourceEpisodes",
		map[string]string{"url": episodesURL})
}

// SourceURL resolves the direct download URL, percent-decoded
func (c *Client) SourceURL(ctx context.Context, sourceURL, seriesType string) (string, error) {
	if seriesType == "" {
		seriesType = SeriesTypeEpisode
	}

	encoded, err := call[string](ctx, c, "source_url", "/sourceUrl", "sourceUrl",
		map[string]string{"url": sourceURL, "seriesType": seriesType})
	if err != nil {
		return "", err
	}

	direct, err := url.PathUnescape(encoded)
	if err != nil {
		c.logger.WithError(err).Debug("Source URL is not percent-encoded, using it as is")
		return encoded, nil
	}
	return direct, nil
}

func cached[T any](ctx context.Context, c *Client, op, path, key string, payload map[string]string) (T, error) {
	cacheKey := op + ":" + cacheSuffix(payload)
	if v, ok := c.cache.Get(cacheKey); ok {
		c.logger.WithField("operation", op).Debug("Catalog cache hit")
		return v.(T), nil
	}

	result, err := call[T](ctx, c, op, path, key, payload)
	if err != nil {
		return result, err
	}
	c.cache.SetDefault(cacheKey, result)
	return result, nil
}

func call[T any](ctx context.Context, c *Client, op, path, key string, payload map[string]string) (T, error) {
	var zero T
	start := time.Now()

	resp, err := c.fetch.Do(ctx, fetch.Request{
		URL:    c.baseURL + path,
		Method: http.MethodPost,
		Headers: map[string]string{
			"Accept": "application/json",
		},
		Payload: payload,
	})
	if err != nil {
		c.metrics.ObserveUpstream(op, "network_error", time.Since(start))
		return zero, fmt.Errorf("catalog %s request failed: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.ObserveUpstream(op, "bad_status", time.Since(start))
		c.logger.WithFields(logrus.Fields{
			"operation":   op,
			"status_code": resp.StatusCode,
		}).Warn("Catalog API returned non-OK status")
		return zero, fmt.Errorf("%w: %s returned status %d", ErrNoResult, op, resp.StatusCode)
	}

	var envelope map[string]json.RawMessage
	if err := resp.Decode(&envelope); err != nil {
		c.metrics.ObserveUpstream(op, "no_result", time.Since(start))
		return zero, fmt.Errorf("%w: %s returned an unexpected body", ErrNoResult, op)
	}

	raw, ok := envelope[key]
	if !ok || isEmpty(raw) {
		c.metrics.ObserveUpstream(op, "no_result", time.Since(start))
		return zero, fmt.Errorf("%w: %s response has no %s", ErrNoResult, op, key)
	}

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		c.metrics.ObserveUpstream(op, "no_result", time.Since(start))
		return zero, fmt.Errorf("%w: failed to parse %s: %v", ErrNoResult, key, err)
	}

	c.metrics.ObserveUpstream(op, "ok", time.Since(start))
	return result, nil
}

// isEmpty mirrors a falsy check: null, "", [] and {} all count as no result
func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "[]", "{}", "false":
		return true
	}
	return false
}

func cacheSuffix(payload map[string]string) string {
	data, _ := json.Marshal(payload)
	return string(data)
}
