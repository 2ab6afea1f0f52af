// Package newsapi implements the NewsAPI content source.
package newsapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/sources"
)

const (
	// DefaultBaseURL is the default NewsAPI endpoint root.
	DefaultBaseURL = "https://newsapi.org/v2"

	// DefaultRateLimit is the default requests per second.
	DefaultRateLimit = 2.0

	apiKeyHeader = "X-Api-Key"
	sourceName   = "NewsAPI"

	// removedTitle marks articles withdrawn by the publisher.
	removedTitle = "[Removed]"
)

// Config contains configuration options for the NewsAPI client.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Enabled   bool
}

// Client implements sources.Adapter for NewsAPI.
type Client struct {
	httpClient *sources.HTTPClient
	config     Config
}

// Compile-time check that Client implements sources.Adapter.
var _ sources.Adapter = (*Client)(nil)

// NewClient creates a NewsAPI client. If httpClient is nil, one is created
// from cfg. A provided httpClient must already carry the API key header.
func NewClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = sources.DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if httpClient == nil {
		httpClient = sources.NewHTTPClient(HTTPClientConfig(cfg), nil)
	}
	return &Client{httpClient: httpClient, config: cfg}
}

// HTTPClientConfig returns the HTTP settings for cfg, including the API key header.
func HTTPClientConfig(cfg Config) sources.HTTPClientConfig {
	return sources.HTTPClientConfig{
		Source:       sourceName,
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		APIKey:       cfg.APIKey,
		APIKeyHeader: apiKeyHeader,
	}
}

// Name returns the source name.
func (c *Client) Name() string { return sourceName }

// IsEnabled reports whether the source is enabled and has an API key.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// Fetch searches NewsAPI for articles about topic.
// Articles without a title or description are skipped.
func (c *Client) Fetch(ctx context.Context, topic string, limit int) ([]domain.RawArticle, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := sources.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", topic)
	q.Set("language", "en")
	q.Set("sortBy", "relevancy")
	q.Set("pageSize", strconv.Itoa(limit))

	var resp everythingResponse
	if err := c.httpClient.GetJSON(ctx, "everything", c.config.BaseURL+"/everything?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		message := resp.Message
		if message == "" {
			message = "unexpected status " + strconv.Quote(resp.Status)
		}
		return nil, domain.NewExternalAPIError(sourceName, http.StatusOK, message, nil)
	}

	articles := make([]domain.RawArticle, 0, limit)
	for _, a := range resp.Articles {
		if len(articles) >= limit {
			break
		}
		title := strings.TrimSpace(a.Title)
		description := sources.PlainText(a.Description)
		if title == "" || title == removedTitle || description == "" {
			continue
		}
		text := description
		if content := sources.PlainText(a.Content); content != "" {
			text += " " + content
		}
		articles = append(articles, domain.RawArticle{
			Title:  title,
			URL:    a.URL,
			Text:   text,
			Source: sourceName,
		})
	}
	return articles, nil
}
