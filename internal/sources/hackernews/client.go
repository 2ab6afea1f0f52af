// Package hackernews implements the HackerNews content source via the Algolia search API.
package hackernews

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/sources"
)

const (
	// DefaultBaseURL is the default Algolia HN API root.
	DefaultBaseURL = "https://hn.algolia.com/api/v1"

	// DefaultRateLimit is the default requests per second.
	DefaultRateLimit = 5.0

	itemURLPrefix = "https://news.ycombinator.com/item?id="
	sourceName    = "HackerNews"
)

// Config contains configuration options for the HackerNews client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Enabled   bool
}

// Client implements sources.Adapter for HackerNews.
type Client struct {
	httpClient *sources.HTTPClient
	config     Config
}

// Compile-time check that Client implements sources.Adapter.
var _ sources.Adapter = (*Client)(nil)

// NewClient creates a HackerNews client. If httpClient is nil, one is created from cfg.
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

// HTTPClientConfig returns the HTTP settings for cfg.
func HTTPClientConfig(cfg Config) sources.HTTPClientConfig {
	return sources.HTTPClientConfig{
		Source:    sourceName,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
	}
}

// Name returns the source name.
func (c *Client) Name() string { return sourceName }

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool { return c.config.Enabled }

// Fetch searches HackerNews stories matching topic.
func (c *Client) Fetch(ctx context.Context, topic string, limit int) ([]domain.RawArticle, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := sources.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("query", topic)
	q.Set("tags", "story")
	q.Set("hitsPerPage", strconv.Itoa(limit))

	var resp searchResponse
	if err := c.httpClient.GetJSON(ctx, "search", c.config.BaseURL+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	articles := make([]domain.RawArticle, 0, limit)
	for _, h := range resp.Hits {
		if len(articles) >= limit {
			break
		}
		title := strings.TrimSpace(h.Title)
		if title == "" {
			continue
		}
		link := h.URL
		if link == "" {
			link = itemURLPrefix + h.ObjectID
		}
		text := sources.PlainText(h.StoryText)
		if text == "" {
			text = title
		}
		articles = append(articles, domain.RawArticle{
			Title:  title,
			URL:    link,
			Text:   text,
			Source: sourceName,
		})
	}
	return articles, nil
}
