// Package reddit implements the Reddit content source using the public JSON search API.
package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/sources"
)

const (
	// DefaultBaseURL is the default Reddit host.
	DefaultBaseURL = "https://www.reddit.com"

	// DefaultRateLimit is the default requests per second.
	DefaultRateLimit = 1.0

	// DefaultUserAgent identifies the service to Reddit.
	DefaultUserAgent = "research-agent-service/1.0"

	// postsPerSubreddit is the number of posts requested from each subreddit.
	postsPerSubreddit = 2

	permalinkPrefix = "https://reddit.com"
	sourceName      = "Reddit"
)

// DefaultSubreddits are searched in order until the limit is reached.
var DefaultSubreddits = []string{"technology", "science", "news", "worldnews", "todayilearned"}

// Config contains configuration options for the Reddit client.
type Config struct {
	BaseURL    string
	Subreddits []string
	UserAgent  string
	Timeout    time.Duration
	RateLimit  float64
	Enabled    bool
}

// Client implements sources.Adapter for Reddit.
type Client struct {
	httpClient *sources.HTTPClient
	config     Config
}

// Compile-time check that Client implements sources.Adapter.
var _ sources.Adapter = (*Client)(nil)

// NewClient creates a Reddit client. If httpClient is nil, one is created from cfg.
func NewClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Subreddits) == 0 {
		cfg.Subreddits = DefaultSubreddits
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
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

// HTTPClientConfig returns the HTTP settings for cfg, including the User-Agent.
func HTTPClientConfig(cfg Config) sources.HTTPClientConfig {
	return sources.HTTPClientConfig{
		Source:    sourceName,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: 2,
		UserAgent: cfg.UserAgent,
	}
}

// Name returns the source name.
func (c *Client) Name() string { return sourceName }

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool { return c.config.Enabled }

// Fetch searches the configured subreddits in order, skipping self posts,
// until limit link posts are collected. A failing subreddit is skipped; the
// adapter fails only when nothing was collected and a subreddit failed.
func (c *Client) Fetch(ctx context.Context, topic string, limit int) ([]domain.RawArticle, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := sources.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	articles := make([]domain.RawArticle, 0, limit)
	var lastErr error
	for _, sub := range c.config.Subreddits {
		if len(articles) >= limit {
			break
		}

		var listing listingResponse
		if err := c.httpClient.GetJSON(ctx, "search", c.searchURL(sub, topic), &listing); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("searching r/%s: %w", sub, ctx.Err())
			}
			lastErr = fmt.Errorf("searching r/%s: %w", sub, err)
			continue
		}

		for _, ch := range listing.Data.Children {
			p := ch.Data
			title := strings.TrimSpace(p.Title)
			if title == "" || p.IsSelf {
				continue
			}
			link := p.URL
			if link == "" {
				link = permalinkPrefix + p.Permalink
			}
			text := sources.PlainText(p.Selftext)
			if text == "" {
				text = title
			}
			articles = append(articles, domain.RawArticle{
				Title:  title,
				URL:    link,
				Text:   text,
				Source: sourceName + " r/" + sub,
			})
			if len(articles) >= limit {
				break
			}
		}
	}

	if len(articles) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return articles, nil
}

func (c *Client) searchURL(sub, topic string) string {
	q := url.Values{}
	q.Set("q", topic)
	q.Set("restrict_sr", "1")
	q.Set("sort", "relevance")
	q.Set("limit", fmt.Sprint(postsPerSubreddit))
	return c.config.BaseURL + "/r/" + url.PathEscape(sub) + "/search.json?" + q.Encode()
}
