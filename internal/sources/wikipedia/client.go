// Package wikipedia implements the Wikipedia content source.
package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/sources"
)

const (
	// DefaultBaseURL is the default Wikipedia host.
	DefaultBaseURL = "https://en.wikipedia.org"

	// DefaultRateLimit is the default requests per second.
	DefaultRateLimit = 5.0

	sourceName = "Wikipedia"
)

// Config contains configuration options for the Wikipedia client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Enabled   bool
}

// Client implements sources.Adapter for Wikipedia.
type Client struct {
	httpClient *sources.HTTPClient
	config     Config
}

// Compile-time check that Client implements sources.Adapter.
var _ sources.Adapter = (*Client)(nil)

// NewClient creates a Wikipedia client. If httpClient is nil, one is created
// from cfg.
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

// Fetch searches Wikipedia and loads the summary of each hit.
// A hit whose summary cannot be loaded is skipped.
func (c *Client) Fetch(ctx context.Context, topic string, limit int) ([]domain.RawArticle, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := sources.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var search searchResponse
	if err := c.httpClient.GetJSON(ctx, "search", c.searchURL(topic, limit), &search); err != nil {
		return nil, err
	}
	if search.Error != nil {
		return nil, domain.NewExternalAPIError(sourceName, http.StatusOK, search.Error.Info, nil)
	}

	hits := search.Query.Search
	if len(hits) > limit {
		hits = hits[:limit]
	}

	articles := make([]domain.RawArticle, 0, len(hits))
	for _, hit := range hits {
		var summary summaryResponse
		if err := c.httpClient.GetJSON(ctx, "summary", c.summaryURL(hit.Title), &summary); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("loading summary for %q: %w", hit.Title, ctx.Err())
			}
			continue
		}

		text := sources.PlainText(summary.Extract)
		if text == "" {
			text = sources.PlainText(hit.Snippet)
		}
		articles = append(articles, domain.RawArticle{
			Title:  hit.Title,
			URL:    c.config.BaseURL + "/wiki/" + pageSlug(hit.Title),
			Text:   text,
			Source: sourceName,
		})
	}
	return articles, nil
}

func (c *Client) searchURL(topic string, limit int) string {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("list", "search")
	q.Set("srsearch", topic)
	q.Set("srlimit", strconv.Itoa(limit))
	q.Set("srprop", "snippet|titlesnippet")
	return c.config.BaseURL + "/w/api.php?" + q.Encode()
}

func (c *Client) summaryURL(title string) string {
	return c.config.BaseURL + "/api/rest_v1/page/summary/" + pageSlug(title)
}

// pageSlug converts a page title into its URL path form.
func pageSlug(title string) string {
	return url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}
