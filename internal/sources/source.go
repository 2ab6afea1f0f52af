// Package sources provides the content source adapters that feed the research
// workflow, and the registry that queries them concurrently.
//
// Each external API (Wikipedia, NewsAPI, HackerNews, Reddit) implements the
// Adapter interface. Adapters never retry: a failure is reported once and the
// registry records it as an outcome with zero articles.
//
// Example usage:
//
//	registry := sources.NewRegistry(metrics, logger)
//	registry.Register(wikipedia.NewClient(cfg, nil))
//	batches, outcomes := registry.FetchAll(ctx, "Quantum Computing", 5, 30*time.Second)
package sources

import (
	"context"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
)

// DefaultTimeout is the per-call timeout applied by adapters.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 10 << 20

// Adapter is implemented by every content source.
type Adapter interface {
	// Fetch returns up to limit articles for topic. Every returned article
	// carries the adapter's source label. Fetch does not retry.
	Fetch(ctx context.Context, topic string, limit int) ([]domain.RawArticle, error)

	// Name returns the adapter's display name, e.g. "Wikipedia".
	Name() string

	// IsEnabled reports whether the adapter is configured and usable.
	IsEnabled() bool
}

// Batch is the articles returned by one adapter.
type Batch struct {
	Source   string
	Articles []domain.RawArticle
}

// AdapterOutcome records how a single adapter call ended.
type AdapterOutcome struct {
	Name     string
	Count    int
	Err      error
	Duration time.Duration
}

// Failed reports whether the adapter call returned an error.
func (o AdapterOutcome) Failed() bool {
	return o.Err != nil
}

// WithTimeout bounds ctx by the adapter timeout, falling back to DefaultTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
