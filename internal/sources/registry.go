package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/observability"
)

// minPerAdapterLimit is the smallest number of articles requested from an adapter.
const minPerAdapterLimit = 2

// Registry holds adapters in priority order and queries them concurrently.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *observability.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		metrics: metrics,
		logger:  logger.With().Str("component", "sources").Logger(),
	}
}

// Register appends an adapter. Registration order is priority order.
// Registering a second adapter with the same name replaces the first in place.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.adapters {
		if existing.Name() == adapter.Name() {
			r.adapters[i] = adapter
			return
		}
	}
	r.adapters = append(r.adapters, adapter)
}

// Names returns the names of all registered adapters in priority order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Name()
	}
	return names
}

// Enabled returns the enabled adapters in priority order.
func (r *Registry) Enabled() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.IsEnabled() {
			enabled = append(enabled, a)
		}
	}
	return enabled
}

// PerAdapterLimit splits limit across n adapters with a floor of two.
func PerAdapterLimit(limit, n int) int {
	if n <= 0 {
		return 0
	}
	per := limit / n
	if per < minPerAdapterLimit {
		per = minPerAdapterLimit
	}
	return per
}

type fetchResult struct {
	index    int
	batch    Batch
	err      error
	duration time.Duration
}

// FetchAll runs every enabled adapter concurrently under an overall timeout.
// Batches and outcomes are returned in priority order. An adapter that has not
// returned by the deadline is recorded with context.DeadlineExceeded, and an
// adapter that panics is recorded as failed. FetchAll itself never fails.
func (r *Registry) FetchAll(ctx context.Context, topic string, limit int, timeout time.Duration) ([]Batch, []AdapterOutcome) {
	adapters := r.Enabled()
	if len(adapters) == 0 {
		return nil, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	perAdapter := PerAdapterLimit(limit, len(adapters))
	results := make(chan fetchResult, len(adapters))

	for i, adapter := range adapters {
		go func(i int, a Adapter) {
			start := time.Now()
			res := fetchResult{index: i, batch: Batch{Source: a.Name()}}
			defer func() {
				if p := recover(); p != nil {
					res.err = fmt.Errorf("adapter %s panicked: %v", a.Name(), p)
					res.batch.Articles = nil
				}
				res.duration = time.Since(start)
				results <- res
			}()

			articles, err := a.Fetch(ctx, topic, perAdapter)
			if len(articles) > perAdapter {
				articles = articles[:perAdapter]
			}
			res.batch.Articles = articles
			res.err = err
		}(i, adapter)
	}

	received := make([]*fetchResult, len(adapters))
	pending := len(adapters)
collect:
	for pending > 0 {
		select {
		case res := <-results:
			received[res.index] = &res
			pending--
		case <-ctx.Done():
			// Keep results that arrived together with the deadline.
			for {
				select {
				case res := <-results:
					received[res.index] = &res
				default:
					break collect
				}
			}
		}
	}

	batches := make([]Batch, 0, len(adapters))
	outcomes := make([]AdapterOutcome, 0, len(adapters))
	for i, adapter := range adapters {
		res := received[i]
		if res == nil {
			res = &fetchResult{
				batch:    Batch{Source: adapter.Name()},
				err:      fmt.Errorf("%s: %w", adapter.Name(), ctx.Err()),
				duration: timeout,
			}
		}

		outcome := AdapterOutcome{Name: adapter.Name(), Err: res.err, Duration: res.duration}
		logger := observability.WithSourceContext(r.logger, adapter.Name())
		if res.err != nil {
			// Partial articles from a failed adapter are discarded.
			r.metrics.RecordSourceFetch(adapter.Name(), "failed", 0)
			logger.Warn().Err(res.err).Dur("duration", res.duration).Msg("source fetch failed")
			batches = append(batches, Batch{Source: adapter.Name()})
		} else {
			outcome.Count = len(res.batch.Articles)
			r.metrics.RecordSourceFetch(adapter.Name(), "success", outcome.Count)
			logger.Debug().Int("articles", outcome.Count).Dur("duration", res.duration).Msg("source fetch completed")
			batches = append(batches, res.batch)
		}
		outcomes = append(outcomes, outcome)
	}

	return batches, outcomes
}
