// Package aggregator turns the article batches gathered from content sources
// into ranked result candidates: deduplicated, summarized and tagged with
// keywords. It is pure and deterministic.
package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/sources"
	"github.com/helixir/research-agent-service/internal/workflow"
)

// Defaults used when the corresponding Config field is zero.
const (
	MaxSummaryLength = 280
	MaxKeywords      = 5
	MaxResults       = 5
)

// MaxTitleLength is the width of research_results.article_title in characters.
const MaxTitleLength = 500

// Config controls aggregation limits and the accepted sources.
type Config struct {
	// MaxResults caps the number of candidates. Negative values are rejected.
	MaxResults int

	// SummaryLength is the maximum summary length in characters.
	SummaryLength int

	// MaxKeywords is the number of keywords kept per candidate.
	MaxKeywords int

	// SourcePriority lists the accepted source names, highest priority first.
	// Names match batch sources case-insensitively.
	SourcePriority []string
}

// ConfigFromWorkflow maps workflow settings to an aggregator Config.
func ConfigFromWorkflow(cfg config.WorkflowConfig) Config {
	return Config{
		MaxResults:     cfg.MaxResults,
		SummaryLength:  cfg.SummaryLength,
		MaxKeywords:    cfg.MaxKeywords,
		SourcePriority: cfg.SourcePriority,
	}
}

// Aggregator implements workflow.Aggregator.
type Aggregator struct {
	cfg      Config
	priority map[string]int
}

// Compile-time check that Aggregator implements workflow.Aggregator.
var _ workflow.Aggregator = (*Aggregator)(nil)

// New creates an Aggregator, applying defaults for zero limits.
func New(cfg Config) *Aggregator {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = MaxResults
	}
	if cfg.SummaryLength <= 0 {
		cfg.SummaryLength = MaxSummaryLength
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = MaxKeywords
	}

	priority := make(map[string]int, len(cfg.SourcePriority))
	for i, name := range cfg.SourcePriority {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := priority[key]; !dup {
			priority[key] = i
		}
	}
	return &Aggregator{cfg: cfg, priority: priority}
}

// Aggregate dedupes articles by normalized URL (first occurrence in priority
// order wins), drops entries missing a title, text or URL, summarizes the
// rest and caps the list at MaxResults.
func (a *Aggregator) Aggregate(batches []sources.Batch) ([]domain.ResultCandidate, error) {
	if a.cfg.MaxResults < 0 {
		return nil, fmt.Errorf("%w: negative result cap %d", workflow.ErrAggregationInvariant, a.cfg.MaxResults)
	}

	ordered := make([]sources.Batch, len(batches))
	copy(ordered, batches)
	for _, b := range ordered {
		if _, ok := a.priority[strings.ToLower(b.Source)]; !ok {
			return nil, fmt.Errorf("%w: unknown source %q", workflow.ErrAggregationInvariant, b.Source)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return a.priority[strings.ToLower(ordered[i].Source)] < a.priority[strings.ToLower(ordered[j].Source)]
	})

	candidates := make([]domain.ResultCandidate, 0, a.cfg.MaxResults)
	seen := make(map[string]struct{})
	for _, batch := range ordered {
		for _, article := range batch.Articles {
			if len(candidates) >= a.cfg.MaxResults {
				return candidates, nil
			}

			key := NormalizeURL(article.URL)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			title := TruncateTitle(strings.TrimSpace(article.Title), MaxTitleLength)
			text := strings.TrimSpace(article.Text)
			if title == "" || text == "" {
				continue
			}

			source := article.Source
			if source == "" {
				source = batch.Source
			}
			candidates = append(candidates, domain.ResultCandidate{
				Title:     title,
				URL:       strings.TrimSpace(article.URL),
				Summary:   Summarize(text, a.cfg.SummaryLength),
				Keywords:  Keywords(title, text, a.cfg.MaxKeywords),
				SourceAPI: source,
			})
		}
	}
	return candidates, nil
}

// NormalizeURL returns the dedupe key for a URL: trimmed, lower-cased and
// without trailing slashes.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
}
