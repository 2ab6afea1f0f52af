// Package app wires configuration into the components shared by the
// service binaries: the content source registry, the orchestrator and the
// job queue backend.
package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"

	"github.com/helixir/research-agent-service/internal/aggregator"
	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/queue"
	"github.com/helixir/research-agent-service/internal/repository"
	"github.com/helixir/research-agent-service/internal/sources"
	"github.com/helixir/research-agent-service/internal/sources/hackernews"
	"github.com/helixir/research-agent-service/internal/sources/newsapi"
	"github.com/helixir/research-agent-service/internal/sources/reddit"
	"github.com/helixir/research-agent-service/internal/sources/wikipedia"
	"github.com/helixir/research-agent-service/internal/temporal"
	"github.com/helixir/research-agent-service/internal/workflow"
)

// BuildRegistry registers one adapter per name in cfg.Workflow.SourcePriority,
// in that order. Disabled sources are registered but skipped at fetch time.
func BuildRegistry(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*sources.Registry, error) {
	registry := sources.NewRegistry(metrics, logger)

	for _, name := range cfg.Workflow.SourcePriority {
		var adapter sources.Adapter
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "wikipedia":
			sc := cfg.Sources.Wikipedia
			wc := wikipedia.Config{BaseURL: sc.BaseURL, Timeout: sc.Timeout, RateLimit: sc.RateLimit, Enabled: sc.Enabled}
			adapter = wikipedia.NewClient(wc, sources.NewHTTPClient(wikipedia.HTTPClientConfig(wc), metrics))
		case "newsapi":
			sc := cfg.Sources.NewsAPI
			nc := newsapi.Config{BaseURL: sc.BaseURL, APIKey: sc.APIKey, Timeout: sc.Timeout, RateLimit: sc.RateLimit, Enabled: sc.Enabled}
			adapter = newsapi.NewClient(nc, sources.NewHTTPClient(newsapi.HTTPClientConfig(nc), metrics))
		case "hackernews":
			sc := cfg.Sources.HackerNews
			hc := hackernews.Config{BaseURL: sc.BaseURL, Timeout: sc.Timeout, RateLimit: sc.RateLimit, Enabled: sc.Enabled}
			adapter = hackernews.NewClient(hc, sources.NewHTTPClient(hackernews.HTTPClientConfig(hc), metrics))
		case "reddit":
			sc := cfg.Sources.Reddit
			rc := reddit.Config{
				BaseURL:    sc.BaseURL,
				Subreddits: sc.Subreddits,
				UserAgent:  sc.UserAgent,
				Timeout:    sc.Timeout,
				RateLimit:  sc.RateLimit,
				Enabled:    sc.Enabled,
			}
			if rc.UserAgent == "" {
				rc.UserAgent = reddit.DefaultUserAgent
			}
			adapter = reddit.NewClient(rc, sources.NewHTTPClient(reddit.HTTPClientConfig(rc), metrics))
		default:
			return nil, fmt.Errorf("unknown content source %q", name)
		}

		registry.Register(adapter)
		logger.Info().
			Str("source", adapter.Name()).
			Bool("enabled", adapter.IsEnabled()).
			Msg("registered content source")
	}

	return registry, nil
}

// BuildOrchestrator assembles the research pipeline from configuration.
func BuildOrchestrator(cfg *config.Config, gateway repository.Gateway, registry *sources.Registry, metrics *observability.Metrics, logger zerolog.Logger) *workflow.Orchestrator {
	clock := workflow.SystemClock{}
	executor := workflow.NewStepExecutor(workflow.PolicyFromConfig(cfg.Workflow), clock, metrics, logger)

	return workflow.NewOrchestrator(
		gateway,
		registry,
		aggregator.New(aggregator.ConfigFromWorkflow(cfg.Workflow)),
		workflow.Config{
			GatherLimit:   cfg.Workflow.MaxResults,
			GatherTimeout: cfg.Workflow.GatherTimeout,
			StaleAfter:    cfg.Workflow.StaleAfter,
		},
		workflow.WithClock(clock),
		workflow.WithExecutor(executor),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
	)
}

// Backend is the job queue selected by queue.backend.
type Backend struct {
	// Name is the configured backend name.
	Name string

	// Enqueuer publishes jobs. It is set for every backend.
	Enqueuer queue.Enqueuer

	// Queue is the consumable queue for the memory and kafka backends.
	// It is nil for temporal, where jobs are consumed by a Temporal worker.
	Queue queue.Queue

	// Temporal is the connected client for the temporal backend.
	Temporal client.Client

	closers []func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// BuildBackend connects the queue backend named by cfg.Queue.Backend.
func BuildBackend(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*Backend, error) {
	b := &Backend{Name: cfg.Queue.Backend}

	switch cfg.Queue.Backend {
	case queue.BackendMemory, "":
		q := queue.NewMemoryQueue(cfg.Queue.BufferSize, metrics)
		b.Name = queue.BackendMemory
		b.Enqueuer, b.Queue = q, q
		b.closers = append(b.closers, q.Close)

	case queue.BackendKafka:
		q := queue.NewKafkaQueue(cfg.Kafka, metrics, logger)
		b.Enqueuer, b.Queue = q, q
		b.closers = append(b.closers, q.Close)
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Str("group_id", cfg.Kafka.GroupID).
			Msg("kafka job queue configured")

	case queue.BackendTemporal:
		c, err := temporal.NewClient(cfg.Temporal, logger)
		if err != nil {
			return nil, err
		}
		dispatcher := temporal.NewDispatcher(c, cfg.Temporal.TaskQueue, metrics, logger)
		b.Enqueuer, b.Temporal = dispatcher, c
		b.closers = append(b.closers, func() error {
			dispatcher.Close()
			return nil
		})
		logger.Info().
			Str("host_port", cfg.Temporal.HostPort).
			Str("namespace", cfg.Temporal.Namespace).
			Str("task_queue", cfg.Temporal.TaskQueue).
			Msg("temporal client connected")

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}

	return b, nil
}
