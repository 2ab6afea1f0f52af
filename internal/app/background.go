package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/queue"
	"github.com/helixir/research-agent-service/internal/repository"
	"github.com/helixir/research-agent-service/internal/worker"
)

// Background describes the long-running loops of a process.
type Background struct {
	// Queue feeds the worker pool. A nil Queue runs no pool.
	Queue queue.Queue

	// Processor handles dequeued jobs.
	Processor worker.Processor

	// Enqueuer receives topics recovered by the sweeper.
	Enqueuer queue.Enqueuer

	// Maintenance backs the sweeper and the cleaner.
	Maintenance repository.Maintenance
}

// RunBackground runs the worker pool, the sweeper and, when enabled, the
// cleaner until ctx is done. A loop failing for any reason other than
// cancellation stops the others and is returned.
func RunBackground(ctx context.Context, cfg *config.Config, bg Background, metrics *observability.Metrics, logger zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	if bg.Queue != nil {
		pool := worker.NewPool(bg.Queue, bg.Processor, worker.PoolConfig{
			Concurrency: cfg.Worker.Concurrency,
			NackBackoff: cfg.Worker.NackBackoff,
		}, metrics, logger)
		g.Go(func() error { return pool.Run(gctx) })
	}

	sweeper := worker.NewSweeper(bg.Maintenance, bg.Enqueuer, worker.SweeperConfig{
		Interval:     cfg.Worker.SweepInterval,
		StaleAfter:   cfg.Workflow.StaleAfter,
		PendingGrace: cfg.Worker.PendingGrace,
		BatchSize:    cfg.Worker.SweepBatchSize,
	}, metrics, logger)
	g.Go(func() error { return sweeper.Run(gctx) })

	if cfg.Cleanup.Enabled {
		cleaner := worker.NewCleaner(bg.Maintenance, cfg.Cleanup.Interval, cfg.Cleanup.Retention, metrics, logger)
		g.Go(func() error { return cleaner.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
