// Package main provides the entry point for the standalone research worker.
//
// The worker consumes jobs from the kafka backend with an in-process pool, or
// executes research workflows for the temporal backend. Either way it also
// runs the recovery sweeper and the retention cleaner.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/research-agent-service/internal/app"
	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/database"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/repository"
	"github.com/helixir/research-agent-service/internal/temporal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Str("queue_backend", cfg.Queue.Backend).Msg("research-agent-service worker starting")

	if cfg.Queue.Backend == config.QueueBackendMemory {
		return fmt.Errorf("the memory queue backend is consumed by the server's embedded workers; use kafka or temporal for a standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	gateway := repository.NewPgGateway(db)

	registry, err := app.BuildRegistry(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("build source registry: %w", err)
	}
	orchestrator := app.BuildOrchestrator(cfg, gateway, registry, metrics, logger)

	backend, err := app.BuildBackend(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("build queue backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close queue backend")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.RunBackground(gctx, cfg, app.Background{
			Queue:       backend.Queue,
			Processor:   orchestrator,
			Enqueuer:    backend.Enqueuer,
			Maintenance: gateway,
		}, metrics, logger)
	})

	if backend.Temporal != nil {
		w, err := temporal.NewWorker(backend.Temporal, temporal.WorkerConfig{
			TaskQueue:                          cfg.Temporal.TaskQueue,
			MaxConcurrentActivityExecutionSize: cfg.Worker.Concurrency,
		}, orchestrator)
		if err != nil {
			return fmt.Errorf("create temporal worker: %w", err)
		}
		logger.Info().Str("task_queue", cfg.Temporal.TaskQueue).Msg("starting temporal worker")
		g.Go(func() error {
			if err := temporal.StartWorker(gctx, w); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("temporal worker: %w", err)
			}
			return nil
		})
	}

	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		g.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}
