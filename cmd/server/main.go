// Package main provides the entry point for the research agent API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/app"
	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/database"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/repository"
	"github.com/helixir/research-agent-service/internal/research"
	"github.com/helixir/research-agent-service/internal/server"
	httpserver "github.com/helixir/research-agent-service/internal/server/http"
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
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("research-agent-service server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg, logger); err != nil {
			return err
		}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	gateway := repository.NewPgGateway(db)

	backend, err := app.BuildBackend(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("build queue backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close queue backend")
		}
	}()

	service := research.NewService(gateway, backend.Enqueuer, metrics, logger)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, service, db, logger)
	grpcSrv := server.NewGRPCServer(db, logger)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 4)

	go func() {
		if err := grpcSrv.Serve(cfg.Server.GRPCAddress()); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go grpcSrv.WatchHealth(ctx)

	go func() {
		logger.Info().Str("address", httpCfg.Address).Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Embedded workers share the process with the API. With the memory
	// backend they are the only consumers of the queue.
	bgDone := make(chan struct{})
	if cfg.Worker.Embedded {
		bg, err := embeddedBackground(cfg, gateway, backend, metrics, logger)
		if err != nil {
			return err
		}
		go func() {
			defer close(bgDone)
			if err := app.RunBackground(ctx, cfg, bg, metrics, logger); err != nil {
				errCh <- fmt.Errorf("background workers: %w", err)
			}
		}()
	} else {
		close(bgDone)
	}

	readyLog := logger.Info().
		Str("grpc_address", cfg.Server.GRPCAddress()).
		Str("http_address", httpCfg.Address).
		Str("queue_backend", backend.Name).
		Bool("embedded_workers", cfg.Worker.Embedded)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("research-agent-service is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		stop()
		return err
	}

	logger.Info().Msg("shutting down research-agent-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	grpcSrv.Stop(shutdownCtx)

	select {
	case <-bgDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("background workers did not stop before the shutdown timeout")
	}

	logger.Info().Msg("research-agent-service shutdown complete")
	return nil
}

// embeddedBackground builds the in-process worker set. The temporal backend
// has no consumable queue, so only the maintenance loops run here.
func embeddedBackground(cfg *config.Config, gateway *repository.PgGateway, backend *app.Backend, metrics *observability.Metrics, logger zerolog.Logger) (app.Background, error) {
	registry, err := app.BuildRegistry(cfg, metrics, logger)
	if err != nil {
		return app.Background{}, fmt.Errorf("build source registry: %w", err)
	}
	return app.Background{
		Queue:       backend.Queue,
		Processor:   app.BuildOrchestrator(cfg, gateway, registry, metrics, logger),
		Enqueuer:    backend.Enqueuer,
		Maintenance: gateway,
	}, nil
}

func migrate(db *database.DB, cfg *config.Config, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
