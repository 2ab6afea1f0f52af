package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/repository"
)

// Cleaner defaults.
const (
	DefaultCleanupInterval  = 24 * time.Hour
	DefaultCleanupRetention = 30 * 24 * time.Hour
)

// Cleaner periodically deletes completed and failed topics older than the
// retention period together with their logs and results.
type Cleaner struct {
	maintenance repository.Maintenance
	interval    time.Duration
	retention   time.Duration
	now         func() time.Time
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewCleaner creates a cleaner. metrics may be nil.
func NewCleaner(maintenance repository.Maintenance, interval, retention time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Cleaner {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if retention <= 0 {
		retention = DefaultCleanupRetention
	}
	return &Cleaner{
		maintenance: maintenance,
		interval:    interval,
		retention:   retention,
		now:         time.Now,
		metrics:     metrics,
		logger:      logger.With().Str("component", "cleaner").Logger(),
	}
}

// Run cleans up once at start and then every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) error {
	c.logger.Info().
		Dur("interval", c.interval).
		Dur("retention", c.retention).
		Msg("starting cleaner")

	run := func() {
		if _, err := c.Cleanup(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("cleanup failed")
		}
	}
	run()
	return every(ctx, c.interval, run)
}

// Cleanup purges finished topics past retention and returns how many were deleted.
func (c *Cleaner) Cleanup(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.retention)
	deleted, ran, err := c.maintenance.PurgeFinished(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge finished topics: %w", err)
	}
	if !ran {
		c.logger.Debug().Msg("cleanup lock held by another instance")
		return 0, nil
	}
	c.metrics.RecordTopicsCleanedUp(deleted)
	if deleted > 0 {
		c.logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("deleted finished topics past retention")
	}
	return deleted, nil
}
