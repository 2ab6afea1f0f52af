package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/queue"
	"github.com/helixir/research-agent-service/internal/repository"
)

// Sweeper defaults.
const (
	DefaultSweepInterval  = time.Minute
	DefaultPendingGrace   = 2 * time.Minute
	DefaultSweepBatchSize = 100
)

// Requeue reasons reported to metrics.
const (
	reasonStale   = "stale"
	reasonPending = "pending"
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAfter is the heartbeat age after which a processing topic is reclaimable.
	StaleAfter time.Duration
	// PendingGrace is how long a pending topic may wait for its job.
	PendingGrace time.Duration
	// BatchSize bounds the number of topics re-enqueued per sweep.
	BatchSize int
}

// Sweeper re-enqueues topics that no worker is making progress on: processing
// topics with a stale heartbeat and pending topics whose job was lost.
// Re-enqueueing a topic that is in fact healthy is harmless since the claim
// turns the extra job into a no-op.
type Sweeper struct {
	maintenance repository.Maintenance
	enqueuer    queue.Enqueuer
	cfg         SweeperConfig
	now         func() time.Time
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewSweeper creates a sweeper. metrics may be nil.
func NewSweeper(maintenance repository.Maintenance, enqueuer queue.Enqueuer, cfg SweeperConfig, metrics *observability.Metrics, logger zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = DefaultPendingGrace
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	return &Sweeper{
		maintenance: maintenance,
		enqueuer:    enqueuer,
		cfg:         cfg,
		now:         time.Now,
		metrics:     metrics,
		logger:      logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Dur("pending_grace", s.cfg.PendingGrace).
		Msg("starting sweeper")

	return every(ctx, s.cfg.Interval, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
	})
}

// Sweep re-enqueues recoverable topics once and returns how many were
// enqueued. It does nothing when another instance is sweeping.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	topics, ran, err := s.maintenance.FindRecoverable(ctx, now.Add(-s.cfg.StaleAfter), now.Add(-s.cfg.PendingGrace), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find recoverable topics: %w", err)
	}
	if !ran {
		s.logger.Debug().Msg("sweep lock held by another instance")
		return 0, nil
	}

	var stale, pending int
	for _, t := range topics {
		if err := s.enqueuer.Enqueue(ctx, queue.Job{TopicID: t.ID, EnqueuedAt: now}); err != nil {
			s.record(stale, pending)
			return stale + pending, fmt.Errorf("requeue topic %d: %w", t.ID, err)
		}
		if t.Status == domain.TopicStatusProcessing {
			stale++
		} else {
			pending++
		}
	}
	s.record(stale, pending)

	if len(topics) > 0 {
		s.logger.Info().
			Int("stale", stale).
			Int("pending", pending).
			Msg("re-enqueued recoverable topics")
	}
	return stale + pending, nil
}

func (s *Sweeper) record(stale, pending int) {
	if stale > 0 {
		s.metrics.RecordTopicsRequeued(reasonStale, stale)
	}
	if pending > 0 {
		s.metrics.RecordTopicsRequeued(reasonPending, pending)
	}
}

// every calls fn each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}
