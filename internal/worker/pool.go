package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/queue"
)

// Pool defaults.
const (
	DefaultConcurrency = 4
	DefaultNackBackoff = 5 * time.Second

	// settleTimeout bounds Ack and Nack, which run detached from the pool
	// context so a job is settled even during shutdown.
	settleTimeout = 10 * time.Second

	// dequeueErrorBackoff is the pause after a failed Dequeue.
	dequeueErrorBackoff = time.Second
)

// Processor processes one topic. *workflow.Orchestrator satisfies it.
type Processor interface {
	Process(ctx context.Context, topicID int64) error
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int
	// NackBackoff delays redelivery of a job whose processing returned an error.
	NackBackoff time.Duration
}

// Pool runs a fixed number of goroutines that consume jobs from a queue.
type Pool struct {
	queue     queue.Queue
	processor Processor
	cfg       PoolConfig
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewPool creates a worker pool. metrics may be nil.
func NewPool(q queue.Queue, processor Processor, cfg PoolConfig, metrics *observability.Metrics, logger zerolog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.NackBackoff <= 0 {
		cfg.NackBackoff = DefaultNackBackoff
	}
	return &Pool{
		queue:     q,
		processor: processor,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Run starts the workers and blocks until ctx is done or the queue closes.
// Cancelling ctx interrupts in-flight attempts; their topics are picked up
// again by the stale sweep.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("concurrency", p.cfg.Concurrency).Msg("starting worker pool")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, uuid.NewString())
		}()
	}
	wg.Wait()

	p.logger.Info().Msg("worker pool stopped")
	return ctx.Err()
}

func (p *Pool) work(ctx context.Context, workerID string) {
	logger := p.logger.With().Str("worker_id", workerID).Logger()
	ctx = observability.WithWorkerID(ctx, workerID)
	logger.Debug().Msg("worker started")

	for {
		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				logger.Debug().Msg("worker stopped")
				return
			}
			logger.Error().Err(err).Msg("failed to dequeue job")
			if !sleep(ctx, dequeueErrorBackoff) {
				return
			}
			continue
		}
		p.handle(ctx, d, logger)
	}
}

// handle processes one delivery and settles it. Only infrastructure errors
// surface from Process; those jobs are nacked for a later retry.
func (p *Pool) handle(ctx context.Context, d queue.Delivery, logger zerolog.Logger) {
	logger = logger.With().
		Int64("topic_id", d.Job.TopicID).
		Str("receipt_id", d.ReceiptID).
		Logger()

	p.metrics.WorkerStarted()
	start := time.Now()
	err := p.process(ctx, d.Job.TopicID)
	p.metrics.WorkerFinished()

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err != nil {
		logger.Error().Err(err).
			Int("redeliveries", d.Job.Redeliveries).
			Dur("backoff", p.cfg.NackBackoff).
			Msg("job failed, returning to queue")
		if nerr := p.queue.Nack(settleCtx, d, p.cfg.NackBackoff); nerr != nil {
			logger.Error().Err(nerr).Msg("failed to nack job")
		}
		return
	}

	if aerr := p.queue.Ack(settleCtx, d); aerr != nil {
		logger.Error().Err(aerr).Msg("failed to ack job")
		return
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("job settled")
}

func (p *Pool) process(ctx context.Context, topicID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing topic %d: %v", topicID, r)
		}
	}()
	return p.processor.Process(ctx, topicID)
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
