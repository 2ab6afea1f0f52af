package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"

	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/queue"
)

const (
	// DefaultWorkflowExecutionTimeout is the maximum time a research workflow may run.
	DefaultWorkflowExecutionTimeout = 2 * time.Hour

	// DefaultHealthCheckTimeout is the timeout for Temporal server health checks.
	DefaultHealthCheckTimeout = 5 * time.Second

	// workflowIDPrefix prefixes every research workflow ID.
	workflowIDPrefix = "research-topic-"
)

// NewClient dials the Temporal server described by cfg. SDK logs go through logger.
func NewClient(cfg config.TemporalConfig, logger zerolog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// workflowStarter is the subset of client.Client used by Dispatcher.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	CheckHealth(ctx context.Context, request *client.CheckHealthRequest) (*client.CheckHealthResponse, error)
	Close()
}

// Dispatcher starts one ResearchWorkflow per enqueued job. It implements
// queue.Enqueuer so the submission path and the sweeper are unaware of
// which backend runs the job.
type Dispatcher struct {
	mu                 sync.RWMutex
	client             workflowStarter
	taskQueue          string
	healthCheckTimeout time.Duration
	closed             bool
	metrics            *observability.Metrics
	logger             zerolog.Logger
}

var _ queue.Enqueuer = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher that starts workflows on taskQueue.
func NewDispatcher(c client.Client, taskQueue string, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return newDispatcher(c, taskQueue, metrics, logger)
}

func newDispatcher(c workflowStarter, taskQueue string, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client:             c,
		taskQueue:          taskQueue,
		healthCheckTimeout: DefaultHealthCheckTimeout,
		metrics:            metrics,
		logger:             logger.With().Str("component", "temporal-dispatcher").Logger(),
	}
}

// WorkflowID returns a fresh workflow ID for topicID. Each dispatch gets its
// own ID; duplicate workflows for one topic are resolved by the topic claim.
func WorkflowID(topicID int64) string {
	return fmt.Sprintf("%s%d-%s", workflowIDPrefix, topicID, uuid.NewString())
}

// Enqueue starts a ResearchWorkflow for job.
func (d *Dispatcher) Enqueue(ctx context.Context, job queue.Job) error {
	if d.isClosed() {
		return &TemporalError{Op: "Enqueue", Kind: ErrClientClosed}
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	workflowID := WorkflowID(job.TopicID)
	options := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                d.taskQueue,
		WorkflowExecutionTimeout: DefaultWorkflowExecutionTimeout,
	}

	run, err := d.client.ExecuteWorkflow(ctx, options, ResearchWorkflow, ResearchInput{
		TopicID:    job.TopicID,
		EnqueuedAt: job.EnqueuedAt,
	})
	if err != nil {
		return wrapTemporalError("Enqueue", err, workflowID)
	}

	d.metrics.RecordJobEnqueued(queue.BackendTemporal)
	wfLogger := observability.WithWorkflowContext(d.logger, workflowID, run.GetRunID())
	wfLogger.Debug().
		Int64("topic_id", job.TopicID).
		Msg("research workflow started")
	return nil
}

// Health checks the connection to the Temporal server.
func (d *Dispatcher) Health(ctx context.Context) error {
	if d.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}

	checkCtx, cancel := context.WithTimeout(ctx, d.healthCheckTimeout)
	defer cancel()

	if _, err := d.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "")
	}
	return nil
}

// Close closes the underlying Temporal client. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil && !d.closed {
		d.client.Close()
		d.closed = true
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
