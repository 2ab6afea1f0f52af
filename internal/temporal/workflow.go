package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/research-agent-service/internal/observability"
)

// Activity timeouts and retry bounds.
const (
	processActivityTimeout   = 30 * time.Minute
	processActivityHeartbeat = 30 * time.Second
	processMaxAttempts       = 5
)

// ResearchInput is the ResearchWorkflow argument.
type ResearchInput struct {
	TopicID    int64     `json:"topic_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ResearchWorkflow runs the research pipeline for one topic. The pipeline
// itself lives in the activity; the workflow only supplies durability and retries.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("research workflow started", "topic_id", input.TopicID)

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: processActivityTimeout,
		HeartbeatTimeout:    2 * processActivityHeartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    2 * time.Minute,
			MaximumAttempts:    processMaxAttempts,
		},
	})

	var activities *Activities
	if err := workflow.ExecuteActivity(actCtx, activities.ProcessTopicActivity, input).Get(ctx, nil); err != nil {
		logger.Error("research workflow failed", "topic_id", input.TopicID, "error", err)
		return err
	}

	logger.Info("research workflow completed", "topic_id", input.TopicID)
	return nil
}

// Processor runs the pipeline for a single topic.
type Processor interface {
	Process(ctx context.Context, topicID int64) error
}

// Activities holds the activity implementations registered with the worker.
type Activities struct {
	processor Processor
}

// NewActivities creates the activity set backed by processor.
func NewActivities(processor Processor) *Activities {
	return &Activities{processor: processor}
}

// ProcessTopicActivity claims and processes input.TopicID. A returned error
// is an infrastructure failure and is retried by the workflow's retry policy.
func (a *Activities) ProcessTopicActivity(ctx context.Context, input ResearchInput) error {
	info := activity.GetInfo(ctx)
	ctx = observability.WithWorkflow(ctx, info.WorkflowExecution.ID, info.WorkflowExecution.RunID)

	done := make(chan struct{})
	defer close(done)
	go heartbeat(ctx, done)

	if err := a.processor.Process(ctx, input.TopicID); err != nil {
		return temporal.NewApplicationErrorWithCause("process topic", "ProcessTopicError", err, input.TopicID)
	}
	return nil
}

// heartbeat reports liveness until done is closed so a crashed worker's
// activity is retried before StartToCloseTimeout.
func heartbeat(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(processActivityHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			activity.RecordHeartbeat(ctx)
		}
	}
}
