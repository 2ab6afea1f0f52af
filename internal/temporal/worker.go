package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// TaskQueue is the name of the task queue to poll.
	TaskQueue string

	// MaxConcurrentActivityExecutionSize bounds the topics processed at once.
	MaxConcurrentActivityExecutionSize int

	// MaxConcurrentWorkflowTaskExecutionSize is the maximum concurrent workflow task executions.
	MaxConcurrentWorkflowTaskExecutionSize int
}

// DefaultWorkerConfig returns a WorkerConfig with default values.
func DefaultWorkerConfig(taskQueue string) WorkerConfig {
	return WorkerConfig{
		TaskQueue:                              taskQueue,
		MaxConcurrentActivityExecutionSize:     4,
		MaxConcurrentWorkflowTaskExecutionSize: 50,
	}
}

// workerOptionsFromConfig builds worker.Options, applying defaults for zero fields.
func workerOptionsFromConfig(cfg WorkerConfig) worker.Options {
	defaults := DefaultWorkerConfig(cfg.TaskQueue)
	options := worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.MaxConcurrentActivityExecutionSize,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.MaxConcurrentWorkflowTaskExecutionSize,
	}
	if options.MaxConcurrentActivityExecutionSize <= 0 {
		options.MaxConcurrentActivityExecutionSize = defaults.MaxConcurrentActivityExecutionSize
	}
	if options.MaxConcurrentWorkflowTaskExecutionSize <= 0 {
		options.MaxConcurrentWorkflowTaskExecutionSize = defaults.MaxConcurrentWorkflowTaskExecutionSize
	}
	return options
}

// NewWorker creates a worker polling cfg.TaskQueue with ResearchWorkflow and
// its activity registered against processor.
func NewWorker(c client.Client, cfg WorkerConfig, processor Processor) (worker.Worker, error) {
	if cfg.TaskQueue == "" {
		return nil, fmt.Errorf("task queue is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}

	w := worker.New(c, cfg.TaskQueue, workerOptionsFromConfig(cfg))
	Register(w, processor)
	return w, nil
}

// Register adds ResearchWorkflow and its activities to r.
func Register(r worker.Registry, processor Processor) {
	r.RegisterWorkflow(ResearchWorkflow)
	r.RegisterActivity(NewActivities(processor))
}

// StartWorker runs w until ctx is cancelled or the worker fails.
func StartWorker(ctx context.Context, w worker.Worker) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(worker.InterruptCh())
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
