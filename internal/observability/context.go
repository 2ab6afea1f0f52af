package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	workerIDKey   contextKey = "worker_id"
	topicIDKey    contextKey = "topic_id"
	attemptKey    contextKey = "attempt"
	workflowIDKey contextKey = "workflow_id"
	runIDKey      contextKey = "workflow_run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithWorkerID adds the processing worker's ID to the context.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// WorkerIDFromContext retrieves the worker ID from context.
// Returns empty string if not present.
func WorkerIDFromContext(ctx context.Context) string {
	if v := ctx.Value(workerIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithTopic adds the topic ID and attempt number to the context.
func WithTopic(ctx context.Context, topicID int64, attempt int) context.Context {
	ctx = context.WithValue(ctx, topicIDKey, topicID)
	ctx = context.WithValue(ctx, attemptKey, attempt)
	return ctx
}

// TopicIDFromContext retrieves the topic ID from context.
func TopicIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(topicIDKey).(int64)
	return id, ok
}

// AttemptFromContext retrieves the attempt number from context.
// Returns 0 if not present.
func AttemptFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(attemptKey).(int); ok {
		return v
	}
	return 0
}

// WithWorkflow adds workflow ID and run ID to the context.
func WithWorkflow(ctx context.Context, workflowID, runID string) context.Context {
	ctx = context.WithValue(ctx, workflowIDKey, workflowID)
	ctx = context.WithValue(ctx, runIDKey, runID)
	return ctx
}

// WorkflowFromContext retrieves workflow ID and run ID from context.
// Returns empty strings if not present.
func WorkflowFromContext(ctx context.Context) (workflowID, runID string) {
	if v := ctx.Value(workflowIDKey); v != nil {
		if id, ok := v.(string); ok {
			workflowID = id
		}
	}
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			runID = id
		}
	}
	return workflowID, runID
}
