package repository

import (
	"context"

	"github.com/helixir/research-agent-service/internal/domain"
)

// WorkflowLogRepository handles the append-only per-step execution log.
type WorkflowLogRepository interface {
	// Append inserts a log entry and fills in its ID and CreatedAt.
	// Returns domain.ErrAlreadyExists if the step was already logged for the attempt,
	// and domain.ErrNotFound if the topic does not exist.
	Append(ctx context.Context, log *domain.WorkflowLog) error

	// ListByAttempt returns the entries of one attempt ordered by step number.
	ListByAttempt(ctx context.Context, topicID int64, attempt int) ([]domain.WorkflowLog, error)
}
