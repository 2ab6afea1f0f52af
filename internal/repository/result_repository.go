package repository

import (
	"context"

	"github.com/helixir/research-agent-service/internal/domain"
)

// ResultRepository handles research result persistence.
type ResultRepository interface {
	// ReplaceAttempt deletes any rows of (topicID, attempt) and inserts results
	// in a single batch. Callers run it inside a transaction.
	ReplaceAttempt(ctx context.Context, topicID int64, attempt int, results []domain.ResearchResult) error

	// ListByAttempt returns the results of one attempt ordered by position.
	ListByAttempt(ctx context.Context, topicID int64, attempt int) ([]domain.ResearchResult, error)
}
