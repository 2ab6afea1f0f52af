package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/research-agent-service/internal/domain"
)

// Compile-time interface verification.
var _ ResultRepository = (*PgResultRepository)(nil)

// PgResultRepository is a PostgreSQL implementation of ResultRepository.
type PgResultRepository struct {
	db DBTX
}

// NewPgResultRepository creates a new PostgreSQL result repository.
func NewPgResultRepository(db DBTX) *PgResultRepository {
	return &PgResultRepository{db: db}
}

// ReplaceAttempt rewrites the result set of one attempt.
// The delete and every insert travel in one pgx.Batch.
func (r *PgResultRepository) ReplaceAttempt(ctx context.Context, topicID int64, attempt int, results []domain.ResearchResult) error {
	for i := range results {
		if results[i].Title == "" || results[i].URL == "" {
			return domain.NewValidationError("result", fmt.Sprintf("result at index %d has no title or url", i))
		}
	}

	insert := `
		INSERT INTO research_results (
			topic_id, attempt, position, article_title, article_url,
			article_summary, keywords, source_api, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM research_results WHERE topic_id = $1 AND attempt = $2`, topicID, attempt)
	for i, res := range results {
		keywords := res.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		batch.Queue(insert,
			topicID, attempt, i, res.Title, res.URL,
			res.Summary, keywords, res.SourceAPI, now,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	if _, err := br.Exec(); err != nil {
		return fmt.Errorf("failed to clear previous results: %w", err)
	}
	for i := range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert result at position %d: %w", i, err)
		}
	}
	return nil
}

// ListByAttempt returns the results of one attempt ordered by position.
func (r *PgResultRepository) ListByAttempt(ctx context.Context, topicID int64, attempt int) ([]domain.ResearchResult, error) {
	query := `
		SELECT id, topic_id, attempt, position, article_title, article_url,
			article_summary, keywords, source_api, created_at
		FROM research_results
		WHERE topic_id = $1 AND attempt = $2
		ORDER BY position ASC`

	rows, err := r.db.Query(ctx, query, topicID, attempt)
	if err != nil {
		return nil, fmt.Errorf("failed to list research results: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ResearchResult, 0)
	for rows.Next() {
		var res domain.ResearchResult
		if err := rows.Scan(
			&res.ID, &res.TopicID, &res.Attempt, &res.Position, &res.Title, &res.URL,
			&res.Summary, &res.Keywords, &res.SourceAPI, &res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan research result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating research results: %w", err)
	}
	return results, nil
}
