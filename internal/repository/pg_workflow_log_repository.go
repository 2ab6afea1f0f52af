package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
)

// Compile-time interface verification.
var _ WorkflowLogRepository = (*PgWorkflowLogRepository)(nil)

// PgWorkflowLogRepository is a PostgreSQL implementation of WorkflowLogRepository.
type PgWorkflowLogRepository struct {
	db DBTX
}

// NewPgWorkflowLogRepository creates a new PostgreSQL workflow log repository.
func NewPgWorkflowLogRepository(db DBTX) *PgWorkflowLogRepository {
	return &PgWorkflowLogRepository{db: db}
}

// Append inserts a log entry.
func (r *PgWorkflowLogRepository) Append(ctx context.Context, log *domain.WorkflowLog) error {
	if log == nil {
		return domain.NewValidationError("log", "log cannot be nil")
	}
	if log.StepNumber < 1 || log.StepNumber > 5 {
		return domain.NewValidationError("step_number", fmt.Sprintf("step %d out of range", log.StepNumber))
	}
	if log.ExecutionTimeMs < 0 {
		return domain.NewValidationError("execution_time_ms", "must not be negative")
	}

	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_logs (
			topic_id, attempt, step_number, step_name, status,
			log_message, execution_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		log.TopicID, log.Attempt, log.StepNumber, log.StepName, log.Status,
		log.Message, log.ExecutionTimeMs, createdAt,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("workflow_log",
				fmt.Sprintf("%d/%d/%d", log.TopicID, log.Attempt, log.StepNumber))
		}
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("topic", strconv.FormatInt(log.TopicID, 10))
		}
		return fmt.Errorf("failed to append workflow log: %w", err)
	}
	return nil
}

// ListByAttempt returns the entries of one attempt ordered by step number.
func (r *PgWorkflowLogRepository) ListByAttempt(ctx context.Context, topicID int64, attempt int) ([]domain.WorkflowLog, error) {
	query := `
		SELECT id, topic_id, attempt, step_number, step_name, status,
			log_message, execution_time_ms, created_at
		FROM workflow_logs
		WHERE topic_id = $1 AND attempt = $2
		ORDER BY step_number ASC`

	rows, err := r.db.Query(ctx, query, topicID, attempt)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow logs: %w", err)
	}
	defer rows.Close()

	logs := make([]domain.WorkflowLog, 0, 5)
	for rows.Next() {
		var l domain.WorkflowLog
		if err := rows.Scan(
			&l.ID, &l.TopicID, &l.Attempt, &l.StepNumber, &l.StepName, &l.Status,
			&l.Message, &l.ExecutionTimeMs, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workflow log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow logs: %w", err)
	}
	return logs, nil
}
