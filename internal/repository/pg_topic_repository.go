package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/research-agent-service/internal/domain"
)

const topicColumns = "id, topic, status, attempt, heartbeat_at, created_at, updated_at"

// Compile-time interface verification.
var _ TopicRepository = (*PgTopicRepository)(nil)

// PgTopicRepository is a PostgreSQL implementation of TopicRepository.
type PgTopicRepository struct {
	db DBTX
}

// NewPgTopicRepository creates a new PostgreSQL topic repository.
func NewPgTopicRepository(db DBTX) *PgTopicRepository {
	return &PgTopicRepository{db: db}
}

// Create inserts a new pending topic.
func (r *PgTopicRepository) Create(ctx context.Context, topic string) (*domain.ResearchTopic, error) {
	normalized, err := domain.BoundTopic(topic)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO research_topics (topic, status, attempt, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		RETURNING ` + topicColumns

	row := r.db.QueryRow(ctx, query, normalized, domain.TopicStatusPending, time.Now().UTC())
	created, err := scanTopic(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	return created, nil
}

// Get retrieves a topic by ID.
func (r *PgTopicRepository) Get(ctx context.Context, id int64) (*domain.ResearchTopic, error) {
	query := `SELECT ` + topicColumns + ` FROM research_topics WHERE id = $1`

	topic, err := scanTopic(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("topic", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return topic, nil
}

// Claim performs the pending -> processing compare-and-set.
func (r *PgTopicRepository) Claim(ctx context.Context, id int64, staleBefore time.Time) (*domain.ResearchTopic, error) {
	query := `
		UPDATE research_topics
		SET status = $2, attempt = attempt + 1, heartbeat_at = $3, updated_at = $3
		WHERE id = $1
			AND (status = $4 OR (status = $2 AND COALESCE(heartbeat_at, updated_at) < $5))
		RETURNING ` + topicColumns

	row := r.db.QueryRow(ctx, query,
		id, domain.TopicStatusProcessing, time.Now().UTC(), domain.TopicStatusPending, staleBefore)
	topic, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim topic: %w", err)
	}
	return topic, nil
}

// Touch refreshes the heartbeat of a processing attempt.
func (r *PgTopicRepository) Touch(ctx context.Context, id int64, attempt int) (bool, error) {
	query := `
		UPDATE research_topics
		SET heartbeat_at = $3
		WHERE id = $1 AND attempt = $2 AND status = $4`

	tag, err := r.db.Exec(ctx, query, id, attempt, time.Now().UTC(), domain.TopicStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to refresh heartbeat: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finish moves a processing attempt to a terminal status.
func (r *PgTopicRepository) Finish(ctx context.Context, id int64, attempt int, status domain.TopicStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: processing to %s", domain.ErrInvalidTransition, status)
	}

	query := `
		UPDATE research_topics
		SET status = $3, heartbeat_at = $4, updated_at = $4
		WHERE id = $1 AND attempt = $2 AND status = $5`

	tag, err := r.db.Exec(ctx, query, id, attempt, status, time.Now().UTC(), domain.TopicStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to finish topic: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List retrieves topics newest first.
func (r *PgTopicRepository) List(ctx context.Context, filter domain.TopicFilter) ([]*domain.ResearchTopic, int64, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	where := squirrel.And{}
	if filter.Status != "" {
		where = append(where, squirrel.Eq{"status": filter.Status})
	}

	countQuery := psql.Select("COUNT(*)").From("research_topics")
	selectQuery := psql.Select(topicColumns).From("research_topics")
	if len(where) > 0 {
		countQuery = countQuery.Where(where)
		selectQuery = selectQuery.Where(where)
	}

	countSQL, countArgs, err := countQuery.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int64
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count topics: %w", err)
	}

	listSQL, listArgs, err := selectQuery.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	topics := make([]*domain.ResearchTopic, 0, filter.Limit)
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating topics: %w", err)
	}

	return topics, total, nil
}

// FindRecoverable returns stale processing topics and orphaned pending topics, oldest first.
func (r *PgTopicRepository) FindRecoverable(ctx context.Context, staleBefore, pendingBefore time.Time, limit int) ([]RecoverableTopic, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}

	query := `
		SELECT id, status
		FROM research_topics
		WHERE (status = $1 AND COALESCE(heartbeat_at, updated_at) < $2)
			OR (status = $3 AND updated_at < $4)
		ORDER BY updated_at ASC
		LIMIT $5`

	rows, err := r.db.Query(ctx, query,
		domain.TopicStatusProcessing, staleBefore, domain.TopicStatusPending, pendingBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find recoverable topics: %w", err)
	}
	defer rows.Close()

	var found []RecoverableTopic
	for rows.Next() {
		var rt RecoverableTopic
		if err := rows.Scan(&rt.ID, &rt.Status); err != nil {
			return nil, fmt.Errorf("failed to scan recoverable topic: %w", err)
		}
		found = append(found, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recoverable topics: %w", err)
	}
	return found, nil
}

// DeleteFinishedBefore removes terminal topics older than the cutoff.
func (r *PgTopicRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM research_topics
		WHERE status IN ($1, $2) AND updated_at < $3`

	tag, err := r.db.Exec(ctx, query, domain.TopicStatusCompleted, domain.TopicStatusFailed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished topics: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTopic(row pgx.Row) (*domain.ResearchTopic, error) {
	var t domain.ResearchTopic
	err := row.Scan(
		&t.ID,
		&t.Topic,
		&t.Status,
		&t.Attempt,
		&t.HeartbeatAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
