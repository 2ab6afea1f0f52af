package repository

import (
	"context"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
)

// TopicRepository handles research topic persistence and status transitions.
type TopicRepository interface {
	// Create inserts a new pending topic with attempt 0.
	Create(ctx context.Context, topic string) (*domain.ResearchTopic, error)

	// Get retrieves a topic by ID.
	// Returns domain.ErrNotFound if no matching topic exists.
	Get(ctx context.Context, id int64) (*domain.ResearchTopic, error)

	// Claim atomically moves a pending topic, or a processing topic whose
	// heartbeat is older than staleBefore, into processing and increments its
	// attempt. It returns nil without error when the row did not qualify.
	Claim(ctx context.Context, id int64, staleBefore time.Time) (*domain.ResearchTopic, error)

	// Touch refreshes the heartbeat of a processing attempt.
	// It returns false when the attempt no longer owns the topic.
	Touch(ctx context.Context, id int64, attempt int) (bool, error)

	// Finish moves a processing attempt to a terminal status.
	// It returns false when the attempt no longer owns the topic.
	Finish(ctx context.Context, id int64, attempt int, status domain.TopicStatus) (bool, error)

	// List retrieves topics newest first, with the total count of matching rows.
	List(ctx context.Context, filter domain.TopicFilter) ([]*domain.ResearchTopic, int64, error)

	// FindRecoverable returns processing topics with a heartbeat older than
	// staleBefore and pending topics not updated since pendingBefore.
	FindRecoverable(ctx context.Context, staleBefore, pendingBefore time.Time, limit int) ([]RecoverableTopic, error)

	// DeleteFinishedBefore removes completed and failed topics last updated
	// before the cutoff. Logs and results cascade.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// RecoverableTopic identifies a topic the sweeper should re-enqueue.
type RecoverableTopic struct {
	ID     int64
	Status domain.TopicStatus
}
