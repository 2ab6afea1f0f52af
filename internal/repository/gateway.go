package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/research-agent-service/internal/database"
	"github.com/helixir/research-agent-service/internal/domain"
)

// Advisory lock keys serializing maintenance across service instances.
const (
	sweepLockKey   int64 = 0x72657377 // "resw"
	cleanupLockKey int64 = 0x7265636c // "recl"
)

// ClaimOutcome classifies the result of a claim attempt.
type ClaimOutcome string

const (
	// ClaimAcquired means the caller owns a new attempt.
	ClaimAcquired ClaimOutcome = "acquired"
	// ClaimTerminal means the topic already completed or failed.
	ClaimTerminal ClaimOutcome = "terminal"
	// ClaimBusy means a live attempt owns the topic.
	ClaimBusy ClaimOutcome = "busy"
	// ClaimNotFound means the topic does not exist.
	ClaimNotFound ClaimOutcome = "not_found"
)

// ClaimResult is the outcome of ClaimTopic. Topic is nil for ClaimNotFound.
type ClaimResult struct {
	Outcome ClaimOutcome
	Topic   *domain.ResearchTopic
}

// Gateway is the persistence surface used by the workflow orchestrator and
// the research service.
type Gateway interface {
	CreateTopic(ctx context.Context, topic string) (*domain.ResearchTopic, error)
	ClaimTopic(ctx context.Context, id int64, staleBefore time.Time) (ClaimResult, error)
	// AppendLog records a settled step and refreshes the attempt heartbeat.
	AppendLog(ctx context.Context, log *domain.WorkflowLog) error
	SaveResults(ctx context.Context, topicID int64, attempt int, results []domain.ResearchResult) error
	CompleteTopic(ctx context.Context, topicID int64, attempt int, log *domain.WorkflowLog) error
	FailTopic(ctx context.Context, topicID int64, attempt int, log *domain.WorkflowLog) error
	GetTopic(ctx context.Context, id int64) (*domain.ResearchTopic, error)
	ListLogs(ctx context.Context, topicID int64, attempt int) ([]domain.WorkflowLog, error)
	ListResults(ctx context.Context, topicID int64, attempt int) ([]domain.ResearchResult, error)
}

// TopicLister lists topics for the API layer.
type TopicLister interface {
	ListTopics(ctx context.Context, filter domain.TopicFilter) ([]*domain.ResearchTopic, int64, error)
}

// Maintenance is used by the background sweeper and cleaner. Each call runs
// under an advisory lock; ran is false when another instance holds it.
type Maintenance interface {
	FindRecoverable(ctx context.Context, staleBefore, pendingBefore time.Time, limit int) (topics []RecoverableTopic, ran bool, err error)
	PurgeFinished(ctx context.Context, before time.Time) (deleted int64, ran bool, err error)
}

// Compile-time interface verification.
var (
	_ Gateway     = (*PgGateway)(nil)
	_ TopicLister = (*PgGateway)(nil)
	_ Maintenance = (*PgGateway)(nil)
)

// PgGateway implements Gateway on top of the pgx repositories.
type PgGateway struct {
	db *database.DB
}

// NewPgGateway creates a gateway backed by db.
func NewPgGateway(db *database.DB) *PgGateway {
	return &PgGateway{db: db}
}

// CreateTopic inserts a new pending topic.
func (g *PgGateway) CreateTopic(ctx context.Context, topic string) (*domain.ResearchTopic, error) {
	var created *domain.ResearchTopic
	err := g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = NewPgTopicRepository(tx).Create(ctx, topic)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ClaimTopic tries to start a new attempt and classifies why it could not.
func (g *PgGateway) ClaimTopic(ctx context.Context, id int64, staleBefore time.Time) (ClaimResult, error) {
	topics := NewPgTopicRepository(g.db)

	claimed, err := topics.Claim(ctx, id, staleBefore)
	if err != nil {
		return ClaimResult{}, err
	}
	if claimed != nil {
		return ClaimResult{Outcome: ClaimAcquired, Topic: claimed}, nil
	}

	current, err := topics.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ClaimResult{Outcome: ClaimNotFound}, nil
		}
		return ClaimResult{}, err
	}
	if current.Status.IsTerminal() {
		return ClaimResult{Outcome: ClaimTerminal, Topic: current}, nil
	}
	return ClaimResult{Outcome: ClaimBusy, Topic: current}, nil
}

// AppendLog records a settled step for a live attempt.
func (g *PgGateway) AppendLog(ctx context.Context, log *domain.WorkflowLog) error {
	return g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := fence(ctx, tx, log.TopicID, log.Attempt); err != nil {
			return err
		}
		return NewPgWorkflowLogRepository(tx).Append(ctx, log)
	})
}

// SaveResults replaces the results of an attempt in one transaction.
func (g *PgGateway) SaveResults(ctx context.Context, topicID int64, attempt int, results []domain.ResearchResult) error {
	err := g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := fence(ctx, tx, topicID, attempt); err != nil {
			return err
		}
		return NewPgResultRepository(tx).ReplaceAttempt(ctx, topicID, attempt, results)
	})
	if err != nil && !errors.Is(err, ErrAttemptSuperseded) {
		return domain.NewPersistenceError("save_results", err)
	}
	return err
}

// CompleteTopic appends the final log and marks the attempt completed.
func (g *PgGateway) CompleteTopic(ctx context.Context, topicID int64, attempt int, log *domain.WorkflowLog) error {
	return g.finish(ctx, topicID, attempt, domain.TopicStatusCompleted, log)
}

// FailTopic appends the failing step's log and marks the attempt failed.
func (g *PgGateway) FailTopic(ctx context.Context, topicID int64, attempt int, log *domain.WorkflowLog) error {
	return g.finish(ctx, topicID, attempt, domain.TopicStatusFailed, log)
}

func (g *PgGateway) finish(ctx context.Context, topicID int64, attempt int, status domain.TopicStatus, log *domain.WorkflowLog) error {
	return g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		ok, err := NewPgTopicRepository(tx).Finish(ctx, topicID, attempt, status)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAttemptSuperseded
		}
		if log == nil {
			return nil
		}
		return NewPgWorkflowLogRepository(tx).Append(ctx, log)
	})
}

// GetTopic retrieves a topic by ID.
func (g *PgGateway) GetTopic(ctx context.Context, id int64) (*domain.ResearchTopic, error) {
	return NewPgTopicRepository(g.db).Get(ctx, id)
}

// ListLogs returns the logs of one attempt.
func (g *PgGateway) ListLogs(ctx context.Context, topicID int64, attempt int) ([]domain.WorkflowLog, error) {
	return NewPgWorkflowLogRepository(g.db).ListByAttempt(ctx, topicID, attempt)
}

// ListResults returns the results of one attempt.
func (g *PgGateway) ListResults(ctx context.Context, topicID int64, attempt int) ([]domain.ResearchResult, error) {
	return NewPgResultRepository(g.db).ListByAttempt(ctx, topicID, attempt)
}

// ListTopics lists topics newest first.
func (g *PgGateway) ListTopics(ctx context.Context, filter domain.TopicFilter) ([]*domain.ResearchTopic, int64, error) {
	return NewPgTopicRepository(g.db).List(ctx, filter)
}

// FindRecoverable lists topics to re-enqueue while holding the sweep lock.
func (g *PgGateway) FindRecoverable(ctx context.Context, staleBefore, pendingBefore time.Time, limit int) ([]RecoverableTopic, bool, error) {
	var found []RecoverableTopic
	ran, err := g.db.WithAdvisoryLock(ctx, sweepLockKey, func(tx pgx.Tx) error {
		var err error
		found, err = NewPgTopicRepository(tx).FindRecoverable(ctx, staleBefore, pendingBefore, limit)
		return err
	})
	return found, ran, err
}

// PurgeFinished deletes old terminal topics while holding the cleanup lock.
func (g *PgGateway) PurgeFinished(ctx context.Context, before time.Time) (int64, bool, error) {
	var deleted int64
	ran, err := g.db.WithAdvisoryLock(ctx, cleanupLockKey, func(tx pgx.Tx) error {
		var err error
		deleted, err = NewPgTopicRepository(tx).DeleteFinishedBefore(ctx, before)
		return err
	})
	return deleted, ran, err
}

// fence refreshes the heartbeat and fails when the attempt lost ownership.
func fence(ctx context.Context, db DBTX, topicID int64, attempt int) error {
	ok, err := NewPgTopicRepository(db).Touch(ctx, topicID, attempt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAttemptSuperseded
	}
	return nil
}
