// Package research is the application surface of the service: it accepts
// topics, hands them to the job queue and serves their state, logs and
// results to the API layer.
package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/queue"
	"github.com/helixir/research-agent-service/internal/repository"
)

// Store is the persistence the service reads and writes.
type Store interface {
	repository.Gateway
	repository.TopicLister
}

// SubmitRequest is a topic submission. Only the storage bound is checked
// here; an empty topic is accepted and fails at the input parsing step.
type SubmitRequest struct {
	Topic string `validate:"max=500"`
}

// SubmitResponse acknowledges an accepted topic.
type SubmitResponse struct {
	ID     int64              `json:"id"`
	Status domain.TopicStatus `json:"status"`
}

// Service implements topic submission and retrieval.
type Service struct {
	store    Store
	enqueuer queue.Enqueuer
	validate *validator.Validate
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewService creates a research service. metrics may be nil.
func NewService(store Store, enqueuer queue.Enqueuer, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics,
		logger:   logger.With().Str("component", "research_service").Logger(),
	}
}

// Submit bounds and stores a topic, then enqueues exactly one job for it.
// A failed enqueue does not fail the submission: the topic stays pending and
// the sweeper enqueues it once the pending grace period has passed.
func (s *Service) Submit(ctx context.Context, topic string) (SubmitResponse, error) {
	req := SubmitRequest{Topic: domain.NormalizeTopic(topic)}
	if err := s.validate.Struct(req); err != nil {
		return SubmitResponse{}, validationError(err)
	}

	created, err := s.store.CreateTopic(ctx, req.Topic)
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("create topic: %w", err)
	}
	s.metrics.RecordTopicSubmitted()

	logger := observability.WithTopicContext(s.logger, created.ID, created.Attempt)
	job := queue.Job{TopicID: created.ID, EnqueuedAt: time.Now().UTC()}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to enqueue topic, leaving it to the sweeper")
	} else {
		logger.Info().Msg("topic submitted")
	}

	return SubmitResponse{ID: created.ID, Status: created.Status}, nil
}

// GetTopic returns a topic by ID.
func (s *Service) GetTopic(ctx context.Context, id int64) (*domain.ResearchTopic, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.store.GetTopic(ctx, id)
}

// ListLogs returns the logs of the topic's latest attempt in step order.
func (s *Service) ListLogs(ctx context.Context, id int64) ([]domain.WorkflowLog, error) {
	topic, err := s.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListLogs(ctx, topic.ID, topic.Attempt)
}

// ListResults returns the results of the topic's latest attempt in rank order.
func (s *Service) ListResults(ctx context.Context, id int64) ([]domain.ResearchResult, error) {
	topic, err := s.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, topic.ID, topic.Attempt)
}

// GetDetails returns a topic with its latest attempt's logs and results.
func (s *Service) GetDetails(ctx context.Context, id int64) (*domain.TopicDetails, error) {
	topic, err := s.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListLogs(ctx, topic.ID, topic.Attempt)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	results, err := s.store.ListResults(ctx, topic.ID, topic.Attempt)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return &domain.TopicDetails{Topic: topic, Logs: logs, Results: results}, nil
}

// ListTopics returns topics newest first and the total number matching filter.
func (s *Service) ListTopics(ctx context.Context, filter domain.TopicFilter) ([]*domain.ResearchTopic, int64, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.store.ListTopics(ctx, filter)
}

func validateID(id int64) error {
	if id <= 0 {
		return domain.NewValidationError("id", "must be a positive integer")
	}
	return nil
}

// validationError maps validator failures onto domain.ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "max":
		return domain.NewValidationError("topic", fmt.Sprintf("must be at most %s characters", fe.Param()))
	default:
		return domain.NewValidationError("topic", fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}
