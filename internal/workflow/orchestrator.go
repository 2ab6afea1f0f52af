package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/repository"
	"github.com/helixir/research-agent-service/internal/sources"
)

// topicPreviewLength is the number of characters of the topic echoed in the
// input parsing log.
const topicPreviewLength = 50

// Gatherer fetches articles from every enabled content source.
type Gatherer interface {
	FetchAll(ctx context.Context, topic string, limit int, timeout time.Duration) ([]sources.Batch, []sources.AdapterOutcome)
}

// Aggregator turns gathered batches into ranked result candidates.
type Aggregator interface {
	Aggregate(batches []sources.Batch) ([]domain.ResultCandidate, error)
}

// Config holds the orchestrator settings.
type Config struct {
	// GatherLimit is the total number of articles requested across adapters.
	GatherLimit int

	// GatherTimeout bounds the data gathering step.
	GatherTimeout time.Duration

	// StaleAfter is how long a processing attempt may go without a
	// heartbeat before another worker may take it over.
	StaleAfter time.Duration
}

// Orchestrator runs the research pipeline for one topic at a time.
// It holds no per-topic state and is safe for concurrent use.
type Orchestrator struct {
	gateway    repository.Gateway
	gatherer   Gatherer
	aggregator Aggregator
	executor   *StepExecutor
	clock      Clock
	cfg        Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// OrchestratorOption configures optional Orchestrator dependencies.
type OrchestratorOption func(*Orchestrator)

// WithClock sets the clock used for staleness and durations.
func WithClock(clock Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithExecutor sets the step executor.
func WithExecutor(executor *StepExecutor) OrchestratorOption {
	return func(o *Orchestrator) { o.executor = executor }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithLogger sets the base logger.
func WithLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator creates an orchestrator. Without options it uses the system
// clock, a single-attempt executor and a no-op logger.
func NewOrchestrator(gateway repository.Gateway, gatherer Gatherer, aggregator Aggregator, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gateway:    gateway,
		gatherer:   gatherer,
		aggregator: aggregator,
		clock:      SystemClock{},
		cfg:        cfg,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	if o.executor == nil {
		o.executor = NewStepExecutor(StepPolicy{MaxAttempts: 1}, o.clock, o.metrics, o.logger)
	}
	return o
}

// attempt is the state carried between the steps of one claimed attempt.
type attempt struct {
	topic      *domain.ResearchTopic
	started    time.Time
	batches    []sources.Batch
	candidates []domain.ResultCandidate
	saved      int
}

// Process claims topicID and runs the pipeline to a terminal state.
//
// A topic that is terminal, owned by a live attempt or missing is a no-op.
// Cancelling ctx leaves the topic processing for the sweeper to resume, and
// an attempt superseded by a newer claim stops without further writes. Only
// infrastructure failures, such as a failed claim query, are returned.
func (o *Orchestrator) Process(ctx context.Context, topicID int64) error {
	staleBefore := o.clock.Now().Add(-o.cfg.StaleAfter)
	claim, err := o.gateway.ClaimTopic(ctx, topicID, staleBefore)
	if err != nil {
		return fmt.Errorf("claim topic %d: %w", topicID, err)
	}
	o.metrics.RecordClaim(string(claim.Outcome))

	logger := observability.FromContext(ctx, o.logger).With().Int64("topic_id", topicID).Logger()
	switch claim.Outcome {
	case repository.ClaimAcquired:
	case repository.ClaimNotFound:
		logger.Warn().Msg("dropping job for unknown topic")
		return nil
	case repository.ClaimTerminal:
		logger.Debug().Str("status", string(claim.Topic.Status)).Msg("topic already finished, discarding duplicate job")
		return nil
	case repository.ClaimBusy:
		logger.Debug().Int("attempt", claim.Topic.Attempt).Msg("topic owned by a live attempt, skipping")
		return nil
	default:
		return fmt.Errorf("claim topic %d: unexpected outcome %q", topicID, claim.Outcome)
	}

	topic := claim.Topic
	ctx = observability.WithTopic(ctx, topic.ID, topic.Attempt)
	logger = observability.WithTopicContext(o.logger, topic.ID, topic.Attempt)
	logger.Info().Msg("research attempt started")

	err = o.run(ctx, &attempt{topic: topic, started: o.clock.Now()}, logger)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAttemptSuperseded):
		logger.Info().Msg("attempt superseded by a newer claim, stopping")
		return nil
	case errors.Is(err, errInterrupted):
		o.metrics.RecordAttemptInterrupted()
		logger.Info().Msg("attempt interrupted, topic left for recovery")
		return nil
	default:
		return err
	}
}

// errInterrupted signals that ctx ended mid-attempt.
var errInterrupted = errors.New("attempt interrupted")

// run executes the steps in order. Steps 1 to 4 log after they settle; the
// first fatal step writes its log together with the failed transition.
func (o *Orchestrator) run(ctx context.Context, a *attempt, logger zerolog.Logger) error {
	steps := []struct {
		step Step
		work func(context.Context, *attempt) (string, error)
	}{
		{StepInputParsing, o.parseInput},
		{StepDataGathering, o.gatherData},
		{StepProcessing, o.processArticles},
		{StepResultPersistence, o.persistResults},
	}

	for _, s := range steps {
		work := s.work
		outcome := o.executor.Run(ctx, s.step, func(ctx context.Context) (string, error) {
			return work(ctx, a)
		})
		if outcome.Interrupted {
			if errors.Is(outcome.Err, repository.ErrAttemptSuperseded) {
				return outcome.Err
			}
			return errInterrupted
		}

		entry := o.stamp(outcome.Log, a.topic)
		if outcome.Failed() {
			if errors.Is(outcome.Err, repository.ErrAttemptSuperseded) {
				return outcome.Err
			}
			return o.fail(ctx, a, s.step, entry, logger)
		}
		if err := o.gateway.AppendLog(ctx, entry); err != nil {
			return o.writeError(ctx, "append log", err)
		}
	}

	return o.complete(ctx, a, logger)
}

// complete runs step 5, whose log is written with the completed transition.
func (o *Orchestrator) complete(ctx context.Context, a *attempt, logger zerolog.Logger) error {
	outcome := o.executor.Run(ctx, StepCompletion, func(ctx context.Context) (string, error) {
		start := o.clock.Now()
		msg := fmt.Sprintf("Research workflow completed with %d results", a.saved)
		entry := o.stamp(domain.WorkflowLog{
			StepNumber:      StepCompletion.Number,
			StepName:        StepCompletion.Name,
			Status:          domain.LogStatusCompleted,
			Message:         msg,
			ExecutionTimeMs: o.clock.Now().Sub(start).Milliseconds(),
			CreatedAt:       o.clock.Now(),
		}, a.topic)
		return msg, o.gateway.CompleteTopic(ctx, a.topic.ID, a.topic.Attempt, entry)
	})
	if outcome.Interrupted {
		return errInterrupted
	}
	if outcome.Failed() {
		if errors.Is(outcome.Err, repository.ErrAttemptSuperseded) {
			return outcome.Err
		}
		return o.fail(ctx, a, StepCompletion, o.stamp(outcome.Log, a.topic), logger)
	}

	duration := o.clock.Now().Sub(a.started)
	o.metrics.RecordTopicCompleted(duration.Seconds())
	logger.Info().
		Int("results", a.saved).
		Dur("duration", duration).
		Msg("research attempt completed")
	return nil
}

// fail writes the failed step's log and the failed transition together.
func (o *Orchestrator) fail(ctx context.Context, a *attempt, step Step, entry *domain.WorkflowLog, logger zerolog.Logger) error {
	if err := o.gateway.FailTopic(ctx, a.topic.ID, a.topic.Attempt, entry); err != nil {
		return o.writeError(ctx, "fail topic", err)
	}
	duration := o.clock.Now().Sub(a.started)
	o.metrics.RecordTopicFailed(step.Name, duration.Seconds())
	logger.Warn().
		Int("step_number", step.Number).
		Str("step_name", step.Name).
		Str("message", entry.Message).
		Msg("research attempt failed")
	return nil
}

// writeError maps a failed bookkeeping write to the Process result.
func (o *Orchestrator) writeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, repository.ErrAttemptSuperseded) {
		return err
	}
	if ctx.Err() != nil {
		return errInterrupted
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (o *Orchestrator) stamp(log domain.WorkflowLog, topic *domain.ResearchTopic) *domain.WorkflowLog {
	log.TopicID = topic.ID
	log.Attempt = topic.Attempt
	return &log
}

// parseInput re-validates the stored topic text.
func (o *Orchestrator) parseInput(_ context.Context, a *attempt) (string, error) {
	normalized, err := domain.ValidateTopic(a.topic.Topic)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return fmt.Sprintf("Validated topic %q", preview(normalized, topicPreviewLength)), nil
}

// gatherData queries every adapter. Adapter failures never fail the step.
func (o *Orchestrator) gatherData(ctx context.Context, a *attempt) (string, error) {
	batches, outcomes := o.gatherer.FetchAll(ctx, domain.NormalizeTopic(a.topic.Topic), o.cfg.GatherLimit, o.cfg.GatherTimeout)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	a.batches = batches
	return gatherMessage(outcomes), nil
}

// processArticles dedupes, summarizes and ranks the gathered articles.
func (o *Orchestrator) processArticles(_ context.Context, a *attempt) (string, error) {
	candidates, err := o.aggregator.Aggregate(a.batches)
	if err != nil {
		return "", err
	}
	a.candidates = candidates
	return fmt.Sprintf("Processed %d articles with summaries and keywords", len(candidates)), nil
}

// persistResults replaces this attempt's results in one transaction.
func (o *Orchestrator) persistResults(ctx context.Context, a *attempt) (string, error) {
	results := make([]domain.ResearchResult, len(a.candidates))
	for i, c := range a.candidates {
		results[i] = c.ToResult(a.topic.ID, a.topic.Attempt, i)
	}
	if err := o.gateway.SaveResults(ctx, a.topic.ID, a.topic.Attempt, results); err != nil {
		return "", err
	}
	a.saved = len(results)
	o.metrics.RecordResultsPersisted(len(results))
	return fmt.Sprintf("Saved %d research results", len(results)), nil
}

// gatherMessage summarizes adapter outcomes in priority order, e.g.
// "Fetched 4 articles from external sources (2 from Wikipedia, 2 from NewsAPI; failed: Reddit)".
func gatherMessage(outcomes []sources.AdapterOutcome) string {
	total := 0
	var counts, failed []string
	for _, o := range outcomes {
		if o.Failed() {
			failed = append(failed, o.Name)
			continue
		}
		total += o.Count
		if o.Count > 0 {
			counts = append(counts, fmt.Sprintf("%d from %s", o.Count, o.Name))
		}
	}

	if total == 0 {
		if len(failed) > 0 {
			return "No articles found (failed: " + strings.Join(failed, ", ") + ")"
		}
		return "No articles found"
	}

	detail := strings.Join(counts, ", ")
	if len(failed) > 0 {
		detail += "; failed: " + strings.Join(failed, ", ")
	}
	return fmt.Sprintf("Fetched %d articles from external sources (%s)", total, detail)
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
