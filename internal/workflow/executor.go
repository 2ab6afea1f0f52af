package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/observability"
)

// Clock abstracts wall-clock time for the executor and orchestrator.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// StepPolicy holds the retry configuration for a single step.
// Only transient failures are retried.
type StepPolicy struct {
	// MaxAttempts is the total number of executions, including the first.
	// Values below one mean one.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier controls exponential growth of the backoff interval.
	BackoffMultiplier float64

	// MaxBackoff caps the backoff interval.
	MaxBackoff time.Duration
}

// PolicyFromConfig builds the default step policy from workflow settings.
func PolicyFromConfig(cfg config.WorkflowConfig) StepPolicy {
	return StepPolicy{
		MaxAttempts:       cfg.TransientRetries + 1,
		InitialBackoff:    cfg.RetryBackoff,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * cfg.RetryBackoff,
	}
}

// backoffForAttempt computes the backoff duration for the given attempt (0-indexed).
func (p StepPolicy) backoffForAttempt(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffMultiplier)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// StepOutcome is the settled result of one step.
type StepOutcome struct {
	Step Step

	// Log is the entry to persist. It is zero when Interrupted is true.
	// TopicID and Attempt are left for the caller to fill.
	Log domain.WorkflowLog

	// Err is the last error returned by the step, nil on success.
	Err error

	// Class is the classification of Err.
	Class ErrorClass

	// Attempts is the number of executions (1 = succeeded on first try).
	Attempts int

	// Interrupted is true when the context ended before the step settled.
	// No log is written for an interrupted step.
	Interrupted bool
}

// Failed reports whether the step settled with an error.
func (o StepOutcome) Failed() bool {
	return o.Err != nil && !o.Interrupted
}

// StepFunc performs one step and returns its success message.
type StepFunc func(ctx context.Context) (string, error)

// StepExecutor runs steps with timing, retry, panic recovery and classification.
// It is safe for concurrent use once configured.
type StepExecutor struct {
	defaultPolicy StepPolicy
	policies      map[int]StepPolicy
	clock         Clock
	sleep         func(ctx context.Context, d time.Duration) error
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewStepExecutor creates an executor applying policy to every step.
// metrics may be nil.
func NewStepExecutor(policy StepPolicy, clock Clock, metrics *observability.Metrics, logger zerolog.Logger) *StepExecutor {
	if clock == nil {
		clock = SystemClock{}
	}
	return &StepExecutor{
		defaultPolicy: policy,
		policies:      make(map[int]StepPolicy),
		clock:         clock,
		sleep:         sleepContext,
		metrics:       metrics,
		logger:        logger.With().Str("component", "step_executor").Logger(),
	}
}

// SetPolicy overrides the retry policy of a single step. It must be called
// before the executor is shared.
func (e *StepExecutor) SetPolicy(step Step, policy StepPolicy) {
	e.policies[step.Number] = policy
}

// policyFor returns the policy of step. Result persistence never retries.
func (e *StepExecutor) policyFor(step Step) StepPolicy {
	policy, ok := e.policies[step.Number]
	if !ok {
		policy = e.defaultPolicy
	}
	if step.Number == StepResultPersistence.Number || policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return policy
}

// Run executes work for step. A transient failure is retried per the step's
// policy, a panic becomes an internal failure, and a done ctx yields an
// interrupted outcome with no log.
func (e *StepExecutor) Run(ctx context.Context, step Step, work StepFunc) StepOutcome {
	logger := observability.WithStepContext(observability.FromContext(ctx, e.logger), step.Number, step.Name)
	policy := e.policyFor(step)
	start := e.clock.Now()

	outcome := StepOutcome{Step: step}
	var message string
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return e.interrupted(outcome, ctx.Err(), logger)
		}

		message, outcome.Err = runGuarded(ctx, work)
		outcome.Attempts = attempt + 1
		if outcome.Err == nil {
			break
		}
		if ctx.Err() != nil {
			return e.interrupted(outcome, outcome.Err, logger)
		}

		outcome.Class = Classify(outcome.Err)
		if outcome.Class != ClassTransient || attempt == policy.MaxAttempts-1 {
			break
		}

		backoff := policy.backoffForAttempt(attempt)
		e.metrics.RecordStepRetry(step.Name)
		logger.Info().
			Err(outcome.Err).
			Int("attempt", attempt+1).
			Int("max_attempts", policy.MaxAttempts).
			Dur("backoff", backoff).
			Msg("retrying step after transient failure")
		if err := e.sleep(ctx, backoff); err != nil {
			return e.interrupted(outcome, err, logger)
		}
	}

	end := e.clock.Now()
	elapsed := end.Sub(start)
	outcome.Log = domain.WorkflowLog{
		StepNumber:      step.Number,
		StepName:        step.Name,
		ExecutionTimeMs: elapsed.Milliseconds(),
		CreatedAt:       end,
	}

	if outcome.Err != nil {
		outcome.Log.Status = domain.LogStatusFailed
		outcome.Log.Message = failureMessage(outcome.Class, outcome.Err)
		e.metrics.RecordStep(step.Name, string(domain.LogStatusFailed), elapsed.Seconds())
		logger.Warn().
			Err(outcome.Err).
			Str("class", string(outcome.Class)).
			Int("attempts", outcome.Attempts).
			Int64("execution_time_ms", outcome.Log.ExecutionTimeMs).
			Msg("step failed")
		return outcome
	}

	outcome.Log.Status = domain.LogStatusCompleted
	outcome.Log.Message = message
	e.metrics.RecordStep(step.Name, string(domain.LogStatusCompleted), elapsed.Seconds())
	logger.Debug().
		Int64("execution_time_ms", outcome.Log.ExecutionTimeMs).
		Msg("step completed")
	return outcome
}

func (e *StepExecutor) interrupted(outcome StepOutcome, err error, logger zerolog.Logger) StepOutcome {
	outcome.Interrupted = true
	outcome.Err = err
	outcome.Class = ""
	outcome.Log = domain.WorkflowLog{}
	logger.Info().Err(err).Msg("step interrupted")
	return outcome
}

// runGuarded calls work and converts a panic into an error.
func runGuarded(ctx context.Context, work StepFunc) (message string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return work(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
