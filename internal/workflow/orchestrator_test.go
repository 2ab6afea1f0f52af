package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/repository"
	"github.com/helixir/research-agent-service/internal/repository/repotest"
	"github.com/helixir/research-agent-service/internal/sources"
)

// fakeGatherer returns fixed batches, or runs fetch when set.
type fakeGatherer struct {
	batches  []sources.Batch
	outcomes []sources.AdapterOutcome
	fetch    func(ctx context.Context, topic string) ([]sources.Batch, []sources.AdapterOutcome)

	calls     int
	lastTopic string
	lastLimit int
}

func (g *fakeGatherer) FetchAll(ctx context.Context, topic string, limit int, _ time.Duration) ([]sources.Batch, []sources.AdapterOutcome) {
	g.calls++
	g.lastTopic = topic
	g.lastLimit = limit
	if g.fetch != nil {
		return g.fetch(ctx, topic)
	}
	return g.batches, g.outcomes
}

// passthroughAggregator turns every article into a candidate.
type passthroughAggregator struct {
	err   error
	errs  []error
	calls int
}

func (a *passthroughAggregator) Aggregate(batches []sources.Batch) ([]domain.ResultCandidate, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	var out []domain.ResultCandidate
	for _, b := range batches {
		for _, art := range b.Articles {
			out = append(out, domain.ResultCandidate{
				Title:     art.Title,
				URL:       art.URL,
				Summary:   art.Text,
				Keywords:  []string{"quantum"},
				SourceAPI: art.Source,
			})
		}
	}
	return out, nil
}

func sampleGatherer() *fakeGatherer {
	return &fakeGatherer{
		batches: []sources.Batch{
			{Source: "Wikipedia", Articles: []domain.RawArticle{
				{Title: "Quantum computing", URL: "https://w.example/qc", Text: "Qubits.", Source: "Wikipedia"},
				{Title: "Qubit", URL: "https://w.example/qubit", Text: "Unit.", Source: "Wikipedia"},
			}},
			{Source: "NewsAPI"},
		},
		outcomes: []sources.AdapterOutcome{
			{Name: "Wikipedia", Count: 2},
			{Name: "NewsAPI", Err: errors.New("unauthorized")},
		},
	}
}

type orchestratorFixture struct {
	gateway    *repotest.Gateway
	gatherer   *fakeGatherer
	aggregator *passthroughAggregator
	orch       *Orchestrator
}

func newFixture(t *testing.T, opts ...OrchestratorOption) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		gateway:    repotest.NewGateway(),
		gatherer:   sampleGatherer(),
		aggregator: &passthroughAggregator{},
	}
	opts = append([]OrchestratorOption{WithLogger(zerolog.Nop())}, opts...)
	f.orch = NewOrchestrator(f.gateway, f.gatherer, f.aggregator, Config{
		GatherLimit:   5,
		GatherTimeout: time.Second,
		StaleAfter:    5 * time.Minute,
	}, opts...)
	return f
}

func (f *orchestratorFixture) create(t *testing.T, topic string) int64 {
	t.Helper()
	created, err := f.gateway.CreateTopic(context.Background(), topic)
	require.NoError(t, err)
	return created.ID
}

func (f *orchestratorFixture) state(t *testing.T, id int64) (*domain.ResearchTopic, []domain.WorkflowLog, []domain.ResearchResult) {
	t.Helper()
	ctx := context.Background()
	topic, err := f.gateway.GetTopic(ctx, id)
	require.NoError(t, err)
	logs, err := f.gateway.ListLogs(ctx, id, topic.Attempt)
	require.NoError(t, err)
	results, err := f.gateway.ListResults(ctx, id, topic.Attempt)
	require.NoError(t, err)
	return topic, logs, results
}

func TestOrchestrator_Process_Completes(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "  Quantum Computing  ")

	require.NoError(t, f.orch.Process(context.Background(), id))

	topic, logs, results := f.state(t, id)
	assert.Equal(t, domain.TopicStatusCompleted, topic.Status)
	assert.Equal(t, 1, topic.Attempt)
	assert.Equal(t, "Quantum Computing", f.gatherer.lastTopic)
	assert.Equal(t, 5, f.gatherer.lastLimit)

	require.Len(t, logs, 5)
	for i, log := range logs {
		assert.Equal(t, i+1, log.StepNumber)
		assert.Equal(t, Steps[i].Name, log.StepName)
		assert.Equal(t, domain.LogStatusCompleted, log.Status)
		assert.Equal(t, 1, log.Attempt)
	}
	assert.Equal(t, `Validated topic "Quantum Computing"`, logs[0].Message)
	assert.Equal(t, "Fetched 2 articles from external sources (2 from Wikipedia; failed: NewsAPI)", logs[1].Message)
	assert.Equal(t, "Processed 2 articles with summaries and keywords", logs[2].Message)
	assert.Equal(t, "Saved 2 research results", logs[3].Message)
	assert.Equal(t, "Research workflow completed with 2 results", logs[4].Message)

	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Position)
	assert.Equal(t, "Quantum computing", results[0].Title)
	assert.Equal(t, 1, results[1].Position)
}

func TestOrchestrator_Process_InvalidTopic(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, " \t\n ")

	require.NoError(t, f.orch.Process(context.Background(), id))

	topic, logs, results := f.state(t, id)
	assert.Equal(t, domain.TopicStatusFailed, topic.Status)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].StepNumber)
	assert.Equal(t, domain.LogStatusFailed, logs[0].Status)
	assert.Equal(t, "validation: topic must not be empty", logs[0].Message)
	assert.Empty(t, results)
	assert.Zero(t, f.gatherer.calls)
}

func TestOrchestrator_Process_AllAdaptersFail(t *testing.T) {
	f := newFixture(t)
	f.gatherer.batches = []sources.Batch{{Source: "Wikipedia"}, {Source: "HackerNews"}}
	f.gatherer.outcomes = []sources.AdapterOutcome{
		{Name: "Wikipedia", Err: context.DeadlineExceeded},
		{Name: "HackerNews", Err: errors.New("502")},
	}
	id := f.create(t, "Quantum Computing")

	require.NoError(t, f.orch.Process(context.Background(), id))

	topic, logs, results := f.state(t, id)
	assert.Equal(t, domain.TopicStatusCompleted, topic.Status)
	assert.Empty(t, results)
	require.Len(t, logs, 5)
	assert.Equal(t, "No articles found (failed: Wikipedia, HackerNews)", logs[1].Message)
	assert.Equal(t, "Saved 0 research results", logs[3].Message)
	assert.Equal(t, "Research workflow completed with 0 results", logs[4].Message)
}

func TestOrchestrator_Process_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.SaveResultsErr = errors.New("value too long for type character varying(500)")
	id := f.create(t, "Quantum Computing")

	require.NoError(t, f.orch.Process(context.Background(), id))

	topic, logs, results := f.state(t, id)
	assert.Equal(t, domain.TopicStatusFailed, topic.Status)
	assert.Empty(t, results)
	require.Len(t, logs, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.LogStatusCompleted, logs[i].Status)
	}
	assert.Equal(t, 4, logs[3].StepNumber)
	assert.Equal(t, domain.LogStatusFailed, logs[3].Status)
	assert.Equal(t, "persistence: save_results: value too long for type character varying(500)", logs[3].Message)
}

func TestOrchestrator_Process_AggregationInvariant(t *testing.T) {
	f := newFixture(t)
	f.aggregator.err = fmt.Errorf("%w: unknown source %q", ErrAggregationInvariant, "Scopus")
	id := f.create(t, "Quantum Computing")

	require.NoError(t, f.orch.Process(context.Background(), id))

	topic, logs, _ := f.state(t, id)
	assert.Equal(t, domain.TopicStatusFailed, topic.Status)
	require.Len(t, logs, 3)
	assert.Equal(t, `aggregation: aggregation invariant violated: unknown source "Scopus"`, logs[2].Message)
}

func TestOrchestrator_Process_RetriesTransientStep(t *testing.T) {
	executor := NewStepExecutor(StepPolicy{MaxAttempts: 2}, SystemClock{}, nil, zerolog.Nop())
	f := newFixture(t, WithExecutor(executor))
	f.aggregator.errs = []error{transientErr}
	id := f.create(t, "Quantum Computing")

	require.NoError(t, f.orch.Process(context.Background(), id))

	topic, logs, _ := f.state(t, id)
	assert.Equal(t, domain.TopicStatusCompleted, topic.Status)
	assert.Equal(t, 2, f.aggregator.calls)
	require.Len(t, logs, 5)
	assert.Equal(t, domain.LogStatusCompleted, logs[2].Status)
}

func TestOrchestrator_Process_RedeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Quantum Computing")

	require.NoError(t, f.orch.Process(context.Background(), id))
	writes := f.gateway.Writes()

	require.NoError(t, f.orch.Process(context.Background(), id))
	require.NoError(t, f.orch.Process(context.Background(), id))

	assert.Equal(t, writes, f.gateway.Writes())
	assert.Equal(t, 1, f.gatherer.calls)
	topic, _, _ := f.state(t, id)
	assert.Equal(t, 1, topic.Attempt)
}

func TestOrchestrator_Process_ConcurrentDeliveriesClaimOnce(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Quantum Computing")

	const workers = 16
	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- f.orch.Process(context.Background(), id)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	topic, logs, results := f.state(t, id)
	assert.Equal(t, domain.TopicStatusCompleted, topic.Status)
	assert.Equal(t, 1, topic.Attempt)
	require.Len(t, logs, 5)
	for i, l := range logs {
		assert.Equal(t, i+1, l.StepNumber)
		assert.Equal(t, 1, l.Attempt)
	}
	assert.Len(t, results, 2)
	assert.Equal(t, 1, f.gatherer.calls)
}

func TestOrchestrator_Process_BusyAndMissing(t *testing.T) {
	t.Run("live attempt owns the topic", func(t *testing.T) {
		f := newFixture(t)
		id := f.create(t, "Quantum Computing")
		claim, err := f.gateway.ClaimTopic(context.Background(), id, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Equal(t, repository.ClaimAcquired, claim.Outcome)

		require.NoError(t, f.orch.Process(context.Background(), id))
		assert.Zero(t, f.gatherer.calls)
		assert.Zero(t, f.gateway.Writes())
	})

	t.Run("unknown topic is dropped", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.orch.Process(context.Background(), 404))
		assert.Zero(t, f.gatherer.calls)
	})

	t.Run("claim failure is returned", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.ClaimErr = errors.New("connection refused")
		err := f.orch.Process(context.Background(), 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "claim topic 1")
	})
}

func TestOrchestrator_Process_Interrupted(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gatherer.fetch = func(ctx context.Context, topic string) ([]sources.Batch, []sources.AdapterOutcome) {
		cancel()
		return nil, nil
	}
	id := f.create(t, "Quantum Computing")

	require.NoError(t, f.orch.Process(ctx, id))

	topic, logs, results := f.state(t, id)
	assert.Equal(t, domain.TopicStatusProcessing, topic.Status)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].StepNumber)
	assert.Empty(t, results)
}

func TestOrchestrator_Process_StaleAttemptIsSuperseded(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Quantum Computing")

	// Another worker takes over while this attempt is gathering.
	f.gatherer.fetch = func(ctx context.Context, topic string) ([]sources.Batch, []sources.AdapterOutcome) {
		claim, err := f.gateway.ClaimTopic(ctx, id, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, repository.ClaimAcquired, claim.Outcome)
		return nil, nil
	}

	require.NoError(t, f.orch.Process(context.Background(), id))

	topic, err := f.gateway.GetTopic(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TopicStatusProcessing, topic.Status)
	assert.Equal(t, 2, topic.Attempt)

	first, err := f.gateway.ListLogs(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Len(t, first, 1, "superseded attempt stops writing after the takeover")
}

func TestOrchestrator_Process_LogOrdering(t *testing.T) {
	f := newFixture(t)
	ids := []int64{f.create(t, "alpha topic"), f.create(t, "beta topic")}
	f.gateway.Put(domain.ResearchTopic{ID: 100, Topic: " ", Status: domain.TopicStatusPending})
	ids = append(ids, 100)

	for _, id := range ids {
		require.NoError(t, f.orch.Process(context.Background(), id))
		_, logs, _ := f.state(t, id)
		for i, log := range logs {
			assert.Equal(t, i+1, log.StepNumber, "topic %d", id)
		}
	}
}

func TestGatherMessage(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []sources.AdapterOutcome
		want     string
	}{
		{name: "none", want: "No articles found"},
		{
			name:     "zero articles without failures",
			outcomes: []sources.AdapterOutcome{{Name: "Wikipedia"}},
			want:     "No articles found",
		},
		{
			name: "mixed",
			outcomes: []sources.AdapterOutcome{
				{Name: "Wikipedia", Count: 2},
				{Name: "NewsAPI", Count: 0},
				{Name: "HackerNews", Count: 1},
				{Name: "Reddit", Err: errors.New("403")},
			},
			want: "Fetched 3 articles from external sources (2 from Wikipedia, 1 from HackerNews; failed: Reddit)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gatherMessage(tt.outcomes))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 50))
	assert.Equal(t, "ééé", preview("éééé", 3))
}
