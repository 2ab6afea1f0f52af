package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-agent-service/internal/observability"
	"github.com/helixir/research-agent-service/internal/queue"
)

type fakeProcessor struct {
	mu        sync.Mutex
	calls     []int64
	workerIDs map[string]struct{}
	errs      map[int64]error
	panicOn   int64
	done      chan int64
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		workerIDs: make(map[string]struct{}),
		errs:      make(map[int64]error),
		done:      make(chan int64, 16),
	}
}

func (p *fakeProcessor) Process(ctx context.Context, topicID int64) error {
	p.mu.Lock()
	p.calls = append(p.calls, topicID)
	p.workerIDs[observability.WorkerIDFromContext(ctx)] = struct{}{}
	err := p.errs[topicID]
	delete(p.errs, topicID)
	p.mu.Unlock()

	defer func() { p.done <- topicID }()
	if topicID == p.panicOn {
		panic("boom")
	}
	return err
}

func (p *fakeProcessor) wait(t *testing.T, n int) []int64 {
	t.Helper()
	var got []int64
	for len(got) < n {
		select {
		case id := <-p.done:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d jobs, got %v", n, got)
		}
	}
	return got
}

// recordingQueue wraps a MemoryQueue and records settlements.
type recordingQueue struct {
	*queue.MemoryQueue
	mu     sync.Mutex
	acked  []int64
	nacked []int64
	delays []time.Duration
}

func (q *recordingQueue) Ack(ctx context.Context, d queue.Delivery) error {
	q.mu.Lock()
	q.acked = append(q.acked, d.Job.TopicID)
	q.mu.Unlock()
	return q.MemoryQueue.Ack(ctx, d)
}

func (q *recordingQueue) Nack(ctx context.Context, d queue.Delivery, delay time.Duration) error {
	q.mu.Lock()
	q.nacked = append(q.nacked, d.Job.TopicID)
	q.delays = append(q.delays, delay)
	q.mu.Unlock()
	return q.MemoryQueue.Nack(ctx, d, delay)
}

func (q *recordingQueue) settled() (acked, nacked []int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.acked...), append([]int64(nil), q.nacked...)
}

// poolMetrics is shared since promauto registers globally.
var poolMetrics = observability.NewMetrics("worker_pool_test")

func startPool(t *testing.T, q queue.Queue, p Processor, cfg PoolConfig) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(q, p, cfg, poolMetrics, zerolog.Nop())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(queue.NewMemoryQueue(1, nil), newFakeProcessor(), PoolConfig{}, nil, zerolog.Nop())
	assert.Equal(t, DefaultConcurrency, pool.cfg.Concurrency)
	assert.Equal(t, DefaultNackBackoff, pool.cfg.NackBackoff)
}

func TestPool_ProcessesAndAcks(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(8, nil)}
	defer q.Close()
	proc := newFakeProcessor()

	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, q.Enqueue(ctx, queue.Job{TopicID: id}))
	}

	startPool(t, q, proc, PoolConfig{Concurrency: 2})
	got := proc.wait(t, 3)
	assert.ElementsMatch(t, []int64{1, 2, 3}, got)

	assert.Eventually(t, func() bool {
		acked, _ := q.settled()
		return len(acked) == 3
	}, time.Second, 5*time.Millisecond)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	for id := range proc.workerIDs {
		assert.NotEmpty(t, id, "worker ID is propagated through the context")
	}
}

func TestPool_NacksOnError(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(4, nil)}
	defer q.Close()
	proc := newFakeProcessor()
	proc.errs[5] = errors.New("connection refused")

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{TopicID: 5}))
	startPool(t, q, proc, PoolConfig{Concurrency: 1, NackBackoff: 10 * time.Millisecond})

	// First attempt fails, redelivery succeeds.
	got := proc.wait(t, 2)
	assert.Equal(t, []int64{5, 5}, got)

	assert.Eventually(t, func() bool {
		acked, nacked := q.settled()
		return len(acked) == 1 && len(nacked) == 1
	}, time.Second, 5*time.Millisecond)

	q.mu.Lock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, q.delays)
	q.mu.Unlock()
}

func TestPool_RecoversPanics(t *testing.T) {
	q := &recordingQueue{MemoryQueue: queue.NewMemoryQueue(4, nil)}
	defer q.Close()
	proc := newFakeProcessor()
	proc.panicOn = 7

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Job{TopicID: 7}))
	startPool(t, q, proc, PoolConfig{Concurrency: 1, NackBackoff: time.Hour})

	proc.wait(t, 1)
	assert.Eventually(t, func() bool {
		_, nacked := q.settled()
		return len(nacked) == 1
	}, time.Second, 5*time.Millisecond)

	// The worker survives and keeps consuming.
	require.NoError(t, q.Enqueue(ctx, queue.Job{TopicID: 8}))
	assert.Equal(t, []int64{8}, proc.wait(t, 1))
}

func TestPool_StopsOnCancel(t *testing.T) {
	q := queue.NewMemoryQueue(1, nil)
	defer q.Close()

	cancel, errCh := startPool(t, q, newFakeProcessor(), PoolConfig{Concurrency: 3})
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestPool_StopsOnQueueClose(t *testing.T) {
	q := queue.NewMemoryQueue(1, nil)

	_, errCh := startPool(t, q, newFakeProcessor(), PoolConfig{Concurrency: 2})
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after queue close")
	}
}
