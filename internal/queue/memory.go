package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/research-agent-service/internal/observability"
)

// DefaultBufferSize is the memory queue capacity when none is configured.
const DefaultBufferSize = 1024

// MemoryQueue is an in-process queue backed by a buffered channel.
// It is safe for concurrent use.
type MemoryQueue struct {
	jobs    chan Job
	done    chan struct{}
	metrics *observability.Metrics

	// mu orders timers.Add in Nack before timers.Wait in Close.
	mu     sync.Mutex
	closed bool
	timers sync.WaitGroup
}

// Compile-time check that MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a memory queue holding up to size pending jobs.
// metrics may be nil.
func NewMemoryQueue(size int, metrics *observability.Metrics) *MemoryQueue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &MemoryQueue{
		jobs:    make(chan Job, size),
		done:    make(chan struct{}),
		metrics: metrics,
	}
}

// Enqueue adds a job, blocking while the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		q.metrics.RecordJobEnqueued(BackendMemory)
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a job is available.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Delivery, error) {
	select {
	case job := <-q.jobs:
		return Delivery{Job: job, ReceiptID: uuid.NewString()}, nil
	case <-q.done:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Ack is a no-op; a dequeued job is already removed.
func (q *MemoryQueue) Ack(context.Context, Delivery) error {
	return nil
}

// Nack re-enqueues the job after delay. Jobs pending redelivery when the
// queue closes are dropped; the sweeper recovers their topics.
func (q *MemoryQueue) Nack(_ context.Context, d Delivery, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.timers.Add(1)
	q.mu.Unlock()

	job := d.Job
	job.Redeliveries++
	q.metrics.RecordJobNacked(BackendMemory)

	go func() {
		defer q.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-q.done:
			return
		}
		select {
		case q.jobs <- job:
		case <-q.done:
		}
	}()
	return nil
}

// Len returns the number of jobs waiting.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Close stops the queue. Blocked Dequeue and Enqueue calls return ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	q.timers.Wait()
	return nil
}
