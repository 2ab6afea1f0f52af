// Package queue carries research jobs from submission to the worker pool.
//
// Two pull-based backends are provided: an in-process channel queue (memory)
// and a Kafka topic (kafka). Delivery is at-least-once; the orchestrator's
// claim makes redelivery harmless.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helixir/research-agent-service/internal/config"
)

// Backend names accepted by queue.backend.
const (
	BackendMemory   = config.QueueBackendMemory
	BackendKafka    = config.QueueBackendKafka
	BackendTemporal = config.QueueBackendTemporal
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Job asks a worker to process one topic.
type Job struct {
	TopicID    int64     `json:"topic_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Redeliveries counts how often the job was returned with Nack.
	Redeliveries int `json:"redeliveries,omitempty"`
}

// Delivery is a job handed to a consumer. It must be settled with exactly
// one of Ack or Nack.
type Delivery struct {
	Job Job

	// ReceiptID identifies the delivery for Ack and Nack.
	ReceiptID string
}

// Enqueuer publishes jobs. It is the only capability the submission path and
// the sweeper need, and the Temporal backend implements only this.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Queue is a pull-based job queue consumed by the worker pool.
type Queue interface {
	Enqueuer

	// Dequeue blocks until a job is available, ctx is done or the queue closes.
	Dequeue(ctx context.Context) (Delivery, error)

	// Ack settles a delivery as processed.
	Ack(ctx context.Context, d Delivery) error

	// Nack returns a delivery for redelivery after delay.
	Nack(ctx context.Context, d Delivery, delay time.Duration) error

	// Close releases the queue's resources.
	Close() error
}

func encodeJob(job Job) ([]byte, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return b, nil
}

func decodeJob(b []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.TopicID <= 0 {
		return Job{}, fmt.Errorf("decode job: invalid topic id %d", job.TopicID)
	}
	return job, nil
}
