package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/observability"
)

// Consumer tuning for the job topic.
const (
	kafkaMinBytes = 1
	kafkaMaxBytes = 10e6
	kafkaMaxWait  = 3 * time.Second
)

// messageWriter is the subset of *kafka.Writer used by KafkaQueue.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the subset of *kafka.Reader used by KafkaQueue.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes jobs to a Kafka topic and consumes them through a
// consumer group. Offsets are committed only on Ack, so a worker crash
// leads to redelivery.
type KafkaQueue struct {
	writer messageWriter
	reader messageReader

	mu       sync.Mutex
	inflight map[string]kafka.Message
	closed   bool

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// Compile-time check that KafkaQueue implements Queue.
var _ Queue = (*KafkaQueue)(nil)

// NewKafkaQueue creates a queue on cfg.Topic. A producer-only process
// (the API server without embedded workers) never calls Dequeue, so the
// reader joins the group lazily on first fetch.
func NewKafkaQueue(cfg config.KafkaConfig, metrics *observability.Metrics, logger zerolog.Logger) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: kafkaMinBytes,
		MaxBytes: kafkaMaxBytes,
		MaxWait:  kafkaMaxWait,
	})
	return newKafkaQueue(writer, reader, metrics, logger)
}

func newKafkaQueue(writer messageWriter, reader messageReader, metrics *observability.Metrics, logger zerolog.Logger) *KafkaQueue {
	return &KafkaQueue{
		writer:   writer,
		reader:   reader,
		inflight: make(map[string]kafka.Message),
		metrics:  metrics,
		logger:   logger.With().Str("component", "kafka_queue").Logger(),
	}
}

// Enqueue publishes the job keyed by topic ID so redeliveries of one topic
// land on the same partition.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	if q.isClosed() {
		return ErrClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	value, err := encodeJob(job)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(job.TopicID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(uuid.NewString())},
		},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish job for topic %d: %w", job.TopicID, err)
	}
	q.metrics.RecordJobEnqueued(BackendKafka)
	return nil
}

// Dequeue fetches the next job. Messages that do not decode are committed
// and skipped.
func (q *KafkaQueue) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		if q.isClosed() {
			return Delivery{}, ErrClosed
		}
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			if q.isClosed() {
				return Delivery{}, ErrClosed
			}
			return Delivery{}, fmt.Errorf("fetch job: %w", err)
		}

		job, err := decodeJob(msg.Value)
		if err != nil {
			q.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Str("raw_value", string(msg.Value)).
				Msg("discarding malformed job message")
			if cerr := q.reader.CommitMessages(ctx, msg); cerr != nil {
				return Delivery{}, fmt.Errorf("commit malformed message: %w", cerr)
			}
			continue
		}

		q.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Int64("topic_id", job.TopicID).
			Msg("received job")

		receipt := uuid.NewString()
		q.mu.Lock()
		q.inflight[receipt] = msg
		q.mu.Unlock()
		return Delivery{Job: job, ReceiptID: receipt}, nil
	}
}

// Ack commits the delivery's offset.
func (q *KafkaQueue) Ack(ctx context.Context, d Delivery) error {
	msg, err := q.take(d)
	if err != nil {
		return err
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit job for topic %d: %w", d.Job.TopicID, err)
	}
	return nil
}

// Nack republishes the job after delay and then commits the original
// offset. If the republish fails the offset stays uncommitted and the
// group redelivers the message after a rebalance.
func (q *KafkaQueue) Nack(ctx context.Context, d Delivery, delay time.Duration) error {
	msg, err := q.take(d)
	if err != nil {
		return err
	}
	q.metrics.RecordJobNacked(BackendKafka)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	job := d.Job
	job.Redeliveries++
	if err := q.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("requeue topic %d: %w", job.TopicID, err)
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit nacked job for topic %d: %w", job.TopicID, err)
	}
	return nil
}

// Close flushes the writer and leaves the consumer group.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.logger.Info().Msg("closing kafka queue")
	return errors.Join(q.writer.Close(), q.reader.Close())
}

func (q *KafkaQueue) take(d Delivery) (kafka.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[d.ReceiptID]
	if !ok {
		return kafka.Message{}, fmt.Errorf("unknown delivery %q", d.ReceiptID)
	}
	delete(q.inflight, d.ReceiptID)
	return msg, nil
}

func (q *KafkaQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
