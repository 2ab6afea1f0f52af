package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return kafka.Message{}, context.DeadlineExceeded
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func newTestKafkaQueue(msgs ...kafka.Message) (*KafkaQueue, *fakeWriter, *fakeReader) {
	w := &fakeWriter{}
	r := &fakeReader{pending: msgs}
	return newKafkaQueue(w, r, nil, zerolog.Nop()), w, r
}

func jobMessage(t *testing.T, offset int64, job Job) kafka.Message {
	t.Helper()
	b, err := encodeJob(job)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestKafkaQueue_Enqueue(t *testing.T) {
	q, w, _ := newTestKafkaQueue()

	require.NoError(t, q.Enqueue(context.Background(), Job{TopicID: 17}))

	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "17", string(msgs[0].Key))
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "message_id", msgs[0].Headers[0].Key)

	job, err := decodeJob(msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(17), job.TopicID)
	assert.False(t, job.EnqueuedAt.IsZero())
}

func TestKafkaQueue_EnqueueError(t *testing.T) {
	q, w, _ := newTestKafkaQueue()
	w.err = errors.New("broker unavailable")

	err := q.Enqueue(context.Background(), Job{TopicID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish job for topic 1")
}

func TestKafkaQueue_DequeueAck(t *testing.T) {
	msg := jobMessage(t, 5, Job{TopicID: 3})
	q, _, r := newTestKafkaQueue(msg)
	ctx := context.Background()

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Job.TopicID)
	assert.NotEmpty(t, d.ReceiptID)

	require.NoError(t, q.Ack(ctx, d))
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(5), r.committed[0].Offset)

	assert.Error(t, q.Ack(ctx, d), "a delivery can only be settled once")
}

func TestKafkaQueue_DequeueSkipsMalformed(t *testing.T) {
	bad := kafka.Message{Offset: 1, Value: []byte("garbage")}
	good := jobMessage(t, 2, Job{TopicID: 8})
	q, _, r := newTestKafkaQueue(bad, good)

	d, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), d.Job.TopicID)
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(1), r.committed[0].Offset)
}

func TestKafkaQueue_DequeueContextDone(t *testing.T) {
	q, _, _ := newTestKafkaQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKafkaQueue_Nack(t *testing.T) {
	msg := jobMessage(t, 11, Job{TopicID: 4})
	q, w, r := newTestKafkaQueue(msg)
	ctx := context.Background()

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, d, time.Millisecond))

	msgs := w.written()
	require.Len(t, msgs, 1)
	job, err := decodeJob(msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(4), job.TopicID)
	assert.Equal(t, 1, job.Redeliveries)

	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(11), r.committed[0].Offset)
}

func TestKafkaQueue_NackRepublishFailureLeavesOffset(t *testing.T) {
	msg := jobMessage(t, 12, Job{TopicID: 4})
	q, w, r := newTestKafkaQueue(msg)
	ctx := context.Background()

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)

	w.err = errors.New("broker unavailable")
	require.Error(t, q.Nack(ctx, d, 0))
	assert.Empty(t, r.committed)
}

func TestKafkaQueue_Close(t *testing.T) {
	q, w, r := newTestKafkaQueue()

	require.NoError(t, q.Close())
	assert.True(t, w.closed)
	assert.True(t, r.closed)

	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{TopicID: 1}), ErrClosed)
	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, q.Close())
}
