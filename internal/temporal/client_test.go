package temporal

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/helixir/research-agent-service/internal/queue"
)

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-1" }

type fakeStarter struct {
	err       error
	healthErr error
	started   []client.StartWorkflowOptions
	inputs    []ResearchInput
	closed    int
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = append(f.started, options)
	f.inputs = append(f.inputs, args[0].(ResearchInput))
	return fakeRun{id: options.ID}, nil
}

func (f *fakeStarter) CheckHealth(context.Context, *client.CheckHealthRequest) (*client.CheckHealthResponse, error) {
	return &client.CheckHealthResponse{}, f.healthErr
}

func (f *fakeStarter) Close() { f.closed++ }

func TestDispatcher_Enqueue(t *testing.T) {
	t.Run("starts a workflow on the task queue", func(t *testing.T) {
		starter := &fakeStarter{}
		d := newDispatcher(starter, "research-agent-tasks", nil, zerolog.Nop())

		require.NoError(t, d.Enqueue(context.Background(), queue.Job{TopicID: 12}))

		require.Len(t, starter.started, 1)
		opts := starter.started[0]
		assert.Equal(t, "research-agent-tasks", opts.TaskQueue)
		assert.True(t, strings.HasPrefix(opts.ID, "research-topic-12-"))
		assert.Equal(t, DefaultWorkflowExecutionTimeout, opts.WorkflowExecutionTimeout)
		assert.Equal(t, int64(12), starter.inputs[0].TopicID)
		assert.False(t, starter.inputs[0].EnqueuedAt.IsZero())
	})

	t.Run("uses distinct workflow IDs per dispatch", func(t *testing.T) {
		starter := &fakeStarter{}
		d := newDispatcher(starter, "q", nil, zerolog.Nop())

		require.NoError(t, d.Enqueue(context.Background(), queue.Job{TopicID: 3}))
		require.NoError(t, d.Enqueue(context.Background(), queue.Job{TopicID: 3}))

		assert.NotEqual(t, starter.started[0].ID, starter.started[1].ID)
	})

	t.Run("wraps start failures", func(t *testing.T) {
		starter := &fakeStarter{err: serviceerror.NewUnavailable("frontend down")}
		d := newDispatcher(starter, "q", nil, zerolog.Nop())

		err := d.Enqueue(context.Background(), queue.Job{TopicID: 3})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnectionFailed)
		var te *TemporalError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "Enqueue", te.Op)
		assert.True(t, strings.HasPrefix(te.WorkflowID, "research-topic-3-"))
	})

	t.Run("refuses after close", func(t *testing.T) {
		starter := &fakeStarter{}
		d := newDispatcher(starter, "q", nil, zerolog.Nop())
		d.Close()
		d.Close()

		err := d.Enqueue(context.Background(), queue.Job{TopicID: 3})

		assert.ErrorIs(t, err, ErrClientClosed)
		assert.Equal(t, 1, starter.closed)
		assert.Empty(t, starter.started)
	})
}

func TestDispatcher_Health(t *testing.T) {
	d := newDispatcher(&fakeStarter{}, "q", nil, zerolog.Nop())
	assert.NoError(t, d.Health(context.Background()))

	d = newDispatcher(&fakeStarter{healthErr: serviceerror.NewPermissionDenied("no", "")}, "q", nil, zerolog.Nop())
	assert.ErrorIs(t, d.Health(context.Background()), ErrPermissionDenied)

	d.Close()
	assert.ErrorIs(t, d.Health(context.Background()), ErrClientClosed)
}

func TestWrapTemporalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"already started", serviceerror.NewWorkflowExecutionAlreadyStarted("dup", "", ""), ErrWorkflowAlreadyStarted},
		{"namespace", serviceerror.NewNamespaceNotFound("research"), ErrNamespaceNotFound},
		{"permission", serviceerror.NewPermissionDenied("no", ""), ErrPermissionDenied},
		{"invalid argument", serviceerror.NewInvalidArgument("bad"), ErrInvalidArgument},
		{"resource exhausted", &serviceerror.ResourceExhausted{Message: "slow down"}, ErrResourceExhausted},
		{"context deadline", context.DeadlineExceeded, ErrDeadlineExceeded},
		{"context canceled", context.Canceled, ErrCanceled},
		{"unknown", errors.New("boom"), ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapTemporalError("Enqueue", tt.err, "wf-1")
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "[workflowID=wf-1]")
		})
	}

	assert.NoError(t, wrapTemporalError("Enqueue", nil, ""))
}
