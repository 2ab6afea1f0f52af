package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger(t *testing.T) {
	t.Run("creates logger with default config", func(t *testing.T) {
		cfg := DefaultLoggingConfig()
		logger := NewLogger(cfg)

		// Logger should be valid (non-zero)
		assert.NotEqual(t, zerolog.Logger{}, logger)
	})

	t.Run("creates logger with debug level", func(t *testing.T) {
		cfg := LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "stdout",
		}
		logger := NewLogger(cfg)

		// Debug level should be enabled
		assert.NotEqual(t, zerolog.Logger{}, logger)
	})

	t.Run("creates logger with console format", func(t *testing.T) {
		cfg := LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		}
		logger := NewLogger(cfg)

		assert.NotEqual(t, zerolog.Logger{}, logger)
	})

	t.Run("creates logger with pretty format", func(t *testing.T) {
		cfg := LoggingConfig{
			Level:  "info",
			Format: "pretty",
			Output: "stderr",
		}
		logger := NewLogger(cfg)

		assert.NotEqual(t, zerolog.Logger{}, logger)
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"TRACE", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"FATAL", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"PANIC", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseLevel(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestWithTopicContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	enriched := WithTopicContext(logger, 42, 3)
	enriched.Info().Msg("claimed")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, float64(42), logEntry["topic_id"])
	assert.Equal(t, float64(3), logEntry["attempt"])
}

func TestWithStepContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	stepLogger := WithStepContext(logger, 2, "Data Gathering")
	stepLogger.Info().Msg("step done")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, float64(2), logEntry["step_number"])
	assert.Equal(t, "Data Gathering", logEntry["step_name"])
}

func TestWithWorkflowContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	wfLogger := WithWorkflowContext(logger, "research-topic-7", "run-1")
	wfLogger.Info().Msg("workflow")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "research-topic-7", logEntry["workflow_id"])
	assert.Equal(t, "run-1", logEntry["workflow_run_id"])
}

func TestFromContext(t *testing.T) {
	t.Run("adds stored identifiers", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		ctx := WithRequestID(context.Background(), "req-1")
		ctx = WithWorkerID(ctx, "worker-2")
		ctx = WithTopic(ctx, 9, 1)
		ctx = WithWorkflow(ctx, "research-topic-9-abc", "run-3")

		ctxLogger := FromContext(ctx, base)
		ctxLogger.Info().Msg("hello")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		assert.Equal(t, "req-1", logEntry["request_id"])
		assert.Equal(t, "worker-2", logEntry["worker_id"])
		assert.Equal(t, float64(9), logEntry["topic_id"])
		assert.Equal(t, float64(1), logEntry["attempt"])
		assert.Equal(t, "research-topic-9-abc", logEntry["workflow_id"])
		assert.Equal(t, "run-3", logEntry["workflow_run_id"])
	})

	t.Run("prefers logger attached to context", func(t *testing.T) {
		var baseBuf, ctxBuf bytes.Buffer
		base := zerolog.New(&baseBuf)
		attached := zerolog.New(&ctxBuf).With().Str("component", "worker").Logger()

		ctx := attached.WithContext(context.Background())
		ctxLogger := FromContext(ctx, base)
		ctxLogger.Info().Msg("hello")

		assert.Empty(t, baseBuf.String())
		assert.Contains(t, ctxBuf.String(), `"component":"worker"`)
	})

	t.Run("no fields without context values", func(t *testing.T) {
		var buf bytes.Buffer
		ctxLogger := FromContext(context.Background(), zerolog.New(&buf))
		ctxLogger.Info().Msg("plain")
		assert.NotContains(t, buf.String(), "topic_id")
	})
}

func TestLoggerContextChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	enriched := WithTopicContext(logger, 5, 2)
	enriched = WithStepContext(enriched, 4, "Result Persistence")
	enriched = WithSourceContext(enriched, "Reddit r/science")
	enriched.Info().Msg("chained context")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, float64(5), logEntry["topic_id"])
	assert.Equal(t, float64(2), logEntry["attempt"])
	assert.Equal(t, float64(4), logEntry["step_number"])
	assert.Equal(t, "Result Persistence", logEntry["step_name"])
	assert.Equal(t, "Reddit r/science", logEntry["source"])
}
