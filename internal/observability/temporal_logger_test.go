package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemporalLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTemporalLogger(zerolog.New(&buf))

	logger.Info("activity started", "ActivityType", "ProcessTopic", "Attempt", 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "temporal-sdk", entry["component"])
	assert.Equal(t, "ProcessTopic", entry["ActivityType"])
	assert.Equal(t, float64(1), entry["Attempt"])
	assert.Equal(t, "activity started", entry["message"])
}

func TestTemporalLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTemporalLogger(zerolog.New(&buf)).With("WorkflowID", "research-topic-3")

	logger.Warn("retrying", 42, "odd key")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "research-topic-3", entry["WorkflowID"])
	assert.Equal(t, "odd key", entry["42"])
	assert.Equal(t, "warn", entry["level"])
}
