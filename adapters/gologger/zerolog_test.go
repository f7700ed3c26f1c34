package gologger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerWritesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(ZerologConfig{Format: "json", Level: "debug", Writer: &buf})

	logger.GetLogger("jobs").Info("job done", "job_id", "billing.stripe.webhook", "error", errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "job done", line["message"])
	assert.Equal(t, "jobs", line["component"])
	assert.Equal(t, "billing.stripe.webhook", line["job_id"])
	assert.Equal(t, "boom", line["error"])
}

func TestZerologLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(ZerologConfig{Level: "warn", Writer: &buf})

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.WithFields(map[string]any{"queue": "stripe-webhooks"}).Warn("visible")
	assert.Contains(t, buf.String(), `"queue":"stripe-webhooks"`)
}
