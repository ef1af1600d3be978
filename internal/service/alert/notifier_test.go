package alert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/config"
	"queuewatch/internal/logger"
)

func TestNewNotifier_NopWithoutBroker(t *testing.T) {
	n := NewNotifier(&config.Config{}, logger.Discard())
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), Event{Count: 12}))
	n.Close()
}

func TestPayload(t *testing.T) {
	ts := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	data, err := Payload(Event{SessionID: "s1", Source: "image", Count: 12, Threshold: 10, Message: "Alert", Timestamp: ts})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "s1", got["session_id"])
	assert.EqualValues(t, 12, got["count"])
	assert.EqualValues(t, 10, got["threshold"])
	assert.Equal(t, "2025-06-15T14:30:00Z", got["timestamp"])
}

func TestMQTTNotifier_NotConnected(t *testing.T) {
	n := NewMQTTNotifier("tcp://127.0.0.1:1", "test", "queuewatch/alerts", logger.Discard())
	defer n.Close()

	err := n.Notify(context.Background(), Event{Count: 1})
	assert.ErrorIs(t, err, ErrNotConnected)
}
