package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, int32(0), client.Failures())
}

func TestNewClientOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(5),
		WithReconnectWait(time.Second),
		WithCircuitBreakerThreshold(3),
		WithName("busrecorder-test"),
	)
	require.NoError(t, err)
	assert.Equal(t, 5, client.maxReconnects)
	assert.Equal(t, time.Second, client.reconnectWait)
	assert.Equal(t, int32(3), client.circuitThreshold)
	assert.Equal(t, "busrecorder-test", client.clientName)
}

func TestNewClientInvalidOptions(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithReconnectWait(-time.Second))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithLogger(nil))
	assert.Error(t, err)
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(3),
		WithMaxBackoff(time.Minute),
	)
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(3), client.Failures())
}

func TestResetCircuit(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.backoff.Load().(time.Duration))
}

func TestSubscribeNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = client.Subscribe("a.b", func(string, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.Respond("a.b", func(string, []byte) []byte { return nil })
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, client.Publish("a.b", nil), ErrNotConnected)
}

func TestUnsubscribeNilSafe(t *testing.T) {
	var s *Subscription
	assert.NoError(t, s.Unsubscribe())
	assert.NoError(t, (&Subscription{}).Unsubscribe())
}

func TestKeyToSubject(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"recorder/control/dev-01", "recorder.control.dev-01"},
		{"/camera/front", "camera.front"},
		{"recorder/status/**", "recorder.status.>"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KeyToSubject(tt.key), "key %q", tt.key)
	}
}

func TestSubjectToKey(t *testing.T) {
	assert.Equal(t, "recorder/status/rec-1", SubjectToKey("recorder.status.rec-1"))
}
