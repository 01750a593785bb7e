package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/metric"
	"github.com/c360/busrecorder/protocol"
	"github.com/c360/busrecorder/recorder"
	"github.com/c360/busrecorder/storage"
)

// fakeQueryable collects responders and lets tests issue requests
type fakeQueryable struct {
	mu       sync.Mutex
	handlers map[string]func(string, []byte) []byte
}

func newFakeQueryable() *fakeQueryable {
	return &fakeQueryable{handlers: make(map[string]func(string, []byte) []byte)}
}

type fakeRegistration struct {
	bus     *fakeQueryable
	subject string
}

func (r *fakeRegistration) Unsubscribe() error {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	delete(r.bus.handlers, r.subject)
	return nil
}

func (q *fakeQueryable) Respond(subject string, handler func(string, []byte) []byte) (Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return &fakeRegistration{bus: q, subject: subject}, nil
}

// request finds the responder whose subject matches (exact or "...>" prefix)
func (q *fakeQueryable) request(subject string, data []byte) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.handlers[subject]; ok {
		return h(subject, data)
	}
	for registered, h := range q.handlers {
		if len(registered) > 1 && registered[len(registered)-1] == '>' {
			prefix := registered[:len(registered)-1]
			if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
				return h(subject, data)
			}
		}
	}
	return nil
}

// fakeBus is the subscription side for the recorder manager
type fakeBus struct {
	mu   sync.Mutex
	subs map[string][]func(string, []byte)
}

type fakeBusSub struct{}

func (fakeBusSub) Unsubscribe() error { return nil }

func (b *fakeBus) Subscribe(subject string, handler func(string, []byte)) (recorder.BusSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subject] = append(b.subs[subject], handler)
	return fakeBusSub{}, nil
}

func (b *fakeBus) publish(subject string, data []byte) {
	b.mu.Lock()
	handlers := append([]func(string, []byte){}, b.subs[subject]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(subject, data)
	}
}

func setup(t *testing.T) (*Interface, *fakeQueryable, *fakeBus, *storage.MemoryBackend) {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Recorder.DeviceID = "dev-42"

	backend := storage.NewMemoryBackend()
	bus := &fakeBus{subs: make(map[string][]func(string, []byte))}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	manager := recorder.NewManager(cfg, bus, backend, metric.NewMetricsRegistry(), logger)
	require.NoError(t, manager.Start(context.Background()))

	queryable := newFakeQueryable()
	iface := New(queryable, manager, "dev-42", cfg.Recorder.Control, logger)
	require.NoError(t, iface.Start(context.Background()))

	return iface, queryable, bus, backend
}

func sendCommand(t *testing.T, q *fakeQueryable, req protocol.Request) protocol.Response {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	raw := q.request("recorder.control.dev-42", payload)
	require.NotNil(t, raw, "no responder answered the control subject")

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func queryStatus(t *testing.T, q *fakeQueryable, recordingID string) protocol.StatusResponse {
	t.Helper()
	raw := q.request("recorder.status."+recordingID, nil)
	require.NotNil(t, raw, "no responder answered the status subject")

	var resp protocol.StatusResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestControlKeyLayout(t *testing.T) {
	iface, queryable, _, _ := setup(t)
	assert.Equal(t, "recorder/control/dev-42", iface.ControlKey())

	queryable.mu.Lock()
	_, hasControl := queryable.handlers["recorder.control.dev-42"]
	_, hasStatus := queryable.handlers["recorder.status.>"]
	queryable.mu.Unlock()
	assert.True(t, hasControl)
	assert.True(t, hasStatus)
}

func TestFullLifecycleOverControlSurface(t *testing.T) {
	_, queryable, bus, backend := setup(t)

	start := sendCommand(t, queryable, protocol.Request{
		Command:  protocol.CommandStart,
		DeviceID: "dev-42",
		Scene:    "lab",
		Topics:   []string{"/imu"},
	})
	require.True(t, start.Success, start.Message)
	id := start.RecordingID
	require.NotEmpty(t, id)
	assert.Empty(t, start.BucketName, "the memory backend has no bucket name")

	for i := 0; i < 20; i++ {
		bus.publish("imu", []byte(fmt.Sprintf("reading-%d", i)))
	}

	status := queryStatus(t, queryable, id)
	assert.True(t, status.Success)
	assert.Equal(t, protocol.StateRecording, status.State)
	assert.Equal(t, "lab", status.Scene)
	assert.Equal(t, []string{"/imu"}, status.ActiveTopics)

	pause := sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandPause, RecordingID: id, DeviceID: "dev-42",
	})
	require.True(t, pause.Success, pause.Message)

	resume := sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandResume, RecordingID: id, DeviceID: "dev-42",
	})
	require.True(t, resume.Success, resume.Message)

	finish := sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandFinish, RecordingID: id, DeviceID: "dev-42",
	})
	require.True(t, finish.Success, finish.Message)

	status = queryStatus(t, queryable, id)
	assert.Equal(t, protocol.StateFinished, status.State)

	assert.NotEmpty(t, backend.Records("imu"))
	assert.Len(t, backend.Records(storage.MetadataEntry), 1)
}

func TestControlValidation(t *testing.T) {
	_, queryable, _, _ := setup(t)

	// Missing payload
	raw := queryable.request("recorder.control.dev-42", nil)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.False(t, resp.Success)

	// Malformed JSON
	raw = queryable.request("recorder.control.dev-42", []byte("{not json"))
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.False(t, resp.Success)

	// Unknown command
	resp = sendCommand(t, queryable, protocol.Request{Command: "reboot", DeviceID: "dev-42"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "unknown command")

	// Start without topics
	resp = sendCommand(t, queryable, protocol.Request{Command: protocol.CommandStart, DeviceID: "dev-42"})
	assert.False(t, resp.Success)

	// Non-start without recording id
	resp = sendCommand(t, queryable, protocol.Request{Command: protocol.CommandPause, DeviceID: "dev-42"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "recording_id")

	// Recording id with invalid characters
	resp = sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandPause, RecordingID: "../etc/passwd", DeviceID: "dev-42",
	})
	assert.False(t, resp.Success)

	// Unknown recording id reaches the registry and comes back as an error
	resp = sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandPause, RecordingID: "no-such-id", DeviceID: "dev-42",
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "unknown recording id")
}

func TestStatusQueryShape(t *testing.T) {
	_, queryable, _, _ := setup(t)

	// Unknown recording id
	status := queryStatus(t, queryable, "ghost")
	assert.False(t, status.Success)

	// Malformed subject (no recording id segment)
	raw := queryable.request("recorder.status.", nil)
	if raw != nil {
		var resp protocol.StatusResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		assert.False(t, resp.Success)
	}
}

func TestStopRemovesResponders(t *testing.T) {
	iface, queryable, _, _ := setup(t)

	require.NoError(t, iface.Stop(time.Second))

	queryable.mu.Lock()
	count := len(queryable.handlers)
	queryable.mu.Unlock()
	assert.Zero(t, count)

	// Stop is idempotent
	require.NoError(t, iface.Stop(time.Second))
}

func TestTerminalReplayIsStable(t *testing.T) {
	_, queryable, _, _ := setup(t)

	start := sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandStart, DeviceID: "dev-42", Topics: []string{"/x"},
	})
	require.True(t, start.Success)
	id := start.RecordingID

	cancel := sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandCancel, RecordingID: id, DeviceID: "dev-42",
	})
	require.True(t, cancel.Success)

	// Replaying commands on the terminal session yields identical responses
	first := sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandCancel, RecordingID: id, DeviceID: "dev-42",
	})
	second := sendCommand(t, queryable, protocol.Request{
		Command: protocol.CommandCancel, RecordingID: id, DeviceID: "dev-42",
	})
	assert.False(t, first.Success)
	assert.Equal(t, first, second)
}
