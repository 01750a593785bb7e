package storage

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/busrecorder/errors"
)

func TestEntryName(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"/camera/front", "camera_front"},
		{"camera/front", "camera_front"},
		{"/a", "a"},
		{"/a/b/c", "a_b_c"},
		{"/camera/**", "camera_all"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EntryName(tt.topic), "topic %q", tt.topic)
	}
}

// scriptedBackend fails a fixed number of times before succeeding
type scriptedBackend struct {
	mu        sync.Mutex
	failures  int
	failWith  error
	attempts  int
	lastWrite Record
}

func (s *scriptedBackend) Initialize(context.Context) error { return nil }
func (s *scriptedBackend) HealthCheck(context.Context) bool { return true }
func (s *scriptedBackend) BackendType() string              { return "scripted" }

func (s *scriptedBackend) WriteRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return s.failWith
	}
	s.lastWrite = rec
	return nil
}

func TestWriteWithRetryTransientThenSuccess(t *testing.T) {
	backend := &scriptedBackend{
		failures: 2,
		failWith: errors.WrapTransient(stderrors.New("503"), "scripted", "WriteRecord", "post"),
	}

	rec := Record{Entry: "a", TimestampUS: 1, Payload: []byte("x")}
	err := WriteWithRetry(context.Background(), backend, rec, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, backend.attempts, "two failures plus one success")
	assert.Equal(t, "a", backend.lastWrite.Entry)
}

func TestWriteWithRetryExhaustion(t *testing.T) {
	backend := &scriptedBackend{
		failures: 100,
		failWith: errors.WrapTransient(stderrors.New("503"), "scripted", "WriteRecord", "post"),
	}

	err := WriteWithRetry(context.Background(), backend, Record{Entry: "a"}, 3)
	require.Error(t, err)
	// max_retries additional attempts plus the first try
	assert.Equal(t, 4, backend.attempts)
}

func TestWriteWithRetryPermanentStopsImmediately(t *testing.T) {
	backend := &scriptedBackend{
		failures: 100,
		failWith: errors.WrapPermanent(errors.ErrAuthRejected, "scripted", "WriteRecord", "post"),
	}

	err := WriteWithRetry(context.Background(), backend, Record{Entry: "a"}, 3)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAuthRejected))
	assert.Equal(t, 1, backend.attempts, "permanent errors are not retried")
}

func TestWriteWithRetryDefaultBudget(t *testing.T) {
	backend := &scriptedBackend{
		failures: 100,
		failWith: errors.WrapTransient(stderrors.New("timeout"), "scripted", "WriteRecord", "post"),
	}

	_ = WriteWithRetry(context.Background(), backend, Record{Entry: "a"}, 0)
	assert.Equal(t, DefaultMaxRetries+1, backend.attempts)
}

func TestMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Initialize(ctx))
	assert.True(t, backend.HealthCheck(ctx))
	assert.Equal(t, "memory", backend.BackendType())

	rec := Record{
		Entry:       "camera_front",
		TimestampUS: 1000,
		Payload:     []byte("blob-1"),
		Labels:      map[string]string{LabelRecordingID: "rec-1"},
	}
	require.NoError(t, backend.WriteRecord(ctx, rec))

	// Idempotent re-write accepted
	require.NoError(t, backend.WriteRecord(ctx, rec))

	// Conflicting payload rejected
	conflict := rec
	conflict.Payload = []byte("different")
	err := backend.WriteRecord(ctx, conflict)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrWriteConflict))

	require.NoError(t, backend.WriteRecord(ctx, Record{
		Entry: "camera_front", TimestampUS: 500, Payload: []byte("blob-0"),
	}))

	records := backend.Records("camera_front")
	require.Len(t, records, 2)
	assert.Equal(t, int64(500), records[0].TimestampUS, "records ordered by timestamp")
	assert.Equal(t, int64(1000), records[1].TimestampUS)

	assert.Equal(t, []string{"camera_front"}, backend.Entries())
	assert.Equal(t, 2, backend.TotalRecords())

	backend.SetHealthy(false)
	assert.False(t, backend.HealthCheck(ctx))
}
