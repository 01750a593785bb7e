package storage

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/errors"
)

type fakeStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	writes  []*http.Request
	bodies  [][]byte

	writeStatus int // 0 = success
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: make(map[string]bool)}
}

func (f *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/b/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodHead:
			if f.buckets[r.URL.Path] {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPost:
			// Bucket creation has no entry suffix beyond the bucket segment
			body, _ := io.ReadAll(r.Body)
			if len(body) == 0 && r.URL.RawQuery == "" {
				f.buckets[r.URL.Path] = true
				w.WriteHeader(http.StatusOK)
				return
			}
			if f.writeStatus != 0 {
				w.WriteHeader(f.writeStatus)
				return
			}
			f.writes = append(f.writes, r)
			f.bodies = append(f.bodies, body)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func newTimeSeriesBackend(t *testing.T, url string) *TimeSeriesBackend {
	t.Helper()
	backend, err := NewTimeSeriesBackend(config.TimeSeriesConfig{
		URL:        url,
		BucketName: "test_bucket",
		MaxRetries: 3,
	})
	require.NoError(t, err)
	return backend
}

func TestTimeSeriesInitializeCreatesBucket(t *testing.T) {
	store := newFakeStore()
	server := httptest.NewServer(store.handler())
	defer server.Close()

	backend := newTimeSeriesBackend(t, server.URL)
	ctx := context.Background()

	require.NoError(t, backend.Initialize(ctx))
	assert.True(t, store.buckets["/api/v1/b/test_bucket"])

	// Idempotent
	require.NoError(t, backend.Initialize(ctx))
	assert.True(t, backend.HealthCheck(ctx))
	assert.Equal(t, "timeseries", backend.BackendType())
}

func TestTimeSeriesWriteRecord(t *testing.T) {
	store := newFakeStore()
	server := httptest.NewServer(store.handler())
	defer server.Close()

	backend := newTimeSeriesBackend(t, server.URL)
	require.NoError(t, backend.Initialize(context.Background()))

	rec := Record{
		Entry:       "camera_front",
		TimestampUS: 1234567890,
		Payload:     []byte("container-blob"),
		Labels: map[string]string{
			LabelRecordingID: "rec-1",
			LabelTopic:       "/camera/front",
			LabelCompression: "zstd",
		},
	}
	require.NoError(t, backend.WriteRecord(context.Background(), rec))

	require.Len(t, store.writes, 1)
	req := store.writes[0]
	assert.Equal(t, "/api/v1/b/test_bucket/camera_front", req.URL.Path)
	assert.Equal(t, "1234567890", req.URL.Query().Get("ts"))
	assert.Equal(t, "1234567890", req.Header.Get("x-store-time"))
	assert.Equal(t, "rec-1", req.Header.Get("x-store-label-recording_id"))
	assert.Equal(t, "/camera/front", req.Header.Get("x-store-label-topic"))
	assert.Equal(t, "zstd", req.Header.Get("x-store-label-compression"))
	assert.Equal(t, []byte("container-blob"), store.bodies[0])
}

func TestTimeSeriesWriteErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
		sentinel  error
	}{
		{http.StatusConflict, true, errors.ErrWriteConflict},
		{http.StatusUnauthorized, true, errors.ErrAuthRejected},
		{http.StatusForbidden, true, errors.ErrAuthRejected},
		{http.StatusRequestEntityTooLarge, true, errors.ErrPayloadTooLarge},
		{http.StatusBadRequest, true, nil},
		{http.StatusInternalServerError, false, nil},
		{http.StatusServiceUnavailable, false, nil},
	}

	for _, tt := range tests {
		store := newFakeStore()
		store.writeStatus = tt.status
		server := httptest.NewServer(store.handler())

		backend := newTimeSeriesBackend(t, server.URL)
		err := backend.WriteRecord(context.Background(), Record{
			Entry: "e", TimestampUS: 1, Payload: []byte("x"),
		})
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.permanent, errors.IsPermanent(err), "status %d", tt.status)
		if tt.sentinel != nil {
			assert.True(t, stderrors.Is(err, tt.sentinel), "status %d", tt.status)
		}
		server.Close()
	}
}

func TestTimeSeriesUnreachable(t *testing.T) {
	backend := newTimeSeriesBackend(t, "http://127.0.0.1:1")

	err := backend.WriteRecord(context.Background(), Record{Entry: "e", TimestampUS: 1})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err), "network errors are transient")
	assert.False(t, backend.HealthCheck(context.Background()))
}

func TestNewTimeSeriesBackendValidation(t *testing.T) {
	_, err := NewTimeSeriesBackend(config.TimeSeriesConfig{BucketName: "b"})
	assert.Error(t, err)

	_, err = NewTimeSeriesBackend(config.TimeSeriesConfig{URL: "http://x"})
	assert.Error(t, err)
}
