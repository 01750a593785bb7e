package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "permanent", ErrorPermanent.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"backend unavailable", ErrBackendUnavailable, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"message pattern", stderrors.New("server busy, try later"), true},
		{"auth rejected", ErrAuthRejected, false},
		{"wrapped transient", WrapTransient(stderrors.New("boom"), "Backend", "WriteRecord", "post"), true},
		{"wrapped permanent", WrapPermanent(stderrors.New("bad label"), "Backend", "WriteRecord", "post"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(ErrAuthRejected))
	assert.True(t, IsPermanent(ErrWriteConflict))
	assert.True(t, IsPermanent(ErrInvalidTransition))
	assert.True(t, IsPermanent(fmt.Errorf("start: %w", ErrUnknownRecording)))
	assert.False(t, IsPermanent(ErrConnectionLost))
	assert.False(t, IsPermanent(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorPermanent, Classify(ErrWriteConflict))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestWrapPreservesChain(t *testing.T) {
	base := stderrors.New("disk on fire")
	wrapped := WrapTransient(base, "FilesystemBackend", "WriteRecord", "create file")

	require.Error(t, wrapped)
	assert.True(t, stderrors.Is(wrapped, base))

	var ce *ClassifiedError
	require.True(t, stderrors.As(wrapped, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "FilesystemBackend", ce.Component)
	assert.Contains(t, wrapped.Error(), "FilesystemBackend.WriteRecord")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapPermanent(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestRetryConfigShouldRetry(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.ShouldRetry(ErrBackendUnavailable, 0))
	assert.True(t, cfg.ShouldRetry(ErrBackendUnavailable, 2))
	assert.False(t, cfg.ShouldRetry(ErrBackendUnavailable, 3), "attempts exhausted")
	assert.False(t, cfg.ShouldRetry(ErrAuthRejected, 0), "permanent errors never retry")
	assert.False(t, cfg.ShouldRetry(nil, 0))
}

func TestToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	cfg := rc.ToRetryConfig()
	assert.Equal(t, 4, cfg.MaxAttempts, "total attempts is retries plus the first try")
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.True(t, cfg.AddJitter)
}
