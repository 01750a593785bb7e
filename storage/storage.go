// Package storage defines the recorder's write-only storage contract and its
// backend implementations.
//
// A Backend accepts opaque binary records addressed by (entry, timestamp_us)
// with a small label map. Query support is deliberately absent: consumers
// read backends directly with their native tooling.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/c360/busrecorder/errors"
	"github.com/c360/busrecorder/pkg/retry"
)

// Record is the unit written to storage
type Record struct {
	// Entry is the backend-side stream name, derived from the topic
	Entry string
	// TimestampUS is the record timestamp in microseconds since epoch.
	// (Entry, TimestampUS) pairs are unique within a process lifetime.
	TimestampUS int64
	// Payload is the serialized container blob
	Payload []byte
	// Labels carry recording metadata (recording_id, topic, device_id,
	// format, compression)
	Labels map[string]string
}

// Backend is the write-only storage contract. Implementations must be safe
// for concurrent use; WriteRecord must be atomic from the backend's
// perspective (a record is either fully visible or not visible at all).
type Backend interface {
	// Initialize is idempotent and ensures the container (bucket or
	// directory) exists. It fails with a transient-classified error when
	// the backend is unreachable, ErrAuthRejected when credentials are
	// refused, and a permanent-classified error for invalid names.
	Initialize(ctx context.Context) error

	// WriteRecord writes a single record. Transient-classified errors may
	// be retried; permanent-classified errors must not be. Backends may
	// accept idempotent re-writes of identical records silently and
	// report ErrWriteConflict otherwise.
	WriteRecord(ctx context.Context, rec Record) error

	// HealthCheck is a cheap liveness probe
	HealthCheck(ctx context.Context) bool

	// BackendType returns a short backend identifier
	BackendType() string
}

// DefaultMaxRetries bounds WriteWithRetry when the caller passes 0
const DefaultMaxRetries = 3

// WriteWithRetry wraps Backend.WriteRecord with exponential backoff:
// 100 ms initial delay doubling per attempt, ±25% jitter, capped at 30 s
// per sleep, bounded by maxRetries additional attempts. Only transient
// errors are retried; permanent errors return immediately.
func WriteWithRetry(ctx context.Context, b Backend, rec Record, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	cfg := errors.RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}.ToRetryConfig()

	return retry.Do(ctx, cfg, func() error {
		err := b.WriteRecord(ctx, rec)
		if err == nil {
			return nil
		}
		if errors.IsPermanent(err) || errors.IsFatal(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
}

// Standard label keys attached to every record
const (
	LabelRecordingID = "recording_id"
	LabelTopic       = "topic"
	LabelDeviceID    = "device_id"
	LabelFormat      = "format"
	LabelCompression = "compression"
	LabelScene       = "scene"
)

// MetadataEntry is the entry name for session metadata records
const MetadataEntry = "recordings_metadata"

// EntryName converts a bus topic into a backend entry name: the leading
// "/" is trimmed, remaining "/" become "_", and "**" becomes "all".
func EntryName(topic string) string {
	entry := strings.TrimPrefix(topic, "/")
	entry = strings.ReplaceAll(entry, "**", "all")
	return strings.ReplaceAll(entry, "/", "_")
}
