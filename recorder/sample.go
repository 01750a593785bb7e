// Package recorder implements the recording core: per-topic double-buffered
// accumulators, the flush pipeline, recording sessions with their state
// machine, and the process-wide session registry.
package recorder

import (
	"github.com/c360/busrecorder/protocol"
	"github.com/c360/busrecorder/serializer"
)

// Sample is one message observed on the bus. It is created by the
// subscriber callback, moved once into a topic buffer half, moved once
// more into a flush task, and released after serialization.
type Sample struct {
	Topic       string
	TimestampNS int64
	Payload     []byte
}

// Size returns the payload size in bytes
func (s Sample) Size() int {
	return len(s.Payload)
}

// FlushTask is a self-contained batch of samples handed to a flush worker.
// The samples slice is read-only once the task is built and has exactly one
// consumer: the worker that pops it.
type FlushTask struct {
	RecordingID string
	Topic       string
	Samples     []Sample
	Compression protocol.Compression
	Schema      *serializer.SchemaInfo

	// Timestamp range of the batch in nanoseconds
	MinTimestampNS int64
	MaxTimestampNS int64

	// complete releases the owning buffer's pending-flush count. Workers
	// must call it exactly once per task.
	complete func()
}

// Complete signals the owning buffer that this task left the pipeline.
// Safe to call on tasks without an owner.
func (t *FlushTask) Complete() {
	if t.complete != nil {
		t.complete()
	}
}
