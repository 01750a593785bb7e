package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/errors"
	"github.com/c360/busrecorder/protocol"
	"github.com/c360/busrecorder/serializer"
)

// TopicBuffer is the per-(session, topic) double-buffered accumulator.
// Exactly one half is active and receives pushes; a swap hands the filled
// half to the flush pipeline as a FlushTask and installs a fresh half.
// At most one swap is in flight per buffer (CAS-guarded), and a swap whose
// enqueue fails is rolled back so no sample is lost silently.
type TopicBuffer struct {
	topic       string
	recordingID string

	// Double buffer. halves[activeIdx] receives pushes; the mutex guards
	// half mutation and the counters. Critical sections are memory-only,
	// so the producer path never blocks on I/O.
	mu        sync.Mutex
	halves    [2][]Sample
	activeIdx int

	// Counters for the active half
	activeBytes   int64
	activeSamples int

	lastFlushNS atomic.Int64

	// swapInProgress serializes swappers without blocking them: a failed
	// CAS means another swap is already carrying this buffer's samples.
	swapInProgress atomic.Bool

	// Flush triggers
	sizeThreshold     int64
	durationThreshold time.Duration
	minSamples        int

	// Flush pipeline
	enqueue     func(FlushTask) error
	compression protocol.Compression
	schema      *serializer.SchemaInfo

	// Observability
	overloads atomic.Int64
	pending   atomic.Int64

	// now is the buffer's clock; tests substitute it
	now func() time.Time
}

// NewTopicBuffer creates a buffer for one topic of one recording session.
// enqueue must be a non-blocking submit into the flush queue.
func NewTopicBuffer(
	topic, recordingID string,
	policy config.FlushPolicy,
	compression protocol.Compression,
	schema *serializer.SchemaInfo,
	enqueue func(FlushTask) error,
) *TopicBuffer {
	b := &TopicBuffer{
		topic:             topic,
		recordingID:       recordingID,
		sizeThreshold:     policy.MaxBufferSizeBytes,
		durationThreshold: policy.MaxDuration(),
		minSamples:        policy.MinSamplesPerFlush,
		enqueue:           enqueue,
		compression:       compression,
		schema:            schema,
		now:               time.Now,
	}
	b.lastFlushNS.Store(time.Now().UnixNano())
	return b
}

// Topic returns the buffer's topic
func (b *TopicBuffer) Topic() string {
	return b.topic
}

// Push appends a sample to the active half and triggers a swap when the
// size threshold is reached, or when the duration threshold has elapsed
// with at least the minimum sample count accumulated.
func (b *TopicBuffer) Push(sample Sample) {
	b.mu.Lock()
	idx := b.activeIdx
	b.halves[idx] = append(b.halves[idx], sample)
	b.activeBytes += int64(sample.Size())
	b.activeSamples++
	shouldSwap := b.thresholdsMetLocked()
	b.mu.Unlock()

	if shouldSwap {
		b.trySwap(false)
	}
}

// thresholdsMetLocked evaluates the trigger policy. Caller holds b.mu.
func (b *TopicBuffer) thresholdsMetLocked() bool {
	if b.activeBytes >= b.sizeThreshold {
		return true
	}
	elapsed := b.now().UnixNano() - b.lastFlushNS.Load()
	if elapsed >= int64(b.durationThreshold) && b.activeSamples >= b.minSamples {
		return true
	}
	return false
}

// ForceFlush swaps unconditionally, ignoring thresholds. Used on Pause,
// Finish, and shutdown. Returns true if a task was enqueued.
func (b *TopicBuffer) ForceFlush() bool {
	return b.trySwap(true)
}

// trySwap performs the double-buffer swap. A failed swapInProgress CAS
// returns immediately: the caller's samples are on the active half and the
// in-flight swapper's work will carry them or the trigger re-fires later.
func (b *TopicBuffer) trySwap(force bool) bool {
	if !b.swapInProgress.CompareAndSwap(false, true) {
		return false
	}
	defer b.swapInProgress.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Re-check under the lock: a concurrent swap may have emptied the half
	if !force && !b.thresholdsMetLocked() {
		return false
	}

	idx := b.activeIdx
	samples := b.halves[idx]
	if len(samples) == 0 {
		return false
	}

	minTS, maxTS := samples[0].TimestampNS, samples[0].TimestampNS
	for _, s := range samples[1:] {
		if s.TimestampNS < minTS {
			minTS = s.TimestampNS
		}
		if s.TimestampNS > maxTS {
			maxTS = s.TimestampNS
		}
	}

	task := FlushTask{
		RecordingID:    b.recordingID,
		Topic:          b.topic,
		Samples:        samples,
		Compression:    b.compression,
		Schema:         b.schema,
		MinTimestampNS: minTS,
		MaxTimestampNS: maxTS,
		complete:       func() { b.pending.Add(-1) },
	}

	// Count the task as pending before the enqueue so a worker completing
	// it immediately cannot be observed before it was counted.
	b.pending.Add(1)
	if err := b.enqueue(task); err != nil {
		// Backpressure rollback: the queue is full, so the swap is undone
		// and the trigger re-fires on the next push. Nothing was mutated,
		// so sample order is preserved exactly.
		b.pending.Add(-1)
		b.overloads.Add(1)
		return false
	}

	b.halves[idx] = make([]Sample, 0, len(samples))
	b.activeIdx = 1 - idx
	b.activeBytes = 0
	b.activeSamples = 0
	b.lastFlushNS.Store(b.now().UnixNano())
	return true
}

// Drain force-flushes and waits until no flush task for this buffer
// remains in the pipeline. Called on session termination.
func (b *TopicBuffer) Drain(ctx context.Context) error {
	// Keep force-flushing until the active half is empty; a rollback under
	// backpressure leaves samples behind that the next attempt carries.
	for {
		b.ForceFlush()
		b.mu.Lock()
		empty := b.activeSamples == 0
		b.mu.Unlock()
		if empty {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrBufferDrain, "TopicBuffer", "Drain", b.topic)
		case <-time.After(10 * time.Millisecond):
		}
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrBufferDrain, "TopicBuffer", "Drain", b.topic)
		case <-ticker.C:
		}
	}
}

// Stats returns the active half's sample and byte counters
func (b *TopicBuffer) Stats() (samples int, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeSamples, b.activeBytes
}

// Overloads returns the number of swap rollbacks caused by a full queue
func (b *TopicBuffer) Overloads() int64 {
	return b.overloads.Load()
}

// PendingFlushes returns the number of this buffer's tasks still in the pipeline
func (b *TopicBuffer) PendingFlushes() int64 {
	return b.pending.Load()
}
