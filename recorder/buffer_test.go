package recorder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/protocol"
	"github.com/c360/busrecorder/pkg/worker"
)

// taskCollector is a fake flush queue capturing enqueued tasks
type taskCollector struct {
	mu    sync.Mutex
	tasks []FlushTask
	full  bool // when true, enqueue reports a full queue
}

func (c *taskCollector) enqueue(task FlushTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return worker.ErrQueueFull
	}
	c.tasks = append(c.tasks, task)
	return nil
}

func (c *taskCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func (c *taskCollector) all() []FlushTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FlushTask(nil), c.tasks...)
}

func testPolicy(sizeBytes int64, durationSec int64, minSamples int) config.FlushPolicy {
	return config.FlushPolicy{
		MaxBufferSizeBytes:       sizeBytes,
		MaxBufferDurationSeconds: durationSec,
		MinSamplesPerFlush:       minSamples,
	}
}

func newTestBuffer(policy config.FlushPolicy, collector *taskCollector) *TopicBuffer {
	return NewTopicBuffer("/sensor/a", "rec-1", policy,
		protocol.Compression{Type: protocol.CompressionNone}, nil, collector.enqueue)
}

func sampleOf(payload string) Sample {
	return Sample{Topic: "/sensor/a", TimestampNS: time.Now().UnixNano(), Payload: []byte(payload)}
}

func TestBufferSizeTrigger(t *testing.T) {
	collector := &taskCollector{}
	// 256-byte threshold, duration effectively disabled
	buffer := newTestBuffer(testPolicy(256, 3600, 0), collector)

	payload := make([]byte, 64)
	for i := 0; i < 10; i++ {
		buffer.Push(Sample{Topic: "/sensor/a", TimestampNS: int64(i + 1), Payload: payload})
	}

	// 64*4 = 256 hits the threshold on pushes 4 and 8
	tasks := collector.all()
	require.Len(t, tasks, 2)
	assert.Len(t, tasks[0].Samples, 4)
	assert.Len(t, tasks[1].Samples, 4)

	remaining, bytes := buffer.Stats()
	assert.Equal(t, 2, remaining)
	assert.Equal(t, int64(128), bytes)
}

func TestBufferEveryPushSwapsAtSizeOne(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(1, 3600, 0), collector)

	for i := 0; i < 5; i++ {
		buffer.Push(sampleOf(fmt.Sprintf("m%d", i)))
	}

	// max_buffer_size_bytes = 1: every push triggers a swap and no task
	// carries more than one sample
	tasks := collector.all()
	require.Len(t, tasks, 5)
	for _, task := range tasks {
		assert.Len(t, task.Samples, 1)
	}
}

func TestBufferDurationTriggerGatedByMinSamples(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(1<<30, 1, 3), collector)

	// Substitute the clock so the duration threshold has elapsed
	base := time.Now()
	buffer.now = func() time.Time { return base.Add(5 * time.Second) }

	// Below min_samples: elapsed duration alone must not flush
	buffer.Push(sampleOf("a"))
	buffer.Push(sampleOf("b"))
	assert.Equal(t, 0, collector.count(), "fewer than min samples waits")

	// Reaching min_samples with the duration elapsed flushes
	buffer.Push(sampleOf("c"))
	require.Equal(t, 1, collector.count())
	assert.Len(t, collector.all()[0].Samples, 3)
}

func TestBufferSizeOnlyWhenDurationHuge(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(10, 3600, 1), collector)

	// Payloads of 3 bytes: the 4th push crosses 10 bytes
	for i := 0; i < 8; i++ {
		buffer.Push(sampleOf("xyz"))
	}
	assert.Equal(t, 2, collector.count(), "flushes are strictly size-triggered")
}

func TestBufferForceFlushIgnoresThresholds(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(1<<30, 3600, 100), collector)

	buffer.Push(sampleOf("only"))
	assert.Equal(t, 0, collector.count())

	assert.True(t, buffer.ForceFlush())
	require.Equal(t, 1, collector.count())
	assert.Len(t, collector.all()[0].Samples, 1)

	// Nothing left: force flush is a no-op
	assert.False(t, buffer.ForceFlush())
}

func TestBufferBackpressureRollback(t *testing.T) {
	collector := &taskCollector{full: true}
	buffer := newTestBuffer(testPolicy(8, 3600, 0), collector)

	buffer.Push(sampleOf("0123456789")) // crosses the threshold, queue full
	assert.Equal(t, 0, collector.count())
	assert.Equal(t, int64(1), buffer.Overloads())

	// Samples stayed on the active half
	samples, bytes := buffer.Stats()
	assert.Equal(t, 1, samples)
	assert.Equal(t, int64(10), bytes)

	// Queue frees up: the next push re-fires the trigger and the task
	// carries everything in push order
	collector.mu.Lock()
	collector.full = false
	collector.mu.Unlock()

	buffer.Push(sampleOf("tail"))
	require.Equal(t, 1, collector.count())
	task := collector.all()[0]
	require.Len(t, task.Samples, 2)
	assert.Equal(t, []byte("0123456789"), task.Samples[0].Payload)
	assert.Equal(t, []byte("tail"), task.Samples[1].Payload)
}

func TestBufferNoSampleLostAndNoneShared(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(50, 3600, 0), collector)

	const n = 1000
	for i := 0; i < n; i++ {
		buffer.Push(Sample{
			Topic:       "/sensor/a",
			TimestampNS: int64(i + 1),
			Payload:     []byte(fmt.Sprintf("payload-%04d", i)),
		})
	}
	buffer.ForceFlush()

	// Every pushed sample appears in exactly one task, in push order
	var recovered []Sample
	for _, task := range collector.all() {
		recovered = append(recovered, task.Samples...)
	}
	require.Len(t, recovered, n)
	for i, sample := range recovered {
		assert.Equal(t, int64(i+1), sample.TimestampNS, "push order violated at %d", i)
	}
}

func TestBufferTaskTimestampRange(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(1<<30, 3600, 0), collector)

	buffer.Push(Sample{Topic: "/sensor/a", TimestampNS: 300, Payload: []byte("x")})
	buffer.Push(Sample{Topic: "/sensor/a", TimestampNS: 100, Payload: []byte("y")})
	buffer.Push(Sample{Topic: "/sensor/a", TimestampNS: 200, Payload: []byte("z")})
	buffer.ForceFlush()

	require.Equal(t, 1, collector.count())
	task := collector.all()[0]
	assert.Equal(t, int64(100), task.MinTimestampNS)
	assert.Equal(t, int64(300), task.MaxTimestampNS)
}

func TestBufferDrain(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(1<<30, 3600, 0), collector)

	buffer.Push(sampleOf("a"))
	buffer.Push(sampleOf("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Simulate a worker completing each task shortly after it is enqueued
	go func() {
		completed := 0
		for {
			tasks := collector.all()
			for ; completed < len(tasks); completed++ {
				tasks[completed].Complete()
			}
			if completed > 0 && buffer.PendingFlushes() == 0 {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, buffer.Drain(ctx))
	samples, _ := buffer.Stats()
	assert.Equal(t, 0, samples)
	assert.Equal(t, int64(0), buffer.PendingFlushes())
}

func TestBufferDrainTimeout(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(1<<30, 3600, 0), collector)

	buffer.Push(sampleOf("a"))

	// No worker ever completes the task
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, buffer.Drain(ctx))
}

func TestBufferConcurrentForceFlush(t *testing.T) {
	collector := &taskCollector{}
	buffer := newTestBuffer(testPolicy(1<<30, 3600, 0), collector)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			buffer.Push(Sample{Topic: "/sensor/a", TimestampNS: int64(i + 1), Payload: []byte("p")})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			buffer.ForceFlush()
			time.Sleep(time.Millisecond)
		}
	}()
	wg.Wait()
	buffer.ForceFlush()

	total := 0
	for _, task := range collector.all() {
		total += len(task.Samples)
	}
	assert.Equal(t, n, total, "concurrent flushing must not lose or duplicate samples")
}

func TestBufferDrainRetriesUnderBackpressure(t *testing.T) {
	collector := &taskCollector{full: true}
	buffer := newTestBuffer(testPolicy(1<<30, 3600, 0), collector)

	buffer.Push(sampleOf("stuck"))

	// Free the queue while drain is spinning
	go func() {
		time.Sleep(20 * time.Millisecond)
		collector.mu.Lock()
		collector.full = false
		collector.mu.Unlock()
	}()
	go func() {
		for {
			if tasks := collector.all(); len(tasks) > 0 {
				tasks[0].Complete()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, buffer.Drain(ctx))
	assert.GreaterOrEqual(t, buffer.Overloads(), int64(1))
}
