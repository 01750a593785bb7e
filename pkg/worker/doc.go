// Package worker provides a generic bounded worker pool used as the
// recorder's flush pipeline: topic buffers submit flush tasks without
// blocking, and a fixed set of workers consumes them.
//
// The queue is a buffered channel of configured capacity. Submit never
// blocks — a full queue returns ErrQueueFull so the producer can apply
// backpressure (the topic buffer rolls its swap back and retries on the
// next push). Stop closes the queue and waits for workers to drain what
// was already enqueued, which is the shutdown guarantee the flush
// pipeline relies on.
//
//	pool := worker.NewPool(4, 16, processFlush,
//	    worker.WithMetricsRegistry[FlushTask](registry, "recorder_flush"))
//	pool.Start(ctx)
//	...
//	if err := pool.Submit(task); errors.Is(err, worker.ErrQueueFull) {
//	    // roll back the buffer swap
//	}
//	pool.Stop(30 * time.Second)
package worker
