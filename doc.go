// Package busrecorder is a multi-topic data recorder for a NATS pub/sub
// bus.
//
// The recorder subscribes to a dynamic set of topic streams, aggregates
// messages per topic into double-buffered accumulators, and flushes them on
// size or time triggers through a bounded worker pool into a pluggable
// storage backend. A request/reply control surface on the same bus drives
// recording sessions through start, pause, resume, cancel, and finish.
//
// # Architecture
//
//	bus -> SubscriberPool callback -> TopicBuffer (active half)
//	    -> size/time trigger -> atomic swap -> flush queue
//	    -> FlushWorker -> Serializer -> StorageBackend
//
// Packages:
//
//   - recorder: topic buffers, flush pipeline, sessions, registry
//   - control: the bus control and status endpoints
//   - serializer: length-prefixed container format with LZ4/zstd
//   - storage: backend contract and the timeseries, filesystem, and
//     JetStream object-store implementations
//   - natsclient: bus connection management with circuit breaker
//   - config: YAML configuration with env substitution and validation
//   - protocol: wire types of the control surface
//   - errors, metric, pkg/retry, pkg/worker: shared infrastructure
//
// The recorder is write-only by design: consumers read recordings directly
// from the backend with its native tooling.
package busrecorder
