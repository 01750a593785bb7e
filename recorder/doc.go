// Package recorder implements the recording core.
//
// Data flow: bus -> subscriber callback -> TopicBuffer (active half) ->
// size/time trigger -> swap -> flush queue -> flush worker -> serializer ->
// storage backend.
//
// Control flow: control surface -> Manager -> Session state transition ->
// (on Start) buffers and subscriptions created / (on Finish) buffers
// drained, metadata written, subscriptions dropped.
//
// Concurrency discipline:
//
//   - The subscriber callback path never blocks on I/O: a push appends to
//     the active buffer half under a memory-only critical section.
//   - At most one swap is in flight per buffer (CAS on swapInProgress);
//     a swap that cannot enqueue its task (full queue) is rolled back so
//     no sample is ever dropped silently.
//   - Session state lives in an atomic; status queries never contend with
//     the producer path. Control operations on one session serialize on a
//     per-session mutex while distinct sessions proceed in parallel.
//   - The Manager holds the only strong anchor to sessions; flush tasks
//     reference sessions by recording id and re-resolve through the
//     registry, which keeps ownership acyclic.
package recorder
