// Package natsclient manages the recorder's NATS connection with a circuit
// breaker, reconnect handling, and the bus primitives the recorder needs:
//
//   - Subscribe: per-subject callbacks feeding the topic buffers
//   - Respond: request/reply service for the control and status surfaces
//   - Request: client-side request for tests and tooling
//   - JetStream: access for the object-store storage backend
//
// Bus keys use "/" separators ("recorder/control/dev-01"); KeyToSubject
// maps them to NATS subjects ("recorder.control.dev-01") and back.
//
// The circuit breaker opens after a configurable number of consecutive
// connection failures and backs off exponentially up to a maximum, letting
// one probe attempt through after each backoff period.
package natsclient
