package recorder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/busrecorder/errors"
	"github.com/c360/busrecorder/protocol"
)

// topicStats tracks written samples and bytes for one topic. lastWrittenUS
// backs the (entry, timestamp_us) collision resolution: a flush whose
// microsecond timestamp would not exceed the previous write gets nudged
// forward monotonically.
type topicStats struct {
	samples       atomic.Int64
	bytes         atomic.Int64
	lastWrittenUS atomic.Int64
}

// Metadata is the immutable descriptive metadata of a recording session
type Metadata struct {
	Scene           string
	Skills          []string
	Organization    string
	TaskID          string
	DataCollectorID string
}

// Session is one recording activity. It owns one TopicBuffer per topic
// while in a non-terminal state, tracks per-topic statistics, and holds
// its state-machine position in an atomic so status queries never lock
// the producer path. Control operations are serialized by controlMu.
type Session struct {
	recordingID string
	deviceID    string
	meta        Metadata
	topics      []string
	compression protocol.Compression

	state atomic.Int32

	startTime time.Time
	endTime   atomic.Value // time.Time, set on Finish

	buffers map[string]*TopicBuffer
	stats   map[string]*topicStats

	subs []BusSubscription

	// Error and discard accounting
	flushErrors     atomic.Int64
	discardedPaused atomic.Int64

	// controlMu serializes control operations on this session; operations
	// on distinct sessions proceed in parallel.
	controlMu sync.Mutex
}

// newSession builds a session in Idle state. Buffers and subscriptions are
// attached by the manager during Start.
func newSession(recordingID, deviceID string, meta Metadata, topics []string, compression protocol.Compression) *Session {
	s := &Session{
		recordingID: recordingID,
		deviceID:    deviceID,
		meta:        meta,
		topics:      topics,
		compression: compression,
		buffers:     make(map[string]*TopicBuffer, len(topics)),
		stats:       make(map[string]*topicStats, len(topics)),
	}
	for _, topic := range topics {
		s.stats[topic] = &topicStats{}
	}
	s.state.Store(int32(protocol.StateIdle))
	return s
}

// RecordingID returns the session's unique recording id
func (s *Session) RecordingID() string {
	return s.recordingID
}

// DeviceID returns the owning device id
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Topics returns the immutable topic set
func (s *Session) Topics() []string {
	return s.topics
}

// Meta returns the session metadata
func (s *Session) Meta() Metadata {
	return s.meta
}

// State returns the current state without locking
func (s *Session) State() protocol.RecordingState {
	return protocol.RecordingState(s.state.Load())
}

// transition validates and commits a state change. It returns
// ErrInvalidTransition (wrapped with both states) when the move is not in
// the state machine.
func (s *Session) transition(to protocol.RecordingState) error {
	from := s.State()
	if !validTransition(from, to) {
		return errors.WrapPermanent(
			fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, from, to),
			"Session", "transition", s.recordingID)
	}
	s.state.Store(int32(to))
	return nil
}

// validTransition encodes the session state machine
func validTransition(from, to protocol.RecordingState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case protocol.StateRecording:
		return from == protocol.StateIdle || from == protocol.StatePaused
	case protocol.StatePaused:
		return from == protocol.StateRecording
	case protocol.StateUploading:
		return from == protocol.StateRecording || from == protocol.StatePaused
	case protocol.StateFinished:
		return from == protocol.StateUploading
	case protocol.StateCancelled:
		return true // any non-terminal state may cancel
	default:
		return false
	}
}

// Buffer returns the buffer for a topic, or nil
func (s *Session) Buffer(topic string) *TopicBuffer {
	return s.buffers[topic]
}

// addStats records a successful flush for a topic
func (s *Session) addStats(topic string, samples, bytes int64) {
	st, ok := s.stats[topic]
	if !ok {
		return
	}
	st.samples.Add(samples)
	st.bytes.Add(bytes)
}

// reserveTimestampUS resolves (entry, timestamp_us) collisions: the
// returned timestamp is strictly greater than any previously reserved one
// for this topic, nudging forward by one microsecond when needed.
func (s *Session) reserveTimestampUS(topic string, wantUS int64) int64 {
	st, ok := s.stats[topic]
	if !ok {
		return wantUS
	}
	for {
		last := st.lastWrittenUS.Load()
		ts := wantUS
		if ts <= last {
			ts = last + 1
		}
		if st.lastWrittenUS.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// TopicStats returns a snapshot of per-topic statistics
func (s *Session) TopicStats() map[string]protocol.TopicStats {
	out := make(map[string]protocol.TopicStats, len(s.stats))
	for topic, st := range s.stats {
		out[topic] = protocol.TopicStats{
			Samples: st.samples.Load(),
			Bytes:   st.bytes.Load(),
		}
	}
	return out
}

// Totals returns the summed per-topic statistics
func (s *Session) Totals() (samples, bytes int64) {
	for _, st := range s.stats {
		samples += st.samples.Load()
		bytes += st.bytes.Load()
	}
	return samples, bytes
}

// BufferedBytes returns the bytes currently held on active halves
func (s *Session) BufferedBytes() int64 {
	var total int64
	for _, b := range s.buffers {
		_, bytes := b.Stats()
		total += bytes
	}
	return total
}

// FlushErrors returns the count of flush tasks dropped after failure
func (s *Session) FlushErrors() int64 {
	return s.flushErrors.Load()
}

// DiscardedWhilePaused returns samples dropped at the callback during Pause
func (s *Session) DiscardedWhilePaused() int64 {
	return s.discardedPaused.Load()
}

// PendingFlushes sums the in-pipeline task count across buffers
func (s *Session) PendingFlushes() int64 {
	var total int64
	for _, b := range s.buffers {
		total += b.PendingFlushes()
	}
	return total
}

// StartTime returns when recording started
func (s *Session) StartTime() time.Time {
	return s.startTime
}

// EndTime returns when the session finished, or the zero time
func (s *Session) EndTime() time.Time {
	if v := s.endTime.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// metadataRecord builds the session's metadata payload for the backend
func (s *Session) metadataRecord() protocol.RecordingMetadata {
	totalSamples, totalBytes := s.Totals()

	md := protocol.RecordingMetadata{
		RecordingID:      s.recordingID,
		Scene:            s.meta.Scene,
		Skills:           s.meta.Skills,
		Organization:     s.meta.Organization,
		TaskID:           s.meta.TaskID,
		DeviceID:         s.deviceID,
		DataCollectorID:  s.meta.DataCollectorID,
		Topics:           s.topics,
		CompressionType:  s.compression.Type,
		CompressionLevel: s.compression.Level,
		StartTime:        s.startTime.UTC().Format(time.RFC3339Nano),
		TotalBytes:       totalBytes,
		TotalSamples:     totalSamples,
		PerTopicStats:    s.TopicStats(),
	}
	if end := s.EndTime(); !end.IsZero() {
		md.EndTime = end.UTC().Format(time.RFC3339Nano)
	}
	return md
}
