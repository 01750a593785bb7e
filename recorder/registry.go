package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/errors"
	"github.com/c360/busrecorder/metric"
	"github.com/c360/busrecorder/pkg/worker"
	"github.com/c360/busrecorder/protocol"
	"github.com/c360/busrecorder/serializer"
	"github.com/c360/busrecorder/storage"
)

// Manager is the process-wide session registry and lifecycle owner. It maps
// recording ids to sessions, runs the shared flush worker pool, and drives
// sessions through their state machine on behalf of the control surface.
type Manager struct {
	cfg     *config.Config
	bus     Bus
	backend storage.Backend
	logger  *slog.Logger
	metrics *metric.Metrics

	pool       *worker.Pool[FlushTask]
	maxRetries int

	mu       sync.RWMutex
	sessions map[string]*Session

	// lastMetadataUS resolves timestamp collisions on the shared
	// recordings_metadata entry
	lastMetadataUS atomic.Int64

	shuttingDown atomic.Bool
}

// NewManager wires the recording core together. Call Start before use.
func NewManager(
	cfg *config.Config,
	bus Bus,
	backend storage.Backend,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) *Manager {
	m := &Manager{
		cfg:        cfg,
		bus:        bus,
		backend:    backend,
		logger:     logger,
		maxRetries: storage.MaxRetries(cfg.Storage),
		sessions:   make(map[string]*Session),
	}
	if metricsRegistry != nil {
		m.metrics = metricsRegistry.CoreMetrics()
	}

	poolOpts := []worker.Option[FlushTask]{}
	if metricsRegistry != nil {
		poolOpts = append(poolOpts,
			worker.WithMetricsRegistry[FlushTask](metricsRegistry, "busrecorder_flush"))
	}
	m.pool = worker.NewPool(
		cfg.Recorder.Workers.FlushWorkers,
		cfg.Recorder.Workers.QueueCapacity,
		m.processFlush,
		poolOpts...,
	)

	return m
}

// Start launches the flush worker pool
func (m *Manager) Start(ctx context.Context) error {
	return m.pool.Start(ctx)
}

// lookup returns the session for a recording id, or nil
func (m *Manager) lookup(recordingID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[recordingID]
}

// Sessions returns a snapshot of all registered sessions
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// QueueDepth returns the flush queue's current depth
func (m *Manager) QueueDepth() int {
	return m.pool.QueueDepth()
}

// bucketName returns the backend container name for responses
func (m *Manager) bucketName() string {
	switch m.cfg.Storage.Backend {
	case "timeseries":
		return m.cfg.Storage.TimeSeries.BucketName
	case "objectstore":
		return m.cfg.Storage.ObjectStore.BucketName
	case "filesystem":
		return m.cfg.Storage.Filesystem.BasePath
	default:
		return ""
	}
}

// StartRecording creates a session, its buffers, and its subscriptions,
// and moves it to Recording. The topic set and metadata are immutable from
// here on.
func (m *Manager) StartRecording(req protocol.Request) protocol.Response {
	if m.shuttingDown.Load() {
		return protocol.Error("recorder is shutting down")
	}
	if len(req.Topics) == 0 {
		return protocol.Error("start request must name at least one topic")
	}

	// A request naming no compression type takes the configured default
	// policy wholesale; an explicit type carries the request's level.
	sessionCompression := protocol.Compression{
		Type:  req.CompressionType,
		Level: req.CompressionLevel,
	}
	if sessionCompression.Type == "" {
		ct, err := protocol.ParseCompressionType(m.cfg.Recorder.Compression.DefaultType)
		if err != nil {
			return protocol.Error(fmt.Sprintf("invalid default compression: %v", err))
		}
		sessionCompression = protocol.Compression{
			Type:  ct,
			Level: protocol.CompressionLevel(m.cfg.Recorder.Compression.DefaultLevel),
		}
	}
	if !sessionCompression.Level.Valid() {
		return protocol.Error(fmt.Sprintf("compression level must be 0-4, got %d", sessionCompression.Level))
	}

	recordingID := req.RecordingID
	if recordingID == "" {
		recordingID = uuid.NewString()
	}

	m.mu.Lock()
	if _, exists := m.sessions[recordingID]; exists {
		m.mu.Unlock()
		return protocol.Error(fmt.Sprintf("recording id %q already registered", recordingID))
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = m.cfg.Recorder.DeviceID
	}

	session := newSession(recordingID, deviceID, Metadata{
		Scene:           req.Scene,
		Skills:          req.Skills,
		Organization:    req.Organization,
		TaskID:          req.TaskID,
		DataCollectorID: req.DataCollectorID,
	}, req.Topics, sessionCompression)

	// Per-topic compression: configuration glob overrides win over the
	// request-level policy.
	for _, topic := range req.Topics {
		topicCompression := sessionCompression
		for pattern := range m.cfg.Recorder.Compression.PerTopic {
			if config.MatchTopic(pattern, topic) {
				resolved, err := m.cfg.Recorder.Compression.Resolve(topic)
				if err != nil {
					m.mu.Unlock()
					return protocol.Error(fmt.Sprintf("per-topic compression for %q: %v", pattern, err))
				}
				topicCompression = resolved
				break
			}
		}

		var schema *serializer.SchemaInfo
		if info := m.cfg.Recorder.Schema.SchemaFor(topic); info != nil {
			schema = &serializer.SchemaInfo{
				Format:     info.Format,
				SchemaName: info.SchemaName,
				SchemaHash: info.SchemaHash,
			}
		}

		session.buffers[topic] = NewTopicBuffer(
			topic, recordingID,
			m.cfg.Recorder.FlushPolicy,
			topicCompression,
			schema,
			m.pool.Submit,
		)
	}

	m.sessions[recordingID] = session
	m.mu.Unlock()

	session.controlMu.Lock()
	defer session.controlMu.Unlock()

	if err := subscribeSession(m.bus, session, m.metrics, m.logger); err != nil {
		m.removeSession(recordingID)
		return protocol.Error(fmt.Sprintf("subscribe failed: %v", err))
	}

	session.startTime = time.Now()
	if err := session.transition(protocol.StateRecording); err != nil {
		unsubscribeSession(session, m.logger)
		m.removeSession(recordingID)
		return protocol.Error(err.Error())
	}

	if m.metrics != nil {
		m.metrics.SessionsActive.Inc()
	}

	m.logger.Info("Recording started",
		"recording_id", recordingID,
		"topics", len(req.Topics),
		"compression", string(sessionCompression.Type))

	return protocol.OK(recordingID, m.bucketName())
}

// PauseRecording force-flushes all buffers and stops accepting pushes
func (m *Manager) PauseRecording(recordingID string) protocol.Response {
	session := m.lookup(recordingID)
	if session == nil {
		return protocol.Error(fmt.Sprintf("unknown recording id %q", recordingID))
	}

	session.controlMu.Lock()
	defer session.controlMu.Unlock()

	if session.State() != protocol.StateRecording {
		return protocol.Error(fmt.Sprintf("cannot pause recording in state %s", session.State()))
	}

	// Side effects before the transition commits: flush what is buffered.
	// In-flight flush tasks are not cancelled.
	for _, buffer := range session.buffers {
		buffer.ForceFlush()
	}

	if err := session.transition(protocol.StatePaused); err != nil {
		return protocol.Error(err.Error())
	}

	m.logger.Info("Recording paused", "recording_id", recordingID)
	return protocol.OK(recordingID, "")
}

// ResumeRecording re-enables pushes on a paused session
func (m *Manager) ResumeRecording(recordingID string) protocol.Response {
	session := m.lookup(recordingID)
	if session == nil {
		return protocol.Error(fmt.Sprintf("unknown recording id %q", recordingID))
	}

	session.controlMu.Lock()
	defer session.controlMu.Unlock()

	if err := session.transition(protocol.StateRecording); err != nil {
		return protocol.Error(fmt.Sprintf("cannot resume recording in state %s", session.State()))
	}

	m.logger.Info("Recording resumed", "recording_id", recordingID)
	return protocol.OK(recordingID, "")
}

// FinishRecording drains all buffers, writes the session metadata record,
// and moves the session to Finished.
func (m *Manager) FinishRecording(ctx context.Context, recordingID string) protocol.Response {
	session := m.lookup(recordingID)
	if session == nil {
		return protocol.Error(fmt.Sprintf("unknown recording id %q", recordingID))
	}

	session.controlMu.Lock()
	defer session.controlMu.Unlock()

	if err := session.transition(protocol.StateUploading); err != nil {
		return protocol.Error(fmt.Sprintf("cannot finish recording in state %s", session.State()))
	}

	for _, buffer := range session.buffers {
		if err := buffer.Drain(ctx); err != nil {
			m.logger.Error("Buffer drain failed",
				"recording_id", recordingID,
				"topic", buffer.Topic(),
				"error", err)
			return protocol.Error(fmt.Sprintf("drain timed out for topic %s", buffer.Topic()))
		}
	}

	session.endTime.Store(time.Now())

	if err := m.writeMetadataRecord(ctx, session); err != nil {
		m.logger.Error("Metadata record write failed",
			"recording_id", recordingID,
			"error", err)
		return protocol.Error(fmt.Sprintf("metadata write failed: %v", err))
	}

	if err := session.transition(protocol.StateFinished); err != nil {
		return protocol.Error(err.Error())
	}

	unsubscribeSession(session, m.logger)

	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}

	totalSamples, totalBytes := session.Totals()
	m.logger.Info("Recording finished",
		"recording_id", recordingID,
		"total_samples", totalSamples,
		"total_bytes", totalBytes)

	return protocol.OK(recordingID, m.bucketName())
}

// CancelRecording aborts a session: subscriptions are dropped, buffered
// samples are discarded, and queued flush tasks for the session are skipped
// by the workers. In-flight backend writes complete on their own budget.
func (m *Manager) CancelRecording(recordingID string) protocol.Response {
	session := m.lookup(recordingID)
	if session == nil {
		return protocol.Error(fmt.Sprintf("unknown recording id %q", recordingID))
	}

	session.controlMu.Lock()
	defer session.controlMu.Unlock()

	if err := session.transition(protocol.StateCancelled); err != nil {
		return protocol.Error(fmt.Sprintf("cannot cancel recording in state %s", session.State()))
	}

	unsubscribeSession(session, m.logger)

	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}

	m.logger.Info("Recording cancelled", "recording_id", recordingID)
	return protocol.OK(recordingID, "")
}

// Status snapshots a session for the status surface
func (m *Manager) Status(recordingID string) protocol.StatusResponse {
	session := m.lookup(recordingID)
	if session == nil {
		return protocol.StatusResponse{
			Success: false,
			Message: fmt.Sprintf("unknown recording id %q", recordingID),
			State:   protocol.StateIdle,
		}
	}

	_, totalBytes := session.Totals()
	return protocol.StatusResponse{
		Success:            true,
		Message:            "ok",
		State:              session.State(),
		Scene:              session.meta.Scene,
		Skills:             session.meta.Skills,
		Organization:       session.meta.Organization,
		TaskID:             session.meta.TaskID,
		DeviceID:           session.deviceID,
		DataCollectorID:    session.meta.DataCollectorID,
		ActiveTopics:       session.topics,
		BufferSizeBytes:    session.BufferedBytes(),
		TotalRecordedBytes: totalBytes,
	}
}

// removeSession deletes a registry entry unconditionally (internal use)
func (m *Manager) removeSession(recordingID string) {
	m.mu.Lock()
	delete(m.sessions, recordingID)
	m.mu.Unlock()
}

// Reap removes sessions that are terminal and fully quiescent (no flush
// task of theirs remains in the pipeline). Returns the removed ids.
func (m *Manager) Reap() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, session := range m.sessions {
		if session.State().Terminal() && session.PendingFlushes() == 0 {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// writeMetadataRecord persists the session's metadata under the shared
// recordings_metadata entry.
func (m *Manager) writeMetadataRecord(ctx context.Context, session *Session) error {
	md := session.metadataRecord()
	payload, err := json.Marshal(md)
	if err != nil {
		return errors.WrapPermanent(err, "Manager", "writeMetadataRecord", "marshal metadata")
	}

	wantUS := time.Now().UnixMicro()
	for {
		last := m.lastMetadataUS.Load()
		ts := wantUS
		if ts <= last {
			ts = last + 1
		}
		if m.lastMetadataUS.CompareAndSwap(last, ts) {
			wantUS = ts
			break
		}
	}

	rec := storage.Record{
		Entry:       storage.MetadataEntry,
		TimestampUS: wantUS,
		Payload:     payload,
		Labels: map[string]string{
			storage.LabelRecordingID: session.recordingID,
			storage.LabelDeviceID:    session.deviceID,
			storage.LabelScene:       session.meta.Scene,
		},
	}
	return storage.WriteWithRetry(ctx, m.backend, rec, m.maxRetries)
}

// processFlush is the worker processor: serialize, name, write, account.
func (m *Manager) processFlush(ctx context.Context, task FlushTask) error {
	defer task.Complete()

	session := m.lookup(task.RecordingID)
	if session == nil {
		// Session already reaped; nothing to account against
		return nil
	}
	if session.State() == protocol.StateCancelled {
		// Cancel discards queued tasks that have not started
		return nil
	}

	ser := serializer.New(task.Compression, task.Schema)
	batch := serializer.Batch{
		Topic:       task.Topic,
		RecordingID: task.RecordingID,
		Timestamps:  make([]int64, len(task.Samples)),
		Payloads:    make([][]byte, len(task.Samples)),
	}
	var payloadBytes int64
	for i, sample := range task.Samples {
		batch.Timestamps[i] = sample.TimestampNS
		batch.Payloads[i] = sample.Payload
		payloadBytes += int64(sample.Size())
	}

	blob, err := ser.SerializeBatch(batch)
	if err != nil {
		session.flushErrors.Add(1)
		if m.metrics != nil {
			m.metrics.FlushErrors.WithLabelValues("permanent").Inc()
		}
		return errors.WrapPermanent(err, "Manager", "processFlush", "serialize batch")
	}

	timestampUS := session.reserveTimestampUS(task.Topic, task.MinTimestampNS/1000)

	rec := storage.Record{
		Entry:       storage.EntryName(task.Topic),
		TimestampUS: timestampUS,
		Payload:     blob,
		Labels: map[string]string{
			storage.LabelRecordingID: task.RecordingID,
			storage.LabelTopic:       task.Topic,
			storage.LabelDeviceID:    session.deviceID,
			storage.LabelFormat:      serializer.FormatName,
			storage.LabelCompression: string(task.Compression.Type),
		},
	}

	if err := storage.WriteWithRetry(ctx, m.backend, rec, m.maxRetries); err != nil {
		// The task is dropped, never requeued, to avoid poison-pill stalls
		session.flushErrors.Add(1)
		if m.metrics != nil {
			m.metrics.FlushesCompleted.WithLabelValues("error").Inc()
			m.metrics.FlushErrors.WithLabelValues(errors.Classify(err).String()).Inc()
		}
		m.logger.Error("Flush task dropped after write failure",
			"recording_id", task.RecordingID,
			"topic", task.Topic,
			"samples", len(task.Samples),
			"error", err)
		return err
	}

	session.addStats(task.Topic, int64(len(task.Samples)), payloadBytes)
	if m.metrics != nil {
		m.metrics.FlushesCompleted.WithLabelValues("success").Inc()
		m.metrics.SamplesRecorded.WithLabelValues(task.Topic).Add(float64(len(task.Samples)))
		m.metrics.BytesRecorded.WithLabelValues(task.Topic).Add(float64(payloadBytes))
	}

	m.logger.Debug("Flush task written",
		"recording_id", task.RecordingID,
		"topic", task.Topic,
		"samples", len(task.Samples),
		"timestamp_us", timestampUS)
	return nil
}

// Shutdown force-flushes every non-terminal session, drains the flush
// queue, then drops subscriptions. The context deadline bounds the wait.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shuttingDown.Store(true)

	for _, session := range m.Sessions() {
		if session.State().Terminal() {
			continue
		}
		for _, buffer := range session.buffers {
			buffer.ForceFlush()
		}
	}

	timeout := 60 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	err := m.pool.Stop(timeout)

	for _, session := range m.Sessions() {
		unsubscribeSession(session, m.logger)
	}

	if err != nil {
		return errors.Wrap(err, "Manager", "Shutdown", "drain flush queue")
	}
	m.logger.Info("Recorder shut down", "sessions", len(m.Sessions()))
	return nil
}
