// Package protocol defines the wire types of the recorder's control surface:
// commands, request and response payloads, recording states, and the
// compression policy carried by Start requests. All payloads are JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command identifies a recorder control operation
type Command string

// Recorder control commands
const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandCancel Command = "cancel"
	CommandFinish Command = "finish"
)

// Valid reports whether the command is one the recorder understands
func (c Command) Valid() bool {
	switch c {
	case CommandStart, CommandPause, CommandResume, CommandCancel, CommandFinish:
		return true
	}
	return false
}

// CompressionType selects the serializer's compression codec
type CompressionType string

// Supported compression codecs
const (
	CompressionNone CompressionType = "none"
	CompressionLZ4  CompressionType = "lz4"
	CompressionZstd CompressionType = "zstd"
)

// ParseCompressionType parses a codec name. The policy aliases "fast" (LZ4)
// and "ratio" (zstd) are accepted alongside the concrete codec names.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4", "fast":
		return CompressionLZ4, nil
	case "zstd", "ratio":
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression type: %q", s)
	}
}

// CompressionLevel is the 0-4 policy level carried on Start requests and in
// configuration. Each codec maps it to its native level range.
type CompressionLevel int

// Policy levels
const (
	LevelFastest CompressionLevel = 0
	LevelFast    CompressionLevel = 1
	LevelDefault CompressionLevel = 2
	LevelSlow    CompressionLevel = 3
	LevelSlowest CompressionLevel = 4
)

// Valid reports whether the level is within the 0-4 policy range
func (l CompressionLevel) Valid() bool {
	return l >= LevelFastest && l <= LevelSlowest
}

// ZstdLevel maps the policy level to a zstd compression level
func (l CompressionLevel) ZstdLevel() int {
	switch l {
	case LevelFastest:
		return 1
	case LevelFast:
		return 3
	case LevelDefault:
		return 5
	case LevelSlow:
		return 10
	case LevelSlowest:
		return 19
	default:
		return 5
	}
}

// LZ4Level maps the policy level to an LZ4 compression level
func (l CompressionLevel) LZ4Level() int {
	switch l {
	case LevelFastest:
		return 1
	case LevelFast:
		return 3
	case LevelDefault:
		return 5
	case LevelSlow:
		return 9
	case LevelSlowest:
		return 12
	default:
		return 5
	}
}

// Compression pairs a codec with its policy level
type Compression struct {
	Type  CompressionType  `json:"type"`
	Level CompressionLevel `json:"level"`
}

// Request is the control request payload on recorder/control/{device-id}
type Request struct {
	Command         Command          `json:"command"`
	RecordingID     string           `json:"recording_id,omitempty"`
	Scene           string           `json:"scene,omitempty"`
	Skills          []string         `json:"skills,omitempty"`
	Organization    string           `json:"organization,omitempty"`
	TaskID          string           `json:"task_id,omitempty"`
	DeviceID        string           `json:"device_id"`
	DataCollectorID string           `json:"data_collector_id,omitempty"`
	Topics          []string         `json:"topics,omitempty"`
	CompressionType CompressionType  `json:"compression_type,omitempty"`
	CompressionLevel CompressionLevel `json:"compression_level,omitempty"`
}

// Response is the uniform control response payload
type Response struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RecordingID string `json:"recording_id,omitempty"`
	BucketName  string `json:"bucket_name,omitempty"`
}

// OK builds a success response
func OK(recordingID, bucketName string) Response {
	return Response{
		Success:     true,
		Message:     "Operation completed successfully",
		RecordingID: recordingID,
		BucketName:  bucketName,
	}
}

// Error builds a failure response with a descriptive message
func Error(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}

// RecordingState is a recording session's position in its state machine
type RecordingState int32

// Session states. Finished and Cancelled are terminal.
const (
	StateIdle RecordingState = iota
	StateRecording
	StatePaused
	StateUploading
	StateFinished
	StateCancelled
)

// String returns the lowercase wire name of the state
func (s RecordingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateUploading:
		return "uploading"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions
func (s RecordingState) Terminal() bool {
	return s == StateFinished || s == StateCancelled
}

// MarshalJSON encodes the state as its wire name
func (s RecordingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state from its wire name
func (s *RecordingState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = StateIdle
	case "recording":
		*s = StateRecording
	case "paused":
		*s = StatePaused
	case "uploading":
		*s = StateUploading
	case "finished":
		*s = StateFinished
	case "cancelled":
		*s = StateCancelled
	default:
		return fmt.Errorf("unknown recording state: %q", name)
	}
	return nil
}

// StatusResponse is the payload served on recorder/status/{recording-id}
type StatusResponse struct {
	Success            bool           `json:"success"`
	Message            string         `json:"message"`
	State              RecordingState `json:"status"`
	Scene              string         `json:"scene,omitempty"`
	Skills             []string       `json:"skills,omitempty"`
	Organization       string         `json:"organization,omitempty"`
	TaskID             string         `json:"task_id,omitempty"`
	DeviceID           string         `json:"device_id"`
	DataCollectorID    string         `json:"data_collector_id,omitempty"`
	ActiveTopics       []string       `json:"active_topics,omitempty"`
	BufferSizeBytes    int64          `json:"buffer_size_bytes"`
	TotalRecordedBytes int64          `json:"total_recorded_bytes"`
}

// TopicStats carries per-topic sample and byte counts
type TopicStats struct {
	Samples int64 `json:"samples"`
	Bytes   int64 `json:"bytes"`
}

// RecordingMetadata is the metadata record written to the backend when a
// session finishes, under the recordings_metadata entry.
type RecordingMetadata struct {
	RecordingID      string                `json:"recording_id"`
	Scene            string                `json:"scene,omitempty"`
	Skills           []string              `json:"skills,omitempty"`
	Organization     string                `json:"organization,omitempty"`
	TaskID           string                `json:"task_id,omitempty"`
	DeviceID         string                `json:"device_id"`
	DataCollectorID  string                `json:"data_collector_id,omitempty"`
	Topics           []string              `json:"topics"`
	CompressionType  CompressionType       `json:"compression_type"`
	CompressionLevel CompressionLevel      `json:"compression_level"`
	StartTime        string                `json:"start_time"`
	EndTime          string                `json:"end_time,omitempty"`
	TotalBytes       int64                 `json:"total_bytes"`
	TotalSamples     int64                 `json:"total_samples"`
	PerTopicStats    map[string]TopicStats `json:"per_topic_stats"`
}
