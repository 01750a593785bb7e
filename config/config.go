// Package config defines the recorder's configuration structures, the YAML
// loader with environment-variable substitution, and validation.
package config

import (
	"fmt"
	"time"

	"github.com/c360/busrecorder/protocol"
)

// Config is the complete recorder configuration
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Storage  StorageConfig  `yaml:"storage"`
	Recorder RecorderConfig `yaml:"recorder"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BusConfig describes how the recorder joins the pub/sub bus
type BusConfig struct {
	Mode             string   `yaml:"mode"` // "peer", "client", or "router"
	ConnectEndpoints []string `yaml:"connect_endpoints"`
	ListenEndpoints  []string `yaml:"listen_endpoints"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Backend     string            `yaml:"backend"` // "timeseries", "filesystem", "objectstore"
	TimeSeries  TimeSeriesConfig  `yaml:"timeseries"`
	Filesystem  FilesystemConfig  `yaml:"filesystem"`
	ObjectStore ObjectStoreConfig `yaml:"objectstore"`
}

// TimeSeriesConfig configures the HTTP time-series object store backend
type TimeSeriesConfig struct {
	URL            string `yaml:"url"`
	BucketName     string `yaml:"bucket_name"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// FilesystemConfig configures the local filesystem backend
type FilesystemConfig struct {
	BasePath   string `yaml:"base_path"`
	MaxRetries int    `yaml:"max_retries"`
}

// ObjectStoreConfig configures the JetStream object store backend
type ObjectStoreConfig struct {
	BucketName string `yaml:"bucket_name"`
	MaxRetries int    `yaml:"max_retries"`
}

// RecorderConfig holds recorder-specific settings
type RecorderConfig struct {
	DeviceID    string            `yaml:"device_id"`
	FlushPolicy FlushPolicy       `yaml:"flush_policy"`
	Compression CompressionConfig `yaml:"compression"`
	Workers     WorkerConfig      `yaml:"workers"`
	Control     ControlConfig     `yaml:"control"`
	Schema      SchemaConfig      `yaml:"schema"`
}

// FlushPolicy sets the per-topic buffer flush triggers
type FlushPolicy struct {
	MaxBufferSizeBytes       int64 `yaml:"max_buffer_size_bytes"`
	MaxBufferDurationSeconds int64 `yaml:"max_buffer_duration_seconds"`
	MinSamplesPerFlush       int   `yaml:"min_samples_per_flush"`
}

// MaxDuration returns the duration trigger as a time.Duration
func (p FlushPolicy) MaxDuration() time.Duration {
	return time.Duration(p.MaxBufferDurationSeconds) * time.Second
}

// TopicCompression is a per-topic compression override
type TopicCompression struct {
	Type  string `yaml:"type"`
	Level int    `yaml:"level"`
}

// CompressionConfig sets the default compression policy and per-topic
// overrides keyed by topic glob pattern.
type CompressionConfig struct {
	DefaultType  string                      `yaml:"default_type"`  // "none", "lz4"/"fast", "zstd"/"ratio"
	DefaultLevel int                         `yaml:"default_level"` // 0-4
	PerTopic     map[string]TopicCompression `yaml:"per_topic"`
}

// Resolve returns the compression policy for a topic, consulting per-topic
// glob overrides before the default.
func (c CompressionConfig) Resolve(topic string) (protocol.Compression, error) {
	for pattern, override := range c.PerTopic {
		if MatchTopic(pattern, topic) {
			ct, err := protocol.ParseCompressionType(override.Type)
			if err != nil {
				return protocol.Compression{}, fmt.Errorf("per_topic %q: %w", pattern, err)
			}
			return protocol.Compression{Type: ct, Level: protocol.CompressionLevel(override.Level)}, nil
		}
	}
	ct, err := protocol.ParseCompressionType(c.DefaultType)
	if err != nil {
		return protocol.Compression{}, err
	}
	return protocol.Compression{Type: ct, Level: protocol.CompressionLevel(c.DefaultLevel)}, nil
}

// WorkerConfig sizes the flush pipeline
type WorkerConfig struct {
	FlushWorkers  int `yaml:"flush_workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// ControlConfig names the control surface keys
type ControlConfig struct {
	KeyPrefix      string `yaml:"key_prefix"` // e.g. "recorder/control"
	StatusKey      string `yaml:"status_key"` // e.g. "recorder/status/**"
	TimeoutSeconds int64  `yaml:"timeout_seconds"`
}

// Timeout returns the control request timeout
func (c ControlConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TopicSchemaInfo describes the payload schema of matching topics
type TopicSchemaInfo struct {
	Format     string `yaml:"format"` // "protobuf", "json", "msgpack", "raw"
	SchemaName string `yaml:"schema_name"`
	SchemaHash string `yaml:"schema_hash"`
}

// SchemaConfig controls schema-info attachment in serialized frames
type SchemaConfig struct {
	DefaultFormat   string                     `yaml:"default_format"`
	IncludeMetadata bool                       `yaml:"include_metadata"`
	PerTopic        map[string]TopicSchemaInfo `yaml:"per_topic"`
}

// SchemaFor returns the schema info to attach for a topic, or nil when
// schema metadata is disabled.
func (c SchemaConfig) SchemaFor(topic string) *TopicSchemaInfo {
	if !c.IncludeMetadata {
		return nil
	}
	for pattern, info := range c.PerTopic {
		if MatchTopic(pattern, topic) {
			matched := info
			return &matched
		}
	}
	return &TopicSchemaInfo{Format: c.DefaultFormat}
}

// LoggingConfig sets log output behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
}

// Default returns a configuration with the recorder's default values
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Mode:             "peer",
			ConnectEndpoints: []string{"nats://localhost:4222"},
		},
		Storage: StorageConfig{
			Backend: "timeseries",
			TimeSeries: TimeSeriesConfig{
				URL:            "http://localhost:8383",
				BucketName:     "bus_recordings",
				TimeoutSeconds: 300,
				MaxRetries:     3,
			},
		},
		Recorder: RecorderConfig{
			DeviceID: "recorder-001",
			FlushPolicy: FlushPolicy{
				MaxBufferSizeBytes:       10 * 1024 * 1024,
				MaxBufferDurationSeconds: 10,
				MinSamplesPerFlush:       10,
			},
			Compression: CompressionConfig{
				DefaultType:  "zstd",
				DefaultLevel: 2,
			},
			Workers: WorkerConfig{
				FlushWorkers:  4,
				QueueCapacity: 1000,
			},
			Control: ControlConfig{
				KeyPrefix:      "recorder/control",
				StatusKey:      "recorder/status/**",
				TimeoutSeconds: 30,
			},
			Schema: SchemaConfig{
				DefaultFormat: "raw",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration and returns a descriptive error for the
// first violation found.
func (c *Config) Validate() error {
	switch c.Bus.Mode {
	case "peer", "client", "router":
	default:
		return fmt.Errorf("bus.mode must be one of peer, client, router; got %q", c.Bus.Mode)
	}
	if len(c.Bus.ConnectEndpoints) == 0 && len(c.Bus.ListenEndpoints) == 0 {
		return fmt.Errorf("bus: at least one connect or listen endpoint is required")
	}

	switch c.Storage.Backend {
	case "timeseries":
		if c.Storage.TimeSeries.URL == "" {
			return fmt.Errorf("storage.timeseries.url is required")
		}
		if c.Storage.TimeSeries.BucketName == "" {
			return fmt.Errorf("storage.timeseries.bucket_name is required")
		}
	case "filesystem":
		if c.Storage.Filesystem.BasePath == "" {
			return fmt.Errorf("storage.filesystem.base_path is required")
		}
	case "objectstore":
		if c.Storage.ObjectStore.BucketName == "" {
			return fmt.Errorf("storage.objectstore.bucket_name is required")
		}
	case "memory":
		// no backend-specific fields
	default:
		return fmt.Errorf("unknown storage backend: %q (supported: timeseries, filesystem, objectstore, memory)", c.Storage.Backend)
	}

	if c.Recorder.DeviceID == "" {
		return fmt.Errorf("recorder.device_id is required")
	}

	p := c.Recorder.FlushPolicy
	if p.MaxBufferSizeBytes <= 0 {
		return fmt.Errorf("recorder.flush_policy.max_buffer_size_bytes must be > 0")
	}
	if p.MaxBufferDurationSeconds <= 0 {
		return fmt.Errorf("recorder.flush_policy.max_buffer_duration_seconds must be > 0")
	}
	if p.MinSamplesPerFlush < 0 {
		return fmt.Errorf("recorder.flush_policy.min_samples_per_flush must be >= 0")
	}

	if _, err := protocol.ParseCompressionType(c.Recorder.Compression.DefaultType); err != nil {
		return fmt.Errorf("recorder.compression.default_type: %w", err)
	}
	if lvl := protocol.CompressionLevel(c.Recorder.Compression.DefaultLevel); !lvl.Valid() {
		return fmt.Errorf("recorder.compression.default_level must be 0-4, got %d", c.Recorder.Compression.DefaultLevel)
	}
	for pattern, tc := range c.Recorder.Compression.PerTopic {
		if _, err := protocol.ParseCompressionType(tc.Type); err != nil {
			return fmt.Errorf("recorder.compression.per_topic[%q]: %w", pattern, err)
		}
		if lvl := protocol.CompressionLevel(tc.Level); !lvl.Valid() {
			return fmt.Errorf("recorder.compression.per_topic[%q].level must be 0-4, got %d", pattern, tc.Level)
		}
	}

	w := c.Recorder.Workers
	if w.FlushWorkers <= 0 {
		return fmt.Errorf("recorder.workers.flush_workers must be > 0")
	}
	if w.QueueCapacity <= 0 {
		return fmt.Errorf("recorder.workers.queue_capacity must be > 0")
	}

	if c.Recorder.Control.KeyPrefix == "" {
		return fmt.Errorf("recorder.control.key_prefix is required")
	}
	if c.Recorder.Control.TimeoutSeconds <= 0 {
		return fmt.Errorf("recorder.control.timeout_seconds must be > 0")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	return nil
}
