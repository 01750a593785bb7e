package storage

import (
	"fmt"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/natsclient"
)

// NewBackend creates a storage backend from configuration. Selection
// happens once at startup; further backends are additive here.
func NewBackend(cfg config.StorageConfig, bus *natsclient.Client) (Backend, error) {
	switch cfg.Backend {
	case "timeseries":
		return NewTimeSeriesBackend(cfg.TimeSeries)

	case "filesystem":
		return NewFilesystemBackend(cfg.Filesystem)

	case "objectstore":
		if bus == nil {
			return nil, fmt.Errorf("objectstore backend requires a bus client")
		}
		return NewObjectStoreBackend(bus, cfg.ObjectStore)

	case "memory":
		return NewMemoryBackend(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %q (supported: timeseries, filesystem, objectstore, memory)", cfg.Backend)
	}
}

// MaxRetries returns the configured write retry budget for the selected
// backend, falling back to DefaultMaxRetries.
func MaxRetries(cfg config.StorageConfig) int {
	var retries int
	switch cfg.Backend {
	case "timeseries":
		retries = cfg.TimeSeries.MaxRetries
	case "filesystem":
		retries = cfg.Filesystem.MaxRetries
	case "objectstore":
		retries = cfg.ObjectStore.MaxRetries
	}
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	return retries
}
