package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/errors"
)

// FilesystemBackend writes each record as {base}/{entry}/{timestamp_us}.blob
// with a sibling {timestamp_us}.labels.json carrying the label map.
type FilesystemBackend struct {
	basePath string
}

// NewFilesystemBackend builds a backend rooted at the configured base path
func NewFilesystemBackend(cfg config.FilesystemConfig) (*FilesystemBackend, error) {
	if cfg.BasePath == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "FilesystemBackend", "New", "base_path")
	}
	return &FilesystemBackend{basePath: cfg.BasePath}, nil
}

// Initialize creates the base directory if needed
func (b *FilesystemBackend) Initialize(_ context.Context) error {
	if err := os.MkdirAll(b.basePath, 0o755); err != nil {
		return errors.WrapPermanent(err, "FilesystemBackend", "Initialize", "create base directory")
	}
	return nil
}

func (b *FilesystemBackend) blobPath(entry string, timestampUS int64) string {
	return filepath.Join(b.basePath, entry, fmt.Sprintf("%d.blob", timestampUS))
}

func (b *FilesystemBackend) labelsPath(entry string, timestampUS int64) string {
	return filepath.Join(b.basePath, entry, fmt.Sprintf("%d.labels.json", timestampUS))
}

// WriteRecord writes the payload and its labels. The blob is staged to a
// temp file and renamed so a record is never partially visible. A re-write
// with an identical payload is accepted silently; a differing payload for
// the same (entry, timestamp) reports ErrWriteConflict.
func (b *FilesystemBackend) WriteRecord(_ context.Context, rec Record) error {
	entryDir := filepath.Join(b.basePath, rec.Entry)
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return errors.WrapTransient(err, "FilesystemBackend", "WriteRecord", "create entry directory")
	}

	blobPath := b.blobPath(rec.Entry, rec.TimestampUS)
	if existing, err := os.ReadFile(blobPath); err == nil {
		if bytes.Equal(existing, rec.Payload) {
			return nil // idempotent re-write
		}
		return errors.WrapPermanent(errors.ErrWriteConflict, "FilesystemBackend", "WriteRecord",
			fmt.Sprintf("entry %q ts %d", rec.Entry, rec.TimestampUS))
	}

	tmp, err := os.CreateTemp(entryDir, ".write-*")
	if err != nil {
		return errors.WrapTransient(err, "FilesystemBackend", "WriteRecord", "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(rec.Payload); err != nil {
		tmp.Close()
		return errors.WrapTransient(err, "FilesystemBackend", "WriteRecord", "write payload")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WrapTransient(err, "FilesystemBackend", "WriteRecord", "sync payload")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "FilesystemBackend", "WriteRecord", "close temp file")
	}

	if len(rec.Labels) > 0 {
		labelsJSON, err := json.MarshalIndent(rec.Labels, "", "  ")
		if err != nil {
			return errors.WrapPermanent(err, "FilesystemBackend", "WriteRecord", "marshal labels")
		}
		if err := os.WriteFile(b.labelsPath(rec.Entry, rec.TimestampUS), labelsJSON, 0o644); err != nil {
			return errors.WrapTransient(err, "FilesystemBackend", "WriteRecord", "write labels")
		}
	}

	if err := os.Rename(tmpName, blobPath); err != nil {
		return errors.WrapTransient(err, "FilesystemBackend", "WriteRecord", "publish blob")
	}
	return nil
}

// HealthCheck verifies the base directory is writable
func (b *FilesystemBackend) HealthCheck(_ context.Context) bool {
	info, err := os.Stat(b.basePath)
	if err != nil || !info.IsDir() {
		return false
	}

	probe, err := os.CreateTemp(b.basePath, ".health-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	_, writeErr := probe.Write([]byte("ok"))
	probe.Close()
	os.Remove(name)
	return writeErr == nil
}

// BackendType returns "filesystem"
func (b *FilesystemBackend) BackendType() string {
	return "filesystem"
}
