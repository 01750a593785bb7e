package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/busrecorder/errors"
)

// MemoryBackend keeps records in process memory. It backs the test suite
// and dry-run configurations where no durable store is wanted.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]Record // keyed by entry, ordered by insertion
	healthy bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string][]Record),
		healthy: true,
	}
}

// Initialize marks the backend ready
func (b *MemoryBackend) Initialize(_ context.Context) error {
	return nil
}

// WriteRecord stores a copy of the record. Identical re-writes are
// accepted silently; differing payloads for an existing (entry, timestamp)
// report ErrWriteConflict.
func (b *MemoryBackend) WriteRecord(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.records[rec.Entry] {
		if existing.TimestampUS == rec.TimestampUS {
			if bytes.Equal(existing.Payload, rec.Payload) {
				return nil
			}
			return errors.WrapPermanent(errors.ErrWriteConflict, "MemoryBackend", "WriteRecord",
				fmt.Sprintf("entry %q ts %d", rec.Entry, rec.TimestampUS))
		}
	}

	stored := Record{
		Entry:       rec.Entry,
		TimestampUS: rec.TimestampUS,
		Payload:     append([]byte(nil), rec.Payload...),
		Labels:      make(map[string]string, len(rec.Labels)),
	}
	for k, v := range rec.Labels {
		stored.Labels[k] = v
	}
	b.records[rec.Entry] = append(b.records[rec.Entry], stored)
	return nil
}

// HealthCheck reports the configured health state
func (b *MemoryBackend) HealthCheck(_ context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// SetHealthy overrides the health probe result (for tests)
func (b *MemoryBackend) SetHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
}

// BackendType returns "memory"
func (b *MemoryBackend) BackendType() string {
	return "memory"
}

// Records returns the records written to an entry, ordered by timestamp
func (b *MemoryBackend) Records(entry string) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := append([]Record(nil), b.records[entry]...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].TimestampUS < out[j].TimestampUS
	})
	return out
}

// Entries returns all entry names with at least one record
func (b *MemoryBackend) Entries() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]string, 0, len(b.records))
	for entry := range b.records {
		entries = append(entries, entry)
	}
	sort.Strings(entries)
	return entries
}

// TotalRecords returns the total number of stored records
func (b *MemoryBackend) TotalRecords() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, recs := range b.records {
		total += len(recs)
	}
	return total
}
