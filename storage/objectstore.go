package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/errors"
	"github.com/c360/busrecorder/natsclient"
)

// ObjectStoreBackend stores records in a NATS JetStream object store
// bucket, one object per record named {entry}/{timestamp_us}, with labels
// carried as object metadata.
type ObjectStoreBackend struct {
	client     *natsclient.Client
	bucketName string

	store jetstream.ObjectStore
}

// NewObjectStoreBackend builds a backend over an existing bus client
func NewObjectStoreBackend(client *natsclient.Client, cfg config.ObjectStoreConfig) (*ObjectStoreBackend, error) {
	if cfg.BucketName == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "ObjectStoreBackend", "New", "bucket_name")
	}
	return &ObjectStoreBackend{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// Initialize creates the object store bucket if it doesn't exist
func (b *ObjectStoreBackend) Initialize(ctx context.Context) error {
	js, err := b.client.JetStream()
	if err != nil {
		return errors.WrapTransient(err, "ObjectStoreBackend", "Initialize", "acquire JetStream")
	}

	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      b.bucketName,
		Description: "bus recorder records",
	})
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketExists) {
			store, err = js.ObjectStore(ctx, b.bucketName)
			if err != nil {
				return errors.WrapTransient(err, "ObjectStoreBackend", "Initialize", "open bucket")
			}
		} else {
			return errors.WrapTransient(err, "ObjectStoreBackend", "Initialize", "create bucket")
		}
	}

	b.store = store
	return nil
}

func objectName(entry string, timestampUS int64) string {
	return fmt.Sprintf("%s/%d", entry, timestampUS)
}

// WriteRecord puts one object per record. Re-writes of identical payloads
// are accepted silently; a differing payload for an existing object
// reports ErrWriteConflict.
func (b *ObjectStoreBackend) WriteRecord(ctx context.Context, rec Record) error {
	if b.store == nil {
		return errors.WrapTransient(errors.ErrBackendUnavailable, "ObjectStoreBackend", "WriteRecord", "not initialized")
	}

	name := objectName(rec.Entry, rec.TimestampUS)

	if info, err := b.store.GetInfo(ctx, name); err == nil && !info.Deleted {
		existing, err := b.store.GetBytes(ctx, name)
		if err == nil && bytes.Equal(existing, rec.Payload) {
			return nil // idempotent re-write
		}
		return errors.WrapPermanent(errors.ErrWriteConflict, "ObjectStoreBackend", "WriteRecord",
			fmt.Sprintf("object %q", name))
	}

	meta := jetstream.ObjectMeta{
		Name:     name,
		Metadata: rec.Labels,
	}
	if _, err := b.store.Put(ctx, meta, bytes.NewReader(rec.Payload)); err != nil {
		return errors.WrapTransient(err, "ObjectStoreBackend", "WriteRecord", "put object "+name)
	}
	return nil
}

// HealthCheck reports whether the bucket is reachable
func (b *ObjectStoreBackend) HealthCheck(ctx context.Context) bool {
	if b.store == nil {
		return false
	}
	_, err := b.store.Status(ctx)
	return err == nil
}

// BackendType returns "objectstore"
func (b *ObjectStoreBackend) BackendType() string {
	return "objectstore"
}
