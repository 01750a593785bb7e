package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/errors"
)

// Header names used by the time-series object store's HTTP API
const (
	headerTimestamp   = "x-store-time"
	headerLabelPrefix = "x-store-label-"
)

// TimeSeriesBackend posts binary records to an HTTP time-series object
// store. Records live under {bucket}/{entry} with the timestamp passed as a
// query parameter and header, and labels as headered key-value pairs.
type TimeSeriesBackend struct {
	client     *http.Client
	baseURL    string
	bucketName string
	apiToken   string
}

// NewTimeSeriesBackend builds a backend from configuration. The HTTP client
// pools connections and is safe for concurrent use by the flush workers.
func NewTimeSeriesBackend(cfg config.TimeSeriesConfig) (*TimeSeriesBackend, error) {
	if cfg.URL == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "TimeSeriesBackend", "New", "url")
	}
	if cfg.BucketName == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "TimeSeriesBackend", "New", "bucket_name")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	return &TimeSeriesBackend{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:    cfg.URL,
		bucketName: cfg.BucketName,
		apiToken:   cfg.APIToken,
	}, nil
}

func (b *TimeSeriesBackend) authorize(req *http.Request) {
	if b.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiToken)
	}
}

// Initialize creates the bucket if it doesn't exist
func (b *TimeSeriesBackend) Initialize(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/b/%s", b.baseURL, b.bucketName)

	head, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return errors.WrapPermanent(err, "TimeSeriesBackend", "Initialize", "build request")
	}
	b.authorize(head)

	if resp, err := b.client.Do(head); err == nil {
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil // bucket exists
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return errors.WrapPermanent(errors.ErrAuthRejected, "TimeSeriesBackend", "Initialize", "probe bucket")
		}
	}

	create, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return errors.WrapPermanent(err, "TimeSeriesBackend", "Initialize", "build request")
	}
	b.authorize(create)

	resp, err := b.client.Do(create)
	if err != nil {
		return errors.WrapTransient(err, "TimeSeriesBackend", "Initialize", "create bucket")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return nil // already exists
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.WrapPermanent(errors.ErrAuthRejected, "TimeSeriesBackend", "Initialize", "create bucket")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.WrapPermanent(
			fmt.Errorf("create bucket %q: status %d: %s", b.bucketName, resp.StatusCode, body),
			"TimeSeriesBackend", "Initialize", "create bucket")
	default:
		return errors.WrapTransient(
			fmt.Errorf("create bucket %q: status %d", b.bucketName, resp.StatusCode),
			"TimeSeriesBackend", "Initialize", "create bucket")
	}
}

// WriteRecord posts one record to {bucket}/{entry} with the timestamp as a
// query parameter and labels as headers.
func (b *TimeSeriesBackend) WriteRecord(ctx context.Context, rec Record) error {
	url := fmt.Sprintf("%s/api/v1/b/%s/%s?ts=%d", b.baseURL, b.bucketName, rec.Entry, rec.TimestampUS)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(rec.Payload))
	if err != nil {
		return errors.WrapPermanent(err, "TimeSeriesBackend", "WriteRecord", "build request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(headerTimestamp, strconv.FormatInt(rec.TimestampUS, 10))
	for key, value := range rec.Labels {
		req.Header.Set(headerLabelPrefix+key, value)
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "TimeSeriesBackend", "WriteRecord", "post record")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return errors.WrapPermanent(errors.ErrWriteConflict, "TimeSeriesBackend", "WriteRecord",
			fmt.Sprintf("entry %q ts %d", rec.Entry, rec.TimestampUS))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.WrapPermanent(errors.ErrAuthRejected, "TimeSeriesBackend", "WriteRecord", "post record")
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return errors.WrapPermanent(errors.ErrPayloadTooLarge, "TimeSeriesBackend", "WriteRecord",
			fmt.Sprintf("entry %q: %d bytes", rec.Entry, len(rec.Payload)))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.WrapPermanent(
			fmt.Errorf("write to entry %q: status %d: %s", rec.Entry, resp.StatusCode, body),
			"TimeSeriesBackend", "WriteRecord", "post record")
	default:
		return errors.WrapTransient(
			fmt.Errorf("write to entry %q: status %d", rec.Entry, resp.StatusCode),
			"TimeSeriesBackend", "WriteRecord", "post record")
	}
}

// HealthCheck probes the bucket endpoint
func (b *TimeSeriesBackend) HealthCheck(ctx context.Context) bool {
	url := fmt.Sprintf("%s/api/v1/b/%s", b.baseURL, b.bucketName)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// BackendType returns "timeseries"
func (b *TimeSeriesBackend) BackendType() string {
	return "timeseries"
}
