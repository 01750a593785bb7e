// Package retry provides exponential backoff retry logic used by the
// recorder's storage write path and startup sequences.
//
// The central function is Do, which executes an operation with configurable
// backoff, jitter, and context cancellation:
//
//	cfg := retry.Config{
//	    MaxAttempts:  4,
//	    InitialDelay: 100 * time.Millisecond,
//	    MaxDelay:     30 * time.Second,
//	    Multiplier:   2.0,
//	    AddJitter:    true,
//	}
//	err := retry.Do(ctx, cfg, func() error {
//	    return backend.WriteRecord(ctx, record)
//	})
//
// Errors wrapped with NonRetryable fail immediately without consuming
// further attempts; callers use this to mark permanent backend refusals.
package retry
