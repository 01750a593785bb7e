// Package errors provides standardized error handling for the recorder.
//
// # Error Classification
//
// Errors fall into three classes:
//
//   - Transient: network faults, timeouts, backend temporarily unreachable
//     (retry recommended)
//   - Permanent: auth rejection, write conflicts, invalid transitions,
//     payload too large (do not retry)
//   - Fatal: invalid or missing configuration, unrecoverable states
//     (stop the process)
//
// The classification integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and wrapping chains.
//
// # Usage
//
// Return standard error variables for known conditions:
//
//	if _, ok := r.sessions[id]; !ok {
//	    return errors.ErrUnknownRecording
//	}
//
// Wrap errors with classification and context:
//
//	if err := backend.WriteRecord(ctx, rec); err != nil {
//	    return errors.WrapTransient(err, "FlushWorker", "process", "backend write")
//	}
//
// Check classification at handling sites:
//
//	if errors.IsTransient(err) {
//	    // schedule a retry
//	}
package errors
