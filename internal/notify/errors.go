// Package notify formats job-result digests and delivers them by email with
// retry-safe, at-most-once semantics per scheduled run.
package notify

import (
	"errors"
	"fmt"
)

// ErrCredentialExpired means the owner's notification credential is expired
// and the single allowed refresh attempt failed.
var ErrCredentialExpired = errors.New("notification credential expired")

// ErrDeliveryFailed means every retry attempt was exhausted. The discovered
// results are still persisted; the run is downgraded, never dropped.
var ErrDeliveryFailed = errors.New("notification delivery failed after retries")

// TransientError wraps a delivery failure worth retrying (network, rate
// limit, greylisting).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient delivery error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// PermanentError wraps a delivery failure that retrying cannot fix (bad
// recipient, rejected message).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent delivery error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error { return &PermanentError{Err: err} }
