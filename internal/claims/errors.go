package claims

import (
	"errors"
	"fmt"
)

// ErrNotRetryable is returned by Retry for claims that are in flight or finished
var ErrNotRetryable = errors.New("claim cannot be retried in its current state")

// ValidationError is a bad or ineligible claim request. Nothing was changed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ExternalCallError is an RPC or contract failure before the burn. No funds moved
// and the ledger is untouched; the request is safe to repeat.
type ExternalCallError struct {
	Op  string
	Err error
}

func (e *ExternalCallError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ExternalCallError) Unwrap() error { return e.Err }

// PostBurnError is a failure after the irreversible burn. The claim record is kept
// for reconciliation.
type PostBurnError struct {
	ClaimID string
	Err     error
}

func (e *PostBurnError) Error() string {
	return fmt.Sprintf("claim %s failed after burn: %v", e.ClaimID, e.Err)
}
func (e *PostBurnError) Unwrap() error { return e.Err }

// StorageError is a failed store read or write
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }
