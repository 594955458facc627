package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// StoreErrorType represents the classification of a shared-store error.
type StoreErrorType int

const (
	// StoreErrorUnknown represents an unclassified store error.
	StoreErrorUnknown StoreErrorType = iota
	// StoreErrorTransient represents a connection or timeout failure that
	// a retry could plausibly fix.
	StoreErrorTransient
	// StoreErrorDataAccess represents a server-side or application error
	// (wrong type, bad argument). Retrying cannot help.
	StoreErrorDataAccess
	// StoreErrorCircuitOpen represents an operation rejected by the open
	// circuit breaker without a network attempt.
	StoreErrorCircuitOpen
	// StoreErrorExhausted represents an operation that kept failing after
	// all retry attempts.
	StoreErrorExhausted
)

// StoreError wraps a store error with classification information.
type StoreError struct {
	Type        StoreErrorType
	Op          string
	OriginalErr error
	Attempts    int
	Message     string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, e.Message, e.Attempts, e.OriginalErr)
	}
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *StoreError) Unwrap() error {
	return e.OriginalErr
}

// NewStoreUnavailableError marks an operation that exhausted its retries
// against an unreachable store.
func NewStoreUnavailableError(op string, attempts int, cause error) *StoreError {
	return &StoreError{
		Type:        StoreErrorExhausted,
		Op:          op,
		OriginalErr: cause,
		Attempts:    attempts,
		Message:     "store unavailable",
	}
}

// NewCircuitOpenError marks an operation rejected while the breaker is
// open. No network attempt was made.
func NewCircuitOpenError(op string) *StoreError {
	return &StoreError{
		Type:    StoreErrorCircuitOpen,
		Op:      op,
		Message: "circuit breaker open",
	}
}

// NewDataAccessError marks a non-retryable store reply such as a wrong
// type or bad argument error.
func NewDataAccessError(op string, cause error) *StoreError {
	return &StoreError{
		Type:        StoreErrorDataAccess,
		Op:          op,
		OriginalErr: cause,
		Message:     "store data access error",
	}
}

// IsTransientStoreError reports whether err is a connection-level or
// timeout failure worth retrying. Cache misses (redis.Nil) must be
// handled by the caller before classification; a cancelled context is
// deliberately not transient because the caller already gave up.
func IsTransientStoreError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Dial failures, resets and timeouts all surface as net.Error.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// A dropped connection surfaces as EOF from the protocol reader.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return isConnectionError(err.Error()) || isServerStartingUp(err.Error())
}

// isServerStartingUp matches the reply Redis returns while loading its
// dataset after a restart. The server is reachable but not yet usable,
// so the failure is treated like a connection problem.
func isServerStartingUp(errMsg string) bool {
	return contains(errMsg, "loading the dataset")
}

// ClassifyStoreError classifies an error returned by a raw store
// operation. Transient failures keep their classification; everything
// else is a data access error.
func ClassifyStoreError(op string, err error) *StoreError {
	if err == nil {
		return nil
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}

	if IsTransientStoreError(err) {
		return &StoreError{
			Type:        StoreErrorTransient,
			Op:          op,
			OriginalErr: err,
			Message:     "transient store error",
		}
	}

	return NewDataAccessError(op, err)
}

// IsCircuitOpenError checks if the error is a breaker fail-fast rejection.
func IsCircuitOpenError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.Type == StoreErrorCircuitOpen
}

// IsStoreUnavailableError checks if the error means the store could not
// be used at all, either because retries were exhausted or because the
// breaker rejected the call.
func IsStoreUnavailableError(err error) bool {
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		return false
	}
	return storeErr.Type == StoreErrorExhausted || storeErr.Type == StoreErrorCircuitOpen
}

// IsDataAccessStoreError checks if the error is a non-retryable store
// reply. On the update queue this usually means the key holds the wrong
// type, which no amount of backing off will fix.
func IsDataAccessStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.Type == StoreErrorDataAccess
}
