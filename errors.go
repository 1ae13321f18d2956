package fieldsync

import (
	"context"
	"errors"
	"fmt"
)

// Common sentinel errors for the fieldsync package.
var (
	// ErrClosed is returned when operations are attempted on a closed engine
	// or store.
	ErrClosed = errors.New("engine is closed")

	// ErrUnknownResourceType is returned when a mutation names a resource
	// type with no reconciliation policy.
	ErrUnknownResourceType = errors.New("unknown resource type")

	// ErrInvalidMutation is returned for malformed mutation requests.
	ErrInvalidMutation = errors.New("invalid mutation")

	// ErrMutationNotFound is returned when a mutation ID is not known to the
	// executor.
	ErrMutationNotFound = errors.New("mutation not found")

	// ErrSnapshotNotFound is returned for restore/discard of an unknown or
	// already-consumed snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrStoreCorruption is returned when a persisted envelope fails to
	// decode.
	ErrStoreCorruption = errors.New("durable store corruption detected")

	// ErrRetriesExhausted is returned when a transient failure persists past
	// the configured retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ErrorClass categorizes server dispatch failures. The class decides whether
// the executor retries, rolls back, or parks the mutation for the caller.
type ErrorClass int

const (
	// ClassUnknown is an unclassified error; treated as non-retryable.
	ClassUnknown ErrorClass = iota
	// ClassNetwork covers connection failures, DNS errors, and 5xx
	// responses. Retryable with backoff while online.
	ClassNetwork
	// ClassTimeout covers dispatch deadline expiry. Treated identically to
	// ClassNetwork.
	ClassTimeout
	// ClassValidation covers 4xx rejections other than auth. Never retried;
	// triggers immediate rollback.
	ClassValidation
	// ClassAuth covers 401/403. Never retried by this layer; the mutation
	// stays queued until the caller retries or discards it.
	ClassAuth
)

// String returns the class name.
func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassTimeout:
		return "timeout"
	case ClassValidation:
		return "validation"
	case ClassAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// TransportError is a classified server dispatch failure.
type TransportError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Class, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a classified transport error.
func NewTransportError(class ErrorClass, statusCode int, message string, cause error) *TransportError {
	return &TransportError{Class: class, StatusCode: statusCode, Message: message, Cause: cause}
}

// ClassifyError determines the error class for a dispatch failure. Context
// deadline expiry maps to ClassTimeout; unclassified errors map to
// ClassNetwork so unknown transport faults stay retryable rather than
// destroying queued work.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassNetwork
}

// IsRetryableClass reports whether the executor may retry a failure of the
// given class on its own.
func IsRetryableClass(class ErrorClass) bool {
	return class == ClassNetwork || class == ClassTimeout
}

// ClassifyStatusCode maps an HTTP status code to an error class.
func ClassifyStatusCode(code int) ErrorClass {
	switch {
	case code == 401 || code == 403:
		return ClassAuth
	case code == 408 || code == 429:
		return ClassNetwork
	case code >= 400 && code < 500:
		return ClassValidation
	case code >= 500:
		return ClassNetwork
	default:
		return ClassUnknown
	}
}

// QueuePersistenceError reports that a mutation could not be durably
// persisted. The mutation proceeds in-memory for the current session; only
// durability is degraded, not the in-session cache.
type QueuePersistenceError struct {
	MutationID string
	Cause      error
}

func (e *QueuePersistenceError) Error() string {
	return fmt.Sprintf("mutation %s not durable: %v", e.MutationID, e.Cause)
}

func (e *QueuePersistenceError) Unwrap() error {
	return e.Cause
}

// MutationError is the caller-visible terminal failure of a mutation. It is
// surfaced only after the cache has been rolled back (or, for auth failures,
// with the mutation still queued).
type MutationError struct {
	MutationID string
	Class      ErrorClass
	Attempts   int
	Cause      error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation %s failed (%s, %d attempts): %v", e.MutationID, e.Class, e.Attempts, e.Cause)
}

func (e *MutationError) Unwrap() error {
	return e.Cause
}

// Is matches MutationError against ErrRetriesExhausted for transient
// failures that ran out of attempts.
func (e *MutationError) Is(target error) bool {
	if target == ErrRetriesExhausted {
		return IsRetryableClass(e.Class)
	}
	return false
}
