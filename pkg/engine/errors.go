// Package engine implements the reconciliation core: the diff between
// fresh Canvas snapshots and stored sync records, the executor that turns
// actions into destination effects under a retry policy, and the
// orchestrator that drives one sync run end to end.
package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass classifies a failure for retry and recovery decisions.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed
	// on retry. Examples: network timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates the destination signalled rate
	// limiting. Retried with backoff, honoring any Retry-After hint.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassAuth indicates the credential was rejected. Handled with
	// exactly one silent refresh and retry per action.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassPermanent indicates a non-recoverable error. Examples:
	// invalid configuration, 4xx responses other than auth.
	ErrorClassPermanent ErrorClass = "permanent"
)

// SyncError is a classified error with context about the failing call.
type SyncError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Operation is the API operation being performed when the error
	// occurred (e.g. "graph.create_task").
	Operation string `json:"operation,omitempty"`

	// RetryAfter is a server-provided delay hint for throttled errors.
	// Zero when the server gave none.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation=%s): %s", e.Class, e.Message, e.Operation, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error with the server's
// Retry-After hint (zero when none was given).
func NewThrottledError(message string, retryAfter time.Duration, err error) *SyncError {
	return &SyncError{
		Class:      ErrorClassThrottled,
		Message:    message,
		RetryAfter: retryAfter,
		Err:        err,
		Code:       ErrCodeRateLimited,
	}
}

// NewAuthError creates a new auth error.
func NewAuthError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassAuth, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithOperation adds operation context to an error.
func (e *SyncError) WithOperation(operation string) *SyncError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *SyncError) WithCode(code string) *SyncError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsAuthExpired returns true if the error is classified as an auth failure.
func IsAuthExpired(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassAuth
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried with backoff.
// Auth errors are not retried here; they get a single credential refresh.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// IsNotFound returns true if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Code == ErrCodeNotFound
	}
	return false
}

// RetryAfterHint extracts the server-provided delay hint, if any.
func RetryAfterHint(err error) time.Duration {
	var e *SyncError
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Common error codes.
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeAuthExpired  = "AUTH_EXPIRED"
	ErrCodeSourceFailed = "SOURCE_FAILED"
	ErrCodePersistence  = "PERSISTENCE_FAILED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)
