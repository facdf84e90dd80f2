// Package errors provides standardized error handling for the intelligence pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Intake errors — rejected before the event is enqueued.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeQueueClosed      ErrorCode = "QUEUE_CLOSED"

	// Per-operation inference errors — recovered locally as an absent
	// field in the IntelligenceRecord.
	ErrCodeAdapterUnavailable ErrorCode = "ADAPTER_UNAVAILABLE"
	ErrCodeAdapterTimeout     ErrorCode = "ADAPTER_TIMEOUT"
	ErrCodeBreakerOpen        ErrorCode = "BREAKER_OPEN"

	// Cache errors — the pipeline proceeds as a cache miss.
	ErrCodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"

	// Coordinator-level failures — produce a degraded fallback record.
	ErrCodeCoordinatorFailed ErrorCode = "COORDINATOR_FAILED"

	// Broadcast / subscription errors.
	ErrCodeSubscriptionInvalid ErrorCode = "SUBSCRIPTION_INVALID"
	ErrCodeConnectionClosed    ErrorCode = "CONNECTION_CLOSED"

	// Archive errors — non-fatal, logged and counted.
	ErrCodeArchiveFailed ErrorCode = "ARCHIVE_FAILED"
)

// StandardError represents a structured pipeline error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// HasCode reports whether err is a StandardError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Invalid input to publish or subscribe",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCapacityExceededError creates a retryable queue-full error. The caller
// decides whether to retry or drop; the pipeline never retries internally.
func NewCapacityExceededError(capacity int) *StandardError {
	return &StandardError{
		Code:      ErrCodeCapacityExceeded,
		Message:   "Event queue at capacity",
		Details:   fmt.Sprintf("capacity: %d", capacity),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueClosedError creates a non-retryable shutdown error.
func NewQueueClosedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueClosed,
		Message:   "Event queue is closed",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAdapterUnavailableError creates a retryable adapter error.
func NewAdapterUnavailableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAdapterUnavailable,
		Message:   "Inference adapter unavailable",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAdapterTimeoutError creates a retryable adapter timeout error.
func NewAdapterTimeoutError(operation string, timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeAdapterTimeout,
		Message:   "Inference adapter timed out",
		Details:   fmt.Sprintf("operation: %s, timeout: %s", operation, timeout),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewBreakerOpenError creates a non-retryable load-shed error for an
// operation whose circuit breaker is open.
func NewBreakerOpenError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBreakerOpen,
		Message:   "Operation shed by open circuit breaker",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a retryable shared-cache error.
func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Shared cache tier unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCoordinatorFailedError creates a non-retryable coordinator error.
// Downstream consumers receive a degraded fallback record instead.
func NewCoordinatorFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCoordinatorFailed,
		Message:   "Inference coordination failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubscriptionInvalidError creates a non-retryable subscription error.
func NewSubscriptionInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubscriptionInvalid,
		Message:   "Invalid subscription request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConnectionClosedError creates a per-connection delivery error.
func NewConnectionClosedError(subscriptionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConnectionClosed,
		Message:   "Subscriber connection closed",
		Details:   fmt.Sprintf("subscriptionId: %s", subscriptionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewArchiveFailedError creates a retryable archive write error.
func NewArchiveFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeArchiveFailed,
		Message:   "Intelligence record archive write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
