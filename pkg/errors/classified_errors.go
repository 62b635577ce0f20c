// Package errors provides classified errors shared by the editing packages.
// The classes mirror how a caller is expected to react: usage errors are
// programmer bugs, commit failures and invalidations are recoverable.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorClass represents the classification of an error
type ErrorClass int

const (
	// ClassUnknown indicates an unclassified error
	ClassUnknown ErrorClass = iota
	// ClassUsage indicates a programmer error such as a concurrent edit session
	ClassUsage
	// ClassCommitFailed indicates the remote collaborator rejected a final commit
	ClassCommitFailed
	// ClassInvalidated indicates local state was invalidated by an external change
	ClassInvalidated
	// ClassTransient indicates a temporary error that may be retried
	ClassTransient
	// ClassNotFound indicates resource not found
	ClassNotFound
	// ClassValidation indicates input validation error
	ClassValidation
	// ClassCircuitBreaker indicates circuit breaker is open
	ClassCircuitBreaker
)

var classNames = map[ErrorClass]string{
	ClassUnknown:        "unknown",
	ClassUsage:          "usage",
	ClassCommitFailed:   "commit_failed",
	ClassInvalidated:    "invalidated",
	ClassTransient:      "transient",
	ClassNotFound:       "not_found",
	ClassValidation:     "validation",
	ClassCircuitBreaker: "circuit_breaker",
}

func (c ErrorClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// correlationKey is the context key under which a correlation id may be stored
type correlationKey struct{}

// ContextWithCorrelationID returns a context carrying a correlation id
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// ClassifiedError is an error with classification and context information
type ClassifiedError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Class   ErrorClass  `json:"class"`
	Details interface{} `json:"details,omitempty"`

	Service       string            `json:"service,omitempty"`
	Operation     string            `json:"operation,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	cause error
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	var msg string
	if e.Operation != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Code, e.Operation, e.Message)
	} else {
		msg = fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.CorrelationID != "" {
		msg += fmt.Sprintf(" (correlation_id: %s)", e.CorrelationID)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// Is matches classified errors by code, so tagged copies of a sentinel
// still satisfy errors.Is against it.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	return ok && t.Code == e.Code
}

// IsRetryable returns true if the error should be retried
func (e *ClassifiedError) IsRetryable() bool {
	return e.Class == ClassTransient || e.Class == ClassCircuitBreaker
}

// New creates a new classified error
func New(code string, message string, class ErrorClass) *ClassifiedError {
	return &ClassifiedError{
		Code:      code,
		Message:   message,
		Class:     class,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with classification
func Wrap(err error, code string, class ErrorClass) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return &ClassifiedError{
			Code:      code,
			Message:   err.Error(),
			Class:     class,
			Details:   ce.Details,
			Service:       ce.Service,
			Operation:     ce.Operation,
			CorrelationID: ce.CorrelationID,
			Timestamp:     time.Now(),
			Metadata:      ce.Metadata,
			cause:         err,
		}
	}

	return &ClassifiedError{
		Code:      code,
		Message:   err.Error(),
		Class:     class,
		Timestamp: time.Now(),
		cause:     err,
	}
}

// WithContext adds context information to the error
func (e *ClassifiedError) WithContext(ctx context.Context, service, operation string) *ClassifiedError {
	e.Service = service
	e.Operation = operation

	if ctx != nil {
		if correlationID, ok := ctx.Value(correlationKey{}).(string); ok {
			e.CorrelationID = correlationID
		}
	}

	return e
}

// WithDetails adds additional details to the error
func (e *ClassifiedError) WithDetails(details interface{}) *ClassifiedError {
	e.Details = details
	return e
}

// WithMetadata adds metadata to the error
func (e *ClassifiedError) WithMetadata(key, value string) *ClassifiedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// ClassOf returns the class of the first classified error in err's chain
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}

// IsUsageError returns true if the error is a programmer error
func IsUsageError(err error) bool {
	return ClassOf(err) == ClassUsage
}

// IsCommitFailure returns true if a remote commit was rejected
func IsCommitFailure(err error) bool {
	return ClassOf(err) == ClassCommitFailed
}

// IsInvalidated returns true if the error reports an external invalidation
func IsInvalidated(err error) bool {
	return ClassOf(err) == ClassInvalidated
}

// IsTransient returns true if the error is transient and may be retried
func IsTransient(err error) bool {
	class := ClassOf(err)
	return class == ClassTransient || class == ClassCircuitBreaker
}

// IsNotFound returns true if the error reports a missing resource
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}

// IsValidationError returns true if the error is a validation error
func IsValidationError(err error) bool {
	return ClassOf(err) == ClassValidation
}

// IsCircuitBreakerOpen returns true if the error is due to circuit breaker
func IsCircuitBreakerOpen(err error) bool {
	return ClassOf(err) == ClassCircuitBreaker
}
