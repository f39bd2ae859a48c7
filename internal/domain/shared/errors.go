// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation        = errors.New("validation error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyValue        = errors.New("value cannot be empty")
	ErrOutOfRange        = errors.New("value out of range")
	ErrInvalidIdentifier = errors.New("invalid content identifier")

	// State errors
	ErrInvalidState         = errors.New("invalid state")
	ErrStateTransition      = errors.New("invalid state transition")
	ErrCompletionInProgress = errors.New("completion already in progress")
	ErrExpired              = errors.New("expired")

	// Authorization errors
	ErrAccessDenied = errors.New("access denied")

	// Transport / ledger errors. Transport failures are never allowed to
	// grant access; callers fail closed.
	ErrTransport          = errors.New("transport error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")

	// Resolution errors
	ErrAllPathsExhausted = errors.New("all resolution paths exhausted")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "license", "progress", "resolve", "session"
	Op      string // Operation that failed, e.g., "Verify", "MarkComplete"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// License domain errors
var (
	ErrLicenseNotFound = NewDomainError("license", "Query", ErrNotFound, "license not found")
	ErrLicenseExpired  = NewDomainError("license", "Validate", ErrExpired, "license expired")
	ErrLicenseInactive = NewDomainError("license", "Validate", ErrInvalidState, "license is not active")
)

// Catalog domain errors
var (
	ErrCourseNotFound = NewDomainError("catalog", "CourseUnits", ErrNotFound, "course not found or has no units")
)

// Progress domain errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Query", ErrNotFound, "progress record not found")
	ErrUnitOutOfRange   = NewDomainError("progress", "MarkComplete", ErrOutOfRange, "unit index out of range")
)

// Resolution domain errors
var (
	ErrEmptyIdentifier     = NewDomainError("resolve", "Resolve", ErrInvalidIdentifier, "identifier is empty")
	ErrNoFallbackGateways  = NewDomainError("resolve", "Resolve", ErrAllPathsExhausted, "fallback gateway list is empty")
	ErrOptimizedResolution = NewDomainError("resolve", "Resolve", ErrServiceUnavailable, "optimized resolution service failed")
)

// Session domain errors
var (
	ErrSessionNotReady     = NewDomainError("session", "CheckState", ErrInvalidState, "session is not ready")
	ErrSessionDenied       = NewDomainError("session", "CheckState", ErrAccessDenied, "no valid license for this course")
	ErrCompletionConflict  = NewDomainError("session", "RequestCompletion", ErrCompletionInProgress, "completion write already in flight")
	ErrUnitLocked          = NewDomainError("session", "RequestCompletion", ErrAccessDenied, "unit is locked")
	ErrCompletionWriteFail = NewDomainError("session", "RequestCompletion", ErrTransport, "completion write failed")
)

// Ledger gateway errors
var (
	ErrLedgerUnavailable     = NewDomainError("ledger", "Request", ErrServiceUnavailable, "ledger gateway is unavailable")
	ErrLedgerRateLimited     = NewDomainError("ledger", "Request", ErrRateLimited, "ledger gateway rate limit exceeded")
	ErrLedgerTimeout         = NewDomainError("ledger", "Request", ErrTimeout, "ledger gateway request timeout")
	ErrLedgerInvalidResponse = NewDomainError("ledger", "Parse", ErrInvalidInput, "invalid response from ledger gateway")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransport checks if the error originated in transport or the ledger
// being unreachable. Such errors must resolve to denied access and zeroed
// progress, never to a crash.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCompletionInProgress) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsCallerError checks if the error is a caller usage error that must be
// surfaced immediately and never retried.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidIdentifier) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue)
}
