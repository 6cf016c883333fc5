package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatGate       ErrorCategory = "gate"       // Admission denied
	ErrCatProvider   ErrorCategory = "provider"   // Provider misconfiguration
	ErrCatSession    ErrorCategory = "session"    // Whole-session failure
	ErrCatCancelled  ErrorCategory = "cancelled"  // Stopped by the caller
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification / invalid transition
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	Details  map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrGateDenied creates an error for a session the gate refused to admit.
// The reasons are kept in Details so transports can echo them back.
func ErrGateDenied(reasons []string) *DomainError {
	return &DomainError{
		Category: ErrCatGate,
		Code:     CodeGateDenied,
		Message:  "analysis not permitted: " + strings.Join(reasons, "; "),
		Details: map[string]interface{}{
			"reasons": append([]string(nil), reasons...),
		},
	}
}

// ErrSessionTotalFailure is returned when every target failed on every provider.
func ErrSessionTotalFailure(id SessionID) *DomainError {
	return &DomainError{
		Category: ErrCatSession,
		Code:     CodeSessionFailed,
		Message:  fmt.Sprintf("session %s: all providers failed for all targets", id),
		Details: map[string]interface{}{
			"session_id": string(id),
		},
	}
}

// ErrCancelled creates the error reported for a session stopped by its caller.
func ErrCancelled(id SessionID) *DomainError {
	return &DomainError{
		Category: ErrCatCancelled,
		Code:     CodeCancelled,
		Message:  fmt.Sprintf("session %s cancelled", id),
		Details: map[string]interface{}{
			"session_id": string(id),
		},
	}
}

// ErrProviderConfig creates an error for a provider that cannot be invoked at all.
func ErrProviderConfig(provider, message string) *DomainError {
	return &DomainError{
		Category: ErrCatProvider,
		Code:     CodeProviderConfig,
		Message:  fmt.Sprintf("provider %s: %s", provider, message),
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrInvalidTransition reports an attempt to move a session backwards.
func ErrInvalidTransition(from, to SessionStatus) *DomainError {
	return &DomainError{
		Category: ErrCatConflict,
		Code:     CodeInvalidTransition,
		Message:  fmt.Sprintf("cannot transition session from %s to %s", from, to),
	}
}

// ErrConflict creates an error for a write that collides with existing state.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatConflict,
		Code:     code,
		Message:  message,
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// GateReasons returns the denial reasons carried by a gate error, if any.
func GateReasons(err error) []string {
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Category != ErrCatGate {
		return nil
	}
	reasons, _ := domErr.Details["reasons"].([]string)
	return reasons
}

// Predefined error codes
const (
	CodeGateDenied        = "GATE_DENIED"
	CodeSessionFailed     = "SESSION_TOTAL_FAILURE"
	CodeCancelled         = "CANCELLED"
	CodeProviderConfig    = "PROVIDER_CONFIG"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeSessionExists     = "SESSION_EXISTS"

	// Validation error codes
	CodeNoTargets      = "NO_TARGETS"
	CodeTooManyTargets = "TOO_MANY_TARGETS"
	CodeTargetTooLong  = "TARGET_TOO_LONG"
)

// MaxTargetLength is the maximum allowed company name length.
const MaxTargetLength = 200
