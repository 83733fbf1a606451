package domain

import (
	"fmt"
	"time"
)

// Error types for consistent error handling across the advisor.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates a missing or invalid session token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ============================================================
// Completion service failures
// ============================================================

// ErrRateLimited means the completion service kept throttling until the
// retry bound was exhausted.
type ErrRateLimited struct {
	Attempts int
	Waited   time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("completion service rate limited after %d attempts (waited %s)", e.Attempts, e.Waited)
}

// ErrUpstream is a non-throttling error status returned by the completion service.
type ErrUpstream struct {
	Status int
	Reason string
}

func (e *ErrUpstream) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("completion service returned status %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("completion service returned status %d", e.Status)
}

// ErrMalformedResponse means the completion service answered 2xx with a body
// that carries no usable candidate text.
type ErrMalformedResponse struct {
	Reason string
}

func (e *ErrMalformedResponse) Error() string {
	return fmt.Sprintf("malformed completion response: %s", e.Reason)
}

// ErrNetwork wraps transport failures reaching the completion service.
type ErrNetwork struct {
	Err error
}

func (e *ErrNetwork) Error() string {
	return fmt.Sprintf("network failure: %v", e.Err)
}

func (e *ErrNetwork) Unwrap() error {
	return e.Err
}
