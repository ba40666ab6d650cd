package client

import (
	"errors"
	"fmt"

	"github.com/docpilot/source-client/pkg/endpoint"
)

// Common errors returned by the client.
var (
	// ErrCircuitOpen is returned when the endpoint's circuit breaker
	// rejects the request before any attempt is made.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrRequestFailed is returned when all retry attempts are exhausted.
	ErrRequestFailed = errors.New("request failed")

	// ErrNonRetryable is returned for 4xx responses, which are never retried.
	ErrNonRetryable = errors.New("non-retryable error")

	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("client closed")
)

// CircuitOpenError reports a fail-fast rejection for an endpoint whose
// circuit is open. Callers should treat the source as temporarily
// unavailable rather than retrying immediately.
type CircuitOpenError struct {
	Endpoint endpoint.Key
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for endpoint %s, request rejected", e.Endpoint)
}

// Is matches ErrCircuitOpen for errors.Is.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// NonRetryableError reports an HTTP client error (4xx) surfaced without
// retry.
type NonRetryableError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable HTTP %d: %s", e.StatusCode, e.Status)
}

// Is matches ErrNonRetryable for errors.Is.
func (e *NonRetryableError) Is(target error) bool {
	return target == ErrNonRetryable
}

// RequestFailedError reports an exhausted retry budget. It carries the
// total attempt count and the last underlying error.
type RequestFailedError struct {
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the last underlying error.
func (e *RequestFailedError) Unwrap() error {
	return e.LastErr
}

// Is matches ErrRequestFailed for errors.Is.
func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

// ErrorClass classifies request failures for metrics and retry decisions.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (except 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses from the source.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// classifyStatus categorizes an HTTP status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// retryable reports whether a failure class is worth another attempt.
// Client errors are surfaced immediately; everything else is transient.
func retryable(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// statusError is the internal per-attempt failure for an HTTP error
// status, carrying its class for the retry decision.
type statusError struct {
	StatusCode int
	Status     string
	Class      ErrorClass
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
