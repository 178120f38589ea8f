package apiclient

import (
	"fmt"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// HTTPError is implemented by every error in this package that carries an
// HTTP status code. It matches the convention used across the jp-go libraries
// so callers can classify errors without type switches.
type HTTPError interface {
	error
	StatusCode() int
}

// ConfigError reports an unusable client configuration, such as a missing
// security context. It is always terminal and never retried.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// APIError is a 4xx rejection from the platform. The request reached the
// server and was refused, so repeating it cannot help; these are never
// retried regardless of the retry strategy.
type APIError struct {
	// Status is the HTTP status code.
	Status int

	// Type is the platform's error class, e.g. "InvalidInput", when the
	// response carried the structured error envelope.
	Type string

	// Message is the platform's error message, or the raw response text when
	// no envelope was present.
	Message string

	// RequestID is the server's correlation ID, if echoed.
	RequestID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
	if e.Type != "" {
		msg = fmt.Sprintf("api error %s (status %d): %s", e.Type, e.Status, e.Message)
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" [request %s]", e.RequestID)
	}
	return msg
}

// StatusCode implements HTTPError.
func (e *APIError) StatusCode() int {
	return e.Status
}

// ServerError is a terminal 5xx failure: either the bounded retry budget was
// exhausted or retries are disabled on the client.
type ServerError struct {
	Status    int
	Reason    string
	RequestID string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	msg := fmt.Sprintf("server error (status %d): %s", e.Status, e.Reason)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" [request %s]", e.RequestID)
	}
	return msg
}

// StatusCode implements HTTPError.
func (e *ServerError) StatusCode() int {
	return e.Status
}

// ThrottledError is a 503 surfaced as terminal because retries are disabled.
// RetryAfter carries the server's suggested wait for diagnostics.
type ThrottledError struct {
	RetryAfter time.Duration
	RequestID  string
}

// Error implements the error interface.
func (e *ThrottledError) Error() string {
	msg := fmt.Sprintf("service unavailable, retries disabled (server suggested waiting %s)", e.RetryAfter)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" [request %s]", e.RequestID)
	}
	return msg
}

// Unwrap yields jperrors.ErrRateLimited so errors.Is classification used by
// the other jp-go libraries recognizes throttling.
func (e *ThrottledError) Unwrap() error {
	return jperrors.ErrRateLimited
}

// StatusCode implements HTTPError.
func (e *ThrottledError) StatusCode() int {
	return 503
}

// Terminal reasons for transport-class failures.
const (
	// ReasonUnsafeToRetry means the attempt's outcome is unknown and the
	// caller declared the operation non-idempotent.
	ReasonUnsafeToRetry = "unsafe to retry"

	// ReasonMaxRetries means the bounded retry budget is exhausted.
	ReasonMaxRetries = "maximum retries reached"

	// ReasonRetriesDisabled means retries are globally disabled on the client.
	ReasonRetriesDisabled = "retries disabled"
)

// TransportError is a terminal connection-level failure: the request never
// produced a usable HTTP response and the executor was not allowed to keep
// trying.
type TransportError struct {
	// Cause is the underlying transport error, when one exists. Truncation
	// detected from a complete response has no cause, only a description.
	Cause error

	// Detail describes the failure when Cause is nil.
	Detail string

	// Reason states why the executor stopped: ReasonUnsafeToRetry,
	// ReasonMaxRetries or ReasonRetriesDisabled.
	Reason string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	detail := e.Detail
	if e.Cause != nil {
		detail = e.Cause.Error()
	}
	return fmt.Sprintf("transport error (%s): %s", e.Reason, detail)
}

// Unwrap exposes the underlying transport error for errors.Is and errors.As.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError is a 200 response whose body failed to parse even
// though the declared Content-Length matched the bytes received. Unlike a
// transport error the payload is confirmed complete, so it is always terminal.
type MalformedResponseError struct {
	Cause     error
	RequestID string
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	msg := "malformed response: received complete body that is not valid JSON"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" [request %s]", e.RequestID)
	}
	return msg
}

// Unwrap exposes the JSON parse error.
func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}
