package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter is the wait applied to a 503 response whose Retry-After
// header is missing or unparseable.
const DefaultRetryAfter = 60 * time.Second

// Outcome is the classification of one HTTP attempt. Exactly one variant is
// produced per attempt; the executor consumes it immediately to decide
// whether to return, wait and retry, or fail.
//
// The variants are Success, ClientFailure, ServerFailure, Throttled,
// TransportFailure and MalformedPayload. The interface is sealed so the
// executor's decision table stays exhaustive.
type Outcome interface {
	outcome()
}

// Success carries a complete 200 response body.
type Success struct {
	// Body is the raw response exactly as received.
	Body []byte

	// JSON is the validated document when parsing was requested, nil otherwise.
	JSON json.RawMessage

	// Header holds the response headers.
	Header http.Header

	// RequestID is the server's correlation ID, if echoed.
	RequestID string
}

// ClientFailure is a 4xx rejection. The request is presumed well formed but
// refused, so it is never retried.
type ClientFailure struct {
	Status    int
	ErrType   string
	Message   string
	RequestID string
}

// ServerFailure is a 5xx response other than 503. The platform guarantees
// these had no side effect, so they are always safe to retry.
type ServerFailure struct {
	Status    int
	RequestID string
}

// Throttled is a 503 response asking the caller to wait. Waits it causes are
// server-directed and never charged against the bounded retry budget.
type Throttled struct {
	RetryAfter time.Duration
	RequestID  string
}

// TransportFailure is a failure below the HTTP response level: connection
// refused or reset, timeout, or a truncated body. The outcome of the attempt
// is unknown, so retrying is only permitted for idempotent operations.
type TransportFailure struct {
	// Cause is the underlying transport error, when one exists.
	Cause error

	// Reason describes truncation-style failures detected from a complete
	// HTTP response rather than a transport error.
	Reason string
}

// MalformedPayload is a 200 response whose body failed to parse even though
// the declared Content-Length matched the bytes received. The payload is
// confirmed complete, so this is a server bug, not a transient truncation:
// it is terminal and never retried.
type MalformedPayload struct {
	Cause     error
	RequestID string
}

func (Success) outcome()          {}
func (ClientFailure) outcome()    {}
func (ServerFailure) outcome()    {}
func (Throttled) outcome()        {}
func (TransportFailure) outcome() {}
func (MalformedPayload) outcome() {}

// Classify maps one completed HTTP exchange to an Outcome. It is a pure
// function of its arguments: no I/O, no state, identical inputs always yield
// identical outcomes.
//
// declaredLen is the Content-Length the server declared, or a negative value
// when the response was streamed without one. actualLen is the number of body
// bytes actually received.
func Classify(status int, header http.Header, body []byte, declaredLen, actualLen int64, parse bool) Outcome {
	requestID := header.Get(HeaderRequestID)

	switch {
	case status == http.StatusOK:
		if declaredLen >= 0 && actualLen != declaredLen {
			// The body may be truncated even though the read completed.
			return TransportFailure{Reason: fmt.Sprintf("content length mismatch: declared %d, received %d", declaredLen, actualLen)}
		}
		if !parse {
			return Success{Body: body, Header: header, RequestID: requestID}
		}
		var doc json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			if declaredLen < 0 {
				// Streamed response of unknown length: most likely truncated in flight.
				return TransportFailure{Cause: err, Reason: "unparseable streamed response"}
			}
			return MalformedPayload{Cause: err, RequestID: requestID}
		}
		return Success{Body: body, JSON: doc, Header: header, RequestID: requestID}

	case status >= 400 && status < 500:
		errType, message := parseErrorEnvelope(body)
		return ClientFailure{Status: status, ErrType: errType, Message: message, RequestID: requestID}

	case status == http.StatusServiceUnavailable:
		return Throttled{RetryAfter: parseRetryAfter(header), RequestID: requestID}

	case status >= 500:
		return ServerFailure{Status: status, RequestID: requestID}

	default:
		// The platform contract only emits 200, 4xx and 5xx. Anything else
		// means an intermediary answered instead; repeating the request
		// cannot help.
		return ClientFailure{
			Status:    status,
			Message:   fmt.Sprintf("unexpected response status %d", status),
			RequestID: requestID,
		}
	}
}

// classifyTransportError classifies a failure that happened before any HTTP
// status line was received.
func classifyTransportError(err error) Outcome {
	return TransportFailure{Cause: err}
}

// parseErrorEnvelope extracts the platform's structured error from a 4xx body
// of the shape {"error": {"type": ..., "message": ...}}. When the body does
// not follow the convention, the raw text becomes the message and the type is
// left unset.
func parseErrorEnvelope(body []byte) (errType, message string) {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Type != "" || envelope.Error.Message != "" {
			return envelope.Error.Type, envelope.Error.Message
		}
	}
	return "", strings.TrimSpace(string(body))
}

// parseRetryAfter reads the Retry-After header as integer seconds, falling
// back to DefaultRetryAfter when it is missing, unparseable or negative.
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return DefaultRetryAfter
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return DefaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
