// Package apiclient is a typed client for JSON-over-HTTP platform APIs.
// Every operation is issued as an authenticated POST to a resource path and
// executed through a retry loop that classifies each response, honors
// server-directed throttling, and distinguishes failures that are safe to
// repeat from failures whose outcome is unknown.
//
// Example:
//
//	client, err := apiclient.NewClient(
//	    "https://api.example.com",
//	    apiclient.SecurityContext{TokenType: "Bearer", Token: token},
//	    apiclient.WithMaxRetries(5),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.Call(ctx, "file-xxxx/describe", describeInput, apiclient.SafeToRetry)
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HeaderRequestID is the header carrying the platform's request correlation ID.
// It is echoed into logs and errors but never drives retry decisions.
const HeaderRequestID = "X-Request-ID"

// SecurityContext holds the authentication token attached to every request.
// It is constructed once, is immutable, and must be safe to share across
// goroutines issuing concurrent calls.
type SecurityContext struct {
	// TokenType is the Authorization scheme, e.g. "Bearer".
	TokenType string

	// Token is the credential itself.
	Token string
}

// Validate reports whether the security context is usable. An incomplete
// context is a configuration error: it is surfaced immediately and never
// retried.
func (s SecurityContext) Validate() error {
	if s.TokenType == "" || s.Token == "" {
		return &ConfigError{Reason: "security context requires a token type and token"}
	}
	return nil
}

// RetryStrategy is the caller's declaration of whether repeating an operation
// after an unknown-outcome failure is safe. Server errors other than 503 are
// always retried regardless of strategy because the platform guarantees they
// had no side effect; the strategy only governs transport-level failures,
// where the outcome of the attempt is genuinely unknown.
type RetryStrategy int

const (
	// UnsafeToRetry declares that the operation may have externally visible
	// side effects and must not be repeated after an unknown outcome.
	// This is the zero value, so the conservative behavior is the default.
	UnsafeToRetry RetryStrategy = iota

	// SafeToRetry declares the operation idempotent: repeating it after an
	// unknown outcome has no harmful duplicate effect.
	SafeToRetry
)

// String returns the string representation of the retry strategy.
func (s RetryStrategy) String() string {
	switch s {
	case SafeToRetry:
		return "safe"
	case UnsafeToRetry:
		return "unsafe"
	default:
		return "unknown"
	}
}

// Request describes one call to the platform. It is immutable for the
// duration of Execute; retry state never leaks between requests.
type Request struct {
	// Resource is the path of the remote operation, e.g. "job-xxxx/describe".
	Resource string

	// Body is marshaled to JSON as the POST payload. A nil body is sent as
	// an empty JSON object.
	Body any

	// Strategy declares whether the operation is safe to repeat after an
	// unknown-outcome failure. Defaults to UnsafeToRetry.
	Strategy RetryStrategy

	// ParseResponse requests the response body back as parsed JSON. When
	// false the raw bytes are returned unvalidated.
	ParseResponse bool

	// RequestID overrides the generated X-Request-ID for this call. The same
	// ID is reused across every retry so server-side logs can be correlated
	// with one logical operation.
	RequestID string
}

// Response is the terminal result of a successful Execute.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body holds the raw response bytes exactly as received.
	Body []byte

	// JSON holds the parsed document when ParseResponse was set, nil otherwise.
	JSON json.RawMessage

	// RequestID is the correlation ID echoed by the server, if any.
	RequestID string

	// Stats describes the attempts made to obtain this response.
	Stats Stats
}

// Stats describes the work one Execute call performed.
type Stats struct {
	// Attempts is the number of HTTP calls made, including the successful one.
	Attempts int

	// BoundedRetries is the number of retries charged against the retry budget.
	BoundedRetries int

	// ServerWaits is the number of server-directed (503 Retry-After) waits,
	// which are never charged against the budget.
	ServerWaits int

	// Elapsed is the total wall-clock time spent, including waits.
	Elapsed time.Duration
}

// Client issues authenticated JSON calls to a platform API server. It is safe
// for concurrent use: the security context and transport are shared and
// immutable, and all retry bookkeeping is local to each Execute call.
type Client struct {
	apiServer  string
	security   SecurityContext
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
	sleeper    Sleeper
	stats      *execStats
}

// NewClient creates a client for the given API server. The security context
// is validated eagerly: a client can never be constructed without one.
//
// Example:
//
//	client, err := apiclient.NewClient(
//	    "https://api.example.com",
//	    apiclient.SecurityContext{TokenType: "Bearer", Token: os.Getenv("API_TOKEN")},
//	    apiclient.WithMaxRetries(5),
//	    apiclient.WithLogger(logger),
//	)
func NewClient(apiServer string, security SecurityContext, opts ...Option) (*Client, error) {
	if apiServer == "" {
		return nil, &ConfigError{Reason: "api server address is required"}
	}
	u, err := url.Parse(apiServer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid api server address %q", apiServer)}
	}
	if err := security.Validate(); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.Sleeper == nil {
		config.Sleeper = TimerSleeper{}
	}
	if config.MaxRetries < 0 {
		return nil, &ConfigError{Reason: "max retries must not be negative"}
	}
	if config.InitialBackoff <= 0 {
		return nil, &ConfigError{Reason: "initial backoff must be positive"}
	}

	return &Client{
		apiServer:  strings.TrimRight(apiServer, "/"),
		security:   security,
		config:     config,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
		sleeper:    config.Sleeper,
		stats:      &execStats{},
	}, nil
}

// Call issues a request and returns the response body as parsed JSON. It is
// the surface the typed object layer builds on: describe, find and friends
// pass SafeToRetry, operations with externally visible side effects pass
// UnsafeToRetry.
func (c *Client) Call(ctx context.Context, resource string, body any, strategy RetryStrategy) (json.RawMessage, error) {
	resp, err := c.Execute(ctx, &Request{
		Resource:      resource,
		Body:          body,
		Strategy:      strategy,
		ParseResponse: true,
	})
	if err != nil {
		return nil, err
	}
	return resp.JSON, nil
}

// CallText issues a request and returns the response body as raw text,
// skipping JSON validation of the payload.
func (c *Client) CallText(ctx context.Context, resource string, body any, strategy RetryStrategy) (string, error) {
	resp, err := c.Execute(ctx, &Request{
		Resource: resource,
		Body:     body,
		Strategy: strategy,
	})
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// endpoint builds the absolute URL for a resource path.
func (c *Client) endpoint(resource string) string {
	return c.apiServer + "/" + strings.TrimLeft(resource, "/")
}
