package apiclient

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds executor configuration. It is assembled from functional
// options; there is no process-wide default instance.
type Config struct {
	// HTTPClient is the transport used for every attempt. It must be safe
	// for concurrent use. Default: &http.Client{Timeout: Timeout}.
	HTTPClient *http.Client

	// Logger for executor operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Sleeper performs backoff and server-directed waits.
	// Default: TimerSleeper
	Sleeper Sleeper

	// MaxRetries is the bounded retry budget: the number of backoff-driven
	// retries permitted per call. Server-directed (503) waits are not
	// charged against it. Default: 10
	MaxRetries int

	// InitialBackoff is the delay before the first bounded retry; it doubles
	// on each subsequent one. Default: 1 second
	InitialBackoff time.Duration

	// Timeout is the per-attempt timeout applied to the default HTTP client.
	// Ignored when HTTPClient is supplied. Default: 10 minutes
	Timeout time.Duration

	// DisableRetries turns every retryable failure into a terminal one.
	DisableRetries bool

	// NewRequestID generates the X-Request-ID for calls that do not supply
	// their own. Default: uuid
	NewRequestID func() string
}

// Option is a functional option for configuring a Client.
type Option func(*Config)

// DefaultConfig returns executor configuration with the platform defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     10,
		InitialBackoff: time.Second,
		Timeout:        10 * time.Minute,
		NewRequestID:   newRequestID,
	}
}

// WithHTTPClient supplies the transport used for every attempt. The client
// must be safe for concurrent use.
//
// Example:
//
//	apiclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second})
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = httpClient
	}
}

// WithLogger sets a custom logger for executor operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	apiclient.WithLogger(logger)
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSleeper replaces the wait implementation. Useful for cooperative
// schedulers and for tests that must not block.
func WithSleeper(sleeper Sleeper) Option {
	return func(c *Config) {
		c.Sleeper = sleeper
	}
}

// WithMaxRetries sets the bounded retry budget per call.
//
// Example:
//
//	apiclient.WithMaxRetries(5) // up to 6 HTTP calls per Execute
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
	}
}

// WithInitialBackoff sets the delay before the first bounded retry. Each
// subsequent bounded retry doubles it.
//
// Example:
//
//	apiclient.WithInitialBackoff(500 * time.Millisecond)
//	// Delays: 0.5s, 1s, 2s, 4s, ...
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.InitialBackoff = d
	}
}

// WithTimeout sets the per-attempt timeout on the default HTTP client. It has
// no effect when WithHTTPClient is also used.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithRetriesDisabled turns every retryable failure into a terminal one.
// Server errors fail immediately and 503 responses surface the suggested wait
// to the caller instead of honoring it.
func WithRetriesDisabled() Option {
	return func(c *Config) {
		c.DisableRetries = true
	}
}

// WithRequestIDFunc replaces the X-Request-ID generator.
//
// Example:
//
//	apiclient.WithRequestIDFunc(func() string { return "worker-7-" + uuid.NewString() })
func WithRequestIDFunc(fn func() string) Option {
	return func(c *Config) {
		if fn != nil {
			c.NewRequestID = fn
		}
	}
}

// CircuitBreakerConfig holds circuit breaker configuration options.
type CircuitBreakerConfig struct {
	// ReadyToTrip is called with a copy of counts whenever a request fails in
	// the closed state. If it returns true the circuit opens.
	// Default: trips after 3 requests with 60% failure rate
	ReadyToTrip func(counts CircuitBreakerCounts) bool

	// ErrorClassifier determines which terminal errors count as failures.
	// Default: trips on transport and server-class failures and on 401/403.
	ErrorClassifier CircuitBreakerErrorClassifier

	// OnStateChange is called whenever the circuit breaker changes state.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Logger for circuit breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Interval is the cyclic period of the closed state after which the
	// internal counts are cleared. If 0, never clears.
	// Default: 10 seconds
	Interval time.Duration

	// Timeout is the period of the open state, after which the state becomes
	// half-open. Default: 30 seconds
	Timeout time.Duration

	// MaxRequests is the number of requests allowed through while half-open.
	// Default: 3
	MaxRequests uint32
}

// CircuitBreakerOption is a functional option for configuring circuit breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerCounts holds the internal counts of the circuit breaker.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means the circuit is testing if the service has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WithMaxRequests sets the number of requests allowed through in half-open state.
func WithMaxRequests(maxRequests uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MaxRequests = maxRequests
	}
}

// WithInterval sets the interval for clearing counts in closed state.
func WithInterval(interval time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Interval = interval
	}
}

// WithOpenTimeout sets how long the circuit stays open before probing.
func WithOpenTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Timeout = timeout
	}
}

// WithReadyToTrip sets a custom function to determine when to trip the circuit.
//
// Example:
//
//	apiclient.WithReadyToTrip(func(counts apiclient.CircuitBreakerCounts) bool {
//	    failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
//	    return counts.Requests >= 5 && failureRatio >= 0.5
//	})
func WithReadyToTrip(fn func(counts CircuitBreakerCounts) bool) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ReadyToTrip = fn
	}
}

// WithCircuitBreakerErrorClassifier sets a custom error classifier for
// circuit breaker decisions.
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets a custom logger for circuit breaker operations.
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultCircuitBreakerConfig returns circuit breaker configuration with
// sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts CircuitBreakerCounts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		ErrorClassifier: DefaultCircuitBreakerErrorClassifier(),
		Logger:          slog.Default(),
	}
}
