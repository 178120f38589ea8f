package apiclient

import (
	"context"
	"errors"
	"log/slog"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerErrorClassifier determines whether a terminal error should
// trip the circuit breaker. Implement it to customize which failures count
// against a downstream platform's health.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error represents a failure
	// serious enough to open the circuit and stop requests temporarily.
	ShouldTripCircuit(err error) bool
}

// PlatformErrorClassifier is the default circuit breaker classifier for
// platform errors. It trips on transport failures, exhausted server errors
// and authentication rejections (401/403), but never on ordinary 4xx
// rejections, throttling or context errors, which say nothing about the
// platform's health.
type PlatformErrorClassifier struct{}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
func (PlatformErrorClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	// 503 means the platform is alive and asking for patience.
	if errors.Is(err, jperrors.ErrRateLimited) {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 401 || apiErr.Status == 403
	}
	return false
}

// DefaultCircuitBreakerErrorClassifier returns the default classifier for
// circuit breaker tripping.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return PlatformErrorClassifier{}
}

// CircuitBreakerClient wraps a Client with circuit breaker protection. When
// the platform fails persistently the circuit opens and calls are rejected
// immediately without reaching the executor, sparing the platform the load
// and the caller the retry latency. The executor's own retry decision table
// is unchanged; the breaker only observes terminal results.
type CircuitBreakerClient struct {
	client     *Client
	cb         *gobreaker.CircuitBreaker[*Response]
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
}

// NewCircuitBreakerClient wraps a client with a circuit breaker.
//
// Example:
//
//	protected := apiclient.NewCircuitBreakerClient(
//	    client,
//	    apiclient.WithMaxRequests(5),
//	    apiclient.WithOpenTimeout(60*time.Second),
//	)
func NewCircuitBreakerClient(client *Client, opts ...CircuitBreakerOption) *CircuitBreakerClient {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}

	classifier := config.ErrorClassifier

	settings := gobreaker.Settings{
		Name:        "apiclient",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(CircuitBreakerCounts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			})
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classifier.ShouldTripCircuit(err)
		},
	}

	return &CircuitBreakerClient{
		client:     client,
		cb:         gobreaker.NewCircuitBreaker[*Response](settings),
		logger:     config.Logger,
		classifier: classifier,
	}
}

// Execute runs the request through the circuit breaker. While the circuit is
// open, requests are rejected without reaching the platform. Rejections are
// wrapped with jperrors types for consistent classification:
//   - gobreaker.ErrOpenState becomes jperrors.ErrCircuitOpen
//   - gobreaker.ErrTooManyRequests becomes jperrors.ErrCircuitTooManyRequests
func (b *CircuitBreakerClient) Execute(ctx context.Context, req *Request) (*Response, error) {
	resp, err := b.cb.Execute(func() (*Response, error) {
		return b.client.Execute(ctx, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			counts := b.cb.Counts()
			b.logger.Warn("circuit breaker is open, request rejected",
				"resource", req.Resource,
				"state", b.cb.State(),
				"counts", counts)
			return nil, jperrors.NewCircuitBreakerError(
				"request rejected",
				"execute",
				"open",
				jperrors.WithCause(err),
				jperrors.WithCounts(jperrors.CircuitCounts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				}),
			)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			counts := b.cb.Counts()
			b.logger.Debug("circuit breaker in half-open state, too many requests",
				"resource", req.Resource)
			return nil, jperrors.NewCircuitBreakerError(
				"too many requests in half-open state",
				"execute",
				"half-open",
				jperrors.WithCause(err),
				jperrors.WithCounts(jperrors.CircuitCounts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				}),
			)
		default:
			b.logger.Debug("request failed through circuit breaker",
				"resource", req.Resource,
				"error", err,
				"should_trip", b.classifier.ShouldTripCircuit(err))
		}
		return nil, err
	}

	return resp, nil
}

// State returns the current state of the circuit breaker.
func (b *CircuitBreakerClient) State() CircuitBreakerState {
	return convertGobreakerState(b.cb.State())
}

// Counts returns the current counts of the circuit breaker.
func (b *CircuitBreakerClient) Counts() CircuitBreakerCounts {
	counts := b.cb.Counts()
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// HealthStatus reports whether the downstream platform is considered usable.
type HealthStatus struct {
	// Healthy is true for the closed and half-open states.
	Healthy bool `json:"healthy"`

	// State is the circuit breaker state ("closed", "half-open", "open").
	State string `json:"state"`

	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// Health returns the health status of the wrapped platform connection.
func (b *CircuitBreakerClient) Health() HealthStatus {
	state := b.State()
	counts := b.Counts()

	return HealthStatus{
		// Half-open is degraded but operational.
		Healthy:              state != StateOpen,
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

// convertGobreakerState converts gobreaker.State to CircuitBreakerState.
func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
