package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Sleeper performs the executor's waits. The default implementation blocks
// the calling goroutine on a timer; supplying a different implementation lets
// a cooperative scheduler or a test satisfy the same retry-policy contract
// without changing the decision table.
type Sleeper interface {
	// Sleep waits for the given duration or until the context is done,
	// returning the context's error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper is the default Sleeper. It blocks on a timer and honors
// context cancellation.
type TimerSleeper struct{}

// Sleep implements Sleeper.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// execStats tracks executor activity across all calls on one client.
type execStats struct {
	mu              sync.RWMutex
	totalCalls      int64
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// ExecStats is a snapshot of a client's executor statistics.
type ExecStats struct {
	// TotalCalls is the number of Execute invocations.
	TotalCalls int64

	// TotalAttempts is the number of HTTP calls made across all invocations.
	TotalAttempts int64

	// TotalRetries is the number of repeat attempts, bounded or server-directed.
	TotalRetries int64

	// TotalSuccesses is the number of invocations that returned a response.
	TotalSuccesses int64

	// TotalFailures is the number of invocations that returned a terminal error.
	TotalFailures int64

	// LastAttemptTime is the time of the most recent HTTP call.
	LastAttemptTime time.Time

	// LastError is the most recent terminal error, if any.
	LastError error
}

// Stats returns a snapshot of the client's executor statistics. It is safe
// to call concurrently with Execute.
func (c *Client) Stats() ExecStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return ExecStats{
		TotalCalls:      c.stats.totalCalls,
		TotalAttempts:   c.stats.totalAttempts,
		TotalRetries:    c.stats.totalRetries,
		TotalSuccesses:  c.stats.totalSuccesses,
		TotalFailures:   c.stats.totalFailures,
		LastAttemptTime: c.stats.lastAttemptTime,
		LastError:       c.stats.lastError,
	}
}

// Execute issues the request and retries it according to its classification
// until it either succeeds or fails terminally. Exactly one of a response or
// an error is returned; there is no partial success.
//
// The decision table:
//   - 4xx is terminal immediately, regardless of strategy or budget.
//   - 5xx other than 503 always retries with exponential backoff, charging
//     the bounded budget, unless retries are disabled.
//   - 503 waits the server-suggested time and retries without charging the
//     budget, unless retries are disabled.
//   - transport failures retry with exponential backoff only when the request
//     declared SafeToRetry and budget remains.
//   - a complete but unparseable 200 body is terminal immediately.
//
// All waits block the calling goroutine through the configured Sleeper.
// Retry state is local to this invocation, so concurrent Execute calls never
// interfere with each other.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.Resource == "" {
		return nil, c.fail(&ConfigError{Reason: "request requires a resource path"})
	}
	if err := c.security.Validate(); err != nil {
		return nil, c.fail(err)
	}

	payload, err := marshalBody(req.Body)
	if err != nil {
		return nil, c.fail(&ConfigError{Reason: fmt.Sprintf("request body is not serializable: %v", err)})
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = c.config.NewRequestID()
	}

	c.stats.mu.Lock()
	c.stats.totalCalls++
	c.stats.mu.Unlock()

	start := time.Now()
	backoff := retry.NewExponential(c.config.InitialBackoff)
	var stats Stats

	for {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(err)
		}

		outcome := c.attempt(ctx, req, payload, requestID)
		stats.Attempts++
		c.recordAttempt(stats.Attempts > 1)

		switch o := outcome.(type) {
		case Success:
			stats.Elapsed = time.Since(start)
			if stats.Attempts > 1 {
				c.logger.Info("request succeeded after retries",
					"resource", req.Resource,
					"request_id", requestID,
					"attempts", stats.Attempts)
			}
			c.stats.mu.Lock()
			c.stats.totalSuccesses++
			c.stats.mu.Unlock()
			return &Response{
				StatusCode: http.StatusOK,
				Header:     o.Header,
				Body:       o.Body,
				JSON:       o.JSON,
				RequestID:  o.RequestID,
				Stats:      stats,
			}, nil

		case ClientFailure:
			c.logger.Warn("request rejected by server",
				"resource", req.Resource,
				"request_id", firstNonEmpty(o.RequestID, requestID),
				"status", o.Status,
				"error_type", o.ErrType)
			return nil, c.fail(&APIError{
				Status:    o.Status,
				Type:      o.ErrType,
				Message:   o.Message,
				RequestID: o.RequestID,
			})

		case MalformedPayload:
			c.logger.Warn("complete response body failed to parse",
				"resource", req.Resource,
				"request_id", firstNonEmpty(o.RequestID, requestID),
				"error", o.Cause)
			return nil, c.fail(&MalformedResponseError{Cause: o.Cause, RequestID: o.RequestID})

		case ServerFailure:
			if c.config.DisableRetries {
				return nil, c.failWarn(req, requestID, &ServerError{
					Status:    o.Status,
					Reason:    ReasonRetriesDisabled,
					RequestID: o.RequestID,
				})
			}
			if stats.BoundedRetries >= c.config.MaxRetries {
				return nil, c.failWarn(req, requestID, &ServerError{
					Status:    o.Status,
					Reason:    ReasonMaxRetries,
					RequestID: o.RequestID,
				})
			}
			if err := c.waitBounded(ctx, req, requestID, backoff, &stats, "status", o.Status); err != nil {
				return nil, c.fail(err)
			}

		case Throttled:
			if c.config.DisableRetries {
				return nil, c.failWarn(req, requestID, &ThrottledError{
					RetryAfter: o.RetryAfter,
					RequestID:  o.RequestID,
				})
			}
			// Server-directed waits are free: they increment neither the
			// bounded retry count nor the backoff schedule.
			c.logger.Debug("server requested wait before retry",
				"resource", req.Resource,
				"request_id", requestID,
				"retry_after", o.RetryAfter)
			if err := c.sleeper.Sleep(ctx, o.RetryAfter); err != nil {
				return nil, c.fail(err)
			}
			stats.ServerWaits++

		case TransportFailure:
			// Cancellation surfaces as a transport error from the HTTP
			// client; report it as the context's error, not as a failure of
			// the attempt.
			if err := ctx.Err(); err != nil {
				return nil, c.fail(err)
			}
			if req.Strategy != SafeToRetry {
				return nil, c.failWarn(req, requestID, &TransportError{
					Cause:  o.Cause,
					Detail: o.Reason,
					Reason: ReasonUnsafeToRetry,
				})
			}
			if c.config.DisableRetries {
				return nil, c.failWarn(req, requestID, &TransportError{
					Cause:  o.Cause,
					Detail: o.Reason,
					Reason: ReasonRetriesDisabled,
				})
			}
			if stats.BoundedRetries >= c.config.MaxRetries {
				return nil, c.failWarn(req, requestID, &TransportError{
					Cause:  o.Cause,
					Detail: o.Reason,
					Reason: ReasonMaxRetries,
				})
			}
			if err := c.waitBounded(ctx, req, requestID, backoff, &stats, "error", transportDetail(o)); err != nil {
				return nil, c.fail(err)
			}

		default:
			return nil, c.fail(&ConfigError{Reason: fmt.Sprintf("unhandled outcome %T", outcome)})
		}
	}
}

// attempt performs one HTTP exchange and classifies the result. It never
// retries; every path produces exactly one Outcome.
func (c *Client) attempt(ctx context.Context, req *Request, payload []byte, requestID string) Outcome {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(req.Resource), bytes.NewReader(payload))
	if err != nil {
		return classifyTransportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Connection", "close")
	httpReq.Header.Set("Authorization", c.security.TokenType+" "+c.security.Token)
	httpReq.Header.Set(HeaderRequestID, requestID)
	httpReq.Close = true

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(err)
	}

	return Classify(resp.StatusCode, resp.Header, body, resp.ContentLength, int64(len(body)), req.ParseResponse)
}

// waitBounded sleeps for the next exponential delay and charges the bounded
// retry budget. The schedule starts at the configured initial backoff and
// doubles on every bounded retry; server-directed waits never advance it.
func (c *Client) waitBounded(ctx context.Context, req *Request, requestID string, backoff retry.Backoff, stats *Stats, causeKey string, cause any) error {
	delay, _ := backoff.Next()
	c.logger.Debug("retrying after backoff",
		"resource", req.Resource,
		"request_id", requestID,
		causeKey, cause,
		"retries_used", stats.BoundedRetries,
		"backoff", delay)
	if err := c.sleeper.Sleep(ctx, delay); err != nil {
		return err
	}
	stats.BoundedRetries++
	return nil
}

// recordAttempt updates client-level counters for one HTTP call.
func (c *Client) recordAttempt(isRetry bool) {
	c.stats.mu.Lock()
	c.stats.totalAttempts++
	if isRetry {
		c.stats.totalRetries++
	}
	c.stats.lastAttemptTime = time.Now()
	c.stats.mu.Unlock()
}

// fail records a terminal failure and returns the error unchanged.
func (c *Client) fail(err error) error {
	c.stats.mu.Lock()
	c.stats.totalFailures++
	c.stats.lastError = err
	c.stats.mu.Unlock()
	return err
}

// failWarn logs a terminal failure before recording it.
func (c *Client) failWarn(req *Request, requestID string, err error) error {
	c.logger.Warn("request failed terminally",
		"resource", req.Resource,
		"request_id", requestID,
		"error", err)
	return c.fail(err)
}

// marshalBody serializes the request body, sending an empty JSON object for
// a nil body.
func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(body)
}

func transportDetail(o TransportFailure) string {
	if o.Cause != nil {
		return o.Cause.Error()
	}
	return o.Reason
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// newRequestID is the default X-Request-ID generator.
func newRequestID() string {
	return uuid.NewString()
}
