// Package transport provides the authenticated JSON HTTP core shared by
// the backend clients. It applies the connection's negotiated auth
// header, retries transient failures with exponential backoff, tags
// every request with a correlation ID, and surfaces structured errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/trackwell/ticketbridge/internal/ticket"
)

// Authorizer applies credentials to an outgoing request. The zero
// behavior (nil Authorizer) sends unauthenticated requests, which the
// detector uses for the self-description call.
type Authorizer interface {
	Apply(req *http.Request)
}

// BearerAuth authorizes with "Authorization: Bearer <token>".
type BearerAuth struct {
	Token string
}

// Apply sets the bearer header.
func (a BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// BasicAuth authorizes with HTTP basic credentials. For Jira Cloud the
// password slot carries the account's API token.
type BasicAuth struct {
	Username string
	Secret   string
}

// Apply sets basic auth.
func (a BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(a.Username, a.Secret)
}

// StatusError is a non-2xx response that survived retry policy. Body is
// retained so backends can extract platform-specific error detail.
type StatusError struct {
	StatusCode int
	Body       []byte
	Method     string
	Path       string
	RetryAfter time.Duration // Server-requested delay, 0 if absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap maps the status onto the backend-agnostic error taxonomy so
// callers can errors.Is against it directly.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ticket.ErrNotFound
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return ticket.ErrPermission
	case e.StatusCode == http.StatusBadRequest, e.StatusCode == http.StatusUnprocessableEntity:
		return ticket.ErrValidation
	case e.StatusCode >= 500, e.StatusCode == http.StatusTooManyRequests:
		return ticket.ErrTransient
	default:
		return nil
	}
}

// Client is the retrying JSON HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
	auth    Authorizer
	retry   RetryConfig
	logger  log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryConfig overrides retry behavior.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithAuthorizer sets the initial authorizer.
func WithAuthorizer(auth Authorizer) Option {
	return func(c *Client) { c.auth = auth }
}

// New creates a client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   DefaultRetryConfig(),
		logger:  log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the trimmed base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithAuthorizer returns a copy of the client using the given
// authorizer. The negotiator probes candidates through per-method
// copies and the provider locks in the winner; the original client is
// never mutated, so concurrent reads stay safe.
func (c *Client) WithAuthorizer(auth Authorizer) *Client {
	clone := *c
	clone.auth = auth
	return &clone
}

// Get issues a GET and unmarshals the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body and unmarshals the response.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body and unmarshals the response.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Do runs one logical request with retry. Transient failures (network
// errors, 429, 5xx) are retried up to the configured attempts; other
// statuses surface immediately as *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	requestID := uuid.NewString()
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			serverDelay := serverDelayFrom(lastErr)
			delay := backoffDelay(attempt-1, c.retry, serverDelay)
			c.logger.Debug().
				Str("request_id", requestID).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying request")
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		status, respBody, serverDelay, err := c.roundTrip(ctx, method, path, payload, requestID)
		if err != nil {
			// Context cancellation is terminal, plain network errors
			// are transient.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if status >= 200 && status < 300 {
			if out == nil || status == http.StatusNoContent || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("unmarshal response from %s %s: %w", method, path, err)
			}
			return nil
		}

		statusErr := &StatusError{
			StatusCode: status,
			Body:       respBody,
			Method:     method,
			Path:       path,
			RetryAfter: serverDelay,
		}
		if !shouldRetryStatus(status) {
			return statusErr
		}
		lastErr = statusErr
	}

	c.logger.Warn().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Err(lastErr).
		Msg("retries exhausted")

	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) {
		return statusErr
	}
	return fmt.Errorf("%w: %s %s after %d attempts: %w",
		ticket.ErrTransient, method, path, c.retry.MaxAttempts, lastErr)
}

// roundTrip executes a single HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, requestID string) (int, []byte, time.Duration, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth.Apply(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("execute %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request complete")

	return resp.StatusCode, respBody, retryAfter(resp), nil
}

// serverDelayFrom extracts the server-requested delay from the failed
// attempt, if it was a status failure carrying Retry-After.
func serverDelayFrom(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}
