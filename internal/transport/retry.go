package transport

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Retry configuration constants. Transient failures are retried with
// bounded exponential backoff; non-transient 4xx responses surface
// immediately.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 15 * time.Second
)

// retryableStatusCodes are HTTP status codes that warrant a retry.
var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500 (may be transient)
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// shouldRetryStatus determines if a status code should be retried.
func shouldRetryStatus(code int) bool {
	return retryableStatusCodes[code]
}

// retryAfter extracts the Retry-After value from response headers.
// Returns 0 if the header is not present or invalid.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}

// backoffDelay calculates the backoff for a given attempt: exponential
// with jitter (±25%) capped at MaxDelay. A server-specified Retry-After
// is honored verbatim (capped, no jitter).
func backoffDelay(attempt int, cfg RetryConfig, serverDelay time.Duration) time.Duration {
	if serverDelay > 0 {
		if serverDelay > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return serverDelay
	}

	backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}

	// Jitter spreads out retries to prevent thundering herd. Non-crypto
	// randomness is fine here.
	jitterRange := backoff * 0.25
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange

	if backoff < float64(time.Millisecond) {
		backoff = float64(time.Millisecond)
	}
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}

	return time.Duration(backoff)
}

// sleep waits for the specified duration or until context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
