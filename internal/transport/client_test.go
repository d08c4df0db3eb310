package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwell/ticketbridge/internal/ticket"
)

// fastRetry keeps backoff out of test wall time.
func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := New(server.URL, WithRetryConfig(fastRetry()))

	var out map[string]string
	err := client.Get(context.Background(), "/thing", &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, WithRetryConfig(fastRetry()))

	err := client.Get(context.Background(), "/thing", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ticket.ErrTransient))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"404 maps to not found", http.StatusNotFound, ticket.ErrNotFound},
		{"401 maps to permission", http.StatusUnauthorized, ticket.ErrPermission},
		{"403 maps to permission", http.StatusForbidden, ticket.ErrPermission},
		{"400 maps to validation", http.StatusBadRequest, ticket.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := New(server.URL, WithRetryConfig(fastRetry()))

			err := client.Get(context.Background(), "/thing", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Equal(t, int32(1), calls.Load(), "no retry on client errors")

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
		})
	}
}

func TestDoSendsHeadersAndAuth(t *testing.T) {
	var gotAuth, gotRequestID, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL, WithAuthorizer(BearerAuth{Token: "tok-123"}))

	require.NoError(t, client.Get(context.Background(), "/me", nil))
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "application/json", gotAccept)
}

func TestWithAuthorizerDoesNotMutateOriginal(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	base := New(server.URL)
	probe := base.WithAuthorizer(BasicAuth{Username: "alice", Secret: "s3cret"})

	require.NoError(t, probe.Get(context.Background(), "/me", nil))
	assert.Contains(t, gotAuth, "Basic ")

	require.NoError(t, base.Get(context.Background(), "/me", nil))
	assert.Empty(t, gotAuth, "original client stays unauthenticated")
}

func TestDoHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	// Long delays force the retry loop to block in sleep, where the
	// cancellation must be observed.
	client := New(server.URL, WithRetryConfig(RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		MaxDelay:    time.Minute,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Get(ctx, "/thing", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	t.Run("exponential with jitter bounds", func(t *testing.T) {
		for attempt := 0; attempt < 3; attempt++ {
			delay := backoffDelay(attempt, cfg, 0)
			base := float64(cfg.BaseDelay) * float64(int(1)<<attempt)
			assert.GreaterOrEqual(t, float64(delay), base*0.75)
			assert.LessOrEqual(t, float64(delay), base*1.25)
		}
	})

	t.Run("server delay honored verbatim", func(t *testing.T) {
		assert.Equal(t, 300*time.Millisecond, backoffDelay(0, cfg, 300*time.Millisecond))
	})

	t.Run("server delay capped at max", func(t *testing.T) {
		assert.Equal(t, cfg.MaxDelay, backoffDelay(0, cfg, time.Hour))
	})
}

func TestRetryAfterHeader(t *testing.T) {
	t.Run("seconds format", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"7"}}}
		assert.Equal(t, 7*time.Second, retryAfter(resp))
	})

	t.Run("http date format", func(t *testing.T) {
		future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
		resp := &http.Response{Header: http.Header{"Retry-After": []string{future}}}
		got := retryAfter(resp)
		assert.Greater(t, got, 20*time.Second)
		assert.LessOrEqual(t, got, 30*time.Second)
	})

	t.Run("absent", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), retryAfter(&http.Response{Header: http.Header{}}))
	})

	t.Run("nil response", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), retryAfter(nil))
	})
}

func TestRetryAfterDrivesNextDelay(t *testing.T) {
	var calls atomic.Int32
	var elapsed time.Duration
	var first time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			first = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			elapsed = time.Since(first)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	client := New(server.URL, WithRetryConfig(RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Second,
	}))

	require.NoError(t, client.Get(context.Background(), "/thing", nil))
	assert.GreaterOrEqual(t, elapsed, time.Second, "second attempt waits out Retry-After")
}
