package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/marketgate/internal/testutil"
)

func fastRetry() Option {
	return WithRetryConfig(RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, config.InitialBackoff)
	assert.Equal(t, 2*time.Second, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
}

func TestTransport_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	var calls atomic.Int32
	mock.SetHandler(http.MethodGet, "/api/products", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	client := &http.Client{Transport: NewTransport(nil, fastRetry())}
	resp, err := client.Get(mock.URL() + "/api/products")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, mock.Count(http.MethodGet, "/api/products"))
}

func TestTransport_ExhaustedReturnsLastResponse(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(http.MethodGet, "/api/products", testutil.NewServerErrorResponse())

	client := &http.Client{Transport: NewTransport(nil, fastRetry())}
	resp, err := client.Get(mock.URL() + "/api/products")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "Internal server error")
	assert.Equal(t, 3, mock.Count(http.MethodGet, "/api/products"))
}

func TestTransport_NoRetry(t *testing.T) {
	tests := []struct {
		name   string
		method string
		resp   testutil.MockResponse
		status int
	}{
		{"mutation on server error", http.MethodPost, testutil.NewServerErrorResponse(), http.StatusInternalServerError},
		{"delete on server error", http.MethodDelete, testutil.NewServerErrorResponse(), http.StatusInternalServerError},
		{"client error", http.MethodGet, testutil.NewLoginFailedResponse(), http.StatusUnauthorized},
		{"account locked", http.MethodGet, testutil.NewAccountLockedResponse(), http.StatusLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse(tt.method, "/api/x", tt.resp)

			req, err := http.NewRequest(tt.method, mock.URL()+"/api/x", strings.NewReader(`{}`))
			require.NoError(t, err)

			resp, err := NewTransport(nil, fastRetry()).RoundTrip(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, 1, mock.Count(tt.method, "/api/x"))
		})
	}
}

type failingTransport struct {
	calls atomic.Int32
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestTransport_NetworkErrorExhausted(t *testing.T) {
	base := &failingTransport{}
	req, err := http.NewRequest(http.MethodGet, "http://upstream.invalid/api/products", nil)
	require.NoError(t, err)

	_, err = NewTransport(base, fastRetry()).RoundTrip(req)
	require.Error(t, err)

	var upErr *Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, ErrorClassNetwork, upErr.Class)
	assert.Equal(t, "GET /api/products", upErr.Message)
	assert.NotContains(t, err.Error(), "status")
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, int32(3), base.calls.Load())
}

func TestTransport_ContextCancelledDuringBackoff(t *testing.T) {
	base := &failingTransport{}
	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://upstream.invalid/", nil)
	require.NoError(t, err)

	tr := NewTransport(base, WithRetryConfig(RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 1,
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = tr.RoundTrip(req)
	assert.ErrorIs(t, err, ErrContextCancelled)
	assert.Equal(t, int32(1), base.calls.Load())
}

func TestRetryable(t *testing.T) {
	get, _ := http.NewRequest(http.MethodGet, "http://x/", nil)
	assert.True(t, retryable(get))

	post, _ := http.NewRequest(http.MethodPost, "http://x/", nil)
	assert.False(t, retryable(post))

	put, _ := http.NewRequest(http.MethodPut, "http://x/", strings.NewReader("{}"))
	assert.False(t, retryable(put))

	// an unrewindable body cannot be resent
	odd, _ := http.NewRequest(http.MethodGet, "http://x/", io.NopCloser(strings.NewReader("q")))
	assert.False(t, retryable(odd))
}
