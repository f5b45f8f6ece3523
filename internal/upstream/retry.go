// Package upstream provides the transport the gateway uses to reach the
// marketplace application: idempotent reads are retried with exponential
// backoff on server and network errors, mutations are sent exactly once.
package upstream

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_upstream_retries_total",
		Help: "Total number of upstream retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketgate_upstream_retry_backoff_seconds",
		Help:    "Backoff duration for upstream retries by error class",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_upstream_retry_exhausted_total",
		Help: "Total number of times upstream retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration. Backoffs are
// short because a client is waiting on the proxied request.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Option configures a Transport.
type Option func(*Transport)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(t *Transport) {
		if cfg.MaxAttempts < 1 {
			cfg.MaxAttempts = 1
		}
		t.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger.With().Str("component", "upstream").Logger()
	}
}

// Transport is an http.RoundTripper that retries idempotent requests.
type Transport struct {
	base   http.RoundTripper
	retry  RetryConfig
	logger zerolog.Logger
}

// NewTransport wraps base, http.DefaultTransport when nil.
func NewTransport(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:   base,
		retry:  DefaultRetryConfig(),
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper. After the last attempt a server
// error response is returned as is, so the caller relays the application's
// own error; a network failure is returned as an *Error wrapping
// ErrRetryExhausted.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !retryable(req) {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	backoff := t.retry.InitialBackoff

	for attempt := 1; ; attempt++ {
		r := req
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			r = req.Clone(ctx)
			r.Body = body
		}

		resp, err := t.base.RoundTrip(r)
		class := Classify(resp, err)
		if !shouldRetry(class) {
			if attempt > 1 && err == nil {
				t.logger.Info().
					Str("path", req.URL.Path).
					Int("attempt", attempt).
					Msg("upstream request succeeded after retry")
			}
			return resp, err
		}

		if attempt >= t.retry.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			t.logger.Warn().
				Str("path", req.URL.Path).
				Str("error_class", string(class)).
				Int("max_attempts", t.retry.MaxAttempts).
				Msg("upstream retry attempts exhausted")

			if err != nil {
				return nil, &Error{
					Class:   class,
					Message: fmt.Sprintf("%s %s", req.Method, req.URL.Path),
					Err:     fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err),
				}
			}
			return resp, nil
		}

		if resp != nil {
			drain(resp)
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		t.logger.Debug().
			Str("path", req.URL.Path).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("retrying upstream request after backoff")

		if err := sleep(ctx, jitter); err != nil {
			return nil, err
		}

		backoff = time.Duration(float64(backoff) * t.retry.BackoffMultiplier)
		if backoff > t.retry.MaxBackoff {
			backoff = t.retry.MaxBackoff
		}
	}
}

// retryable reports whether req may be sent more than once: a read whose
// body, if any, can be replayed.
func retryable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
