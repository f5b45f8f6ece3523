package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrInvalidPolicy is returned for a policy that cannot be enforced.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// DefaultMessage is the rejection message of policies that set none.
const DefaultMessage = "Too many requests, please try again later"

// Response headers set by Limiter.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// KeyFunc derives the counter key of a request.
type KeyFunc func(r *http.Request) string

// Policy configures one limiter instance.
type Policy struct {
	// Name namespaces the policy's counters and labels its metrics.
	Name string

	// Window is the window length.
	Window time.Duration

	// Max is the number of requests allowed per key and window.
	Max int

	// Key derives the counter key.
	Key KeyFunc

	// Status is the rejection status, 429 when zero.
	Status int

	// Message is the rejection error message.
	Message string

	// Skip exempts a request from the policy entirely.
	Skip func(r *http.Request) bool
}

// Validate checks that the policy can be enforced.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	case p.Window <= 0:
		return fmt.Errorf("%w: %s: window must be positive", ErrInvalidPolicy, p.Name)
	case p.Max <= 0:
		return fmt.Errorf("%w: %s: max must be positive", ErrInvalidPolicy, p.Name)
	case p.Key == nil:
		return fmt.Errorf("%w: %s: key func is required", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithDisabled turns the limiter into a pass-through. It exists for
// controlled load tests only.
func WithDisabled(disabled bool) Option {
	return func(l *Limiter) {
		l.disabled = disabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithClock sets the time source used for Retry-After.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter enforces one Policy.
type Limiter struct {
	policy   Policy
	counter  Counter
	disabled bool
	logger   zerolog.Logger
	now      func() time.Time

	// counter outages are logged at most once per interval
	warn *rate.Sometimes
}

// NewLimiter creates a limiter for p backed by counter.
func NewLimiter(p Policy, counter Counter, opts ...Option) (*Limiter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: %s: counter is required", ErrInvalidPolicy, p.Name)
	}
	if p.Status == 0 {
		p.Status = http.StatusTooManyRequests
	}
	if p.Message == "" {
		p.Message = DefaultMessage
	}

	l := &Limiter{
		policy:  p,
		counter: counter,
		logger:  zerolog.Nop(),
		now:     time.Now,
		warn:    &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	l.logger = l.logger.With().Str("component", "ratelimit").Str("policy", p.Name).Logger()
	return l, nil
}

// Policy returns the enforced policy with defaults applied.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Allow counts one request for key. On a counter error the decision
// allows the request and the error is returned for the caller to log.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.disabled {
		return Decision{Allowed: true, Limit: l.policy.Max, Remaining: l.policy.Max}, nil
	}

	w, allowed, err := l.counter.Take(ctx, l.policy.Name+":"+key, l.policy.Window, l.policy.Max)
	if err != nil {
		return Decision{Allowed: true, Limit: l.policy.Max, Remaining: l.policy.Max}, err
	}
	return decide(w, l.policy.Max, allowed), nil
}

// Wrap implements intercept.Interceptor.
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.disabled {
			next.ServeHTTP(w, r)
			return
		}
		if l.policy.Skip != nil && l.policy.Skip(r) {
			decisionsTotal.WithLabelValues(l.policy.Name, "skipped").Inc()
			next.ServeHTTP(w, r)
			return
		}

		key := l.policy.Key(r)
		d, err := l.Allow(r.Context(), key)
		if err != nil {
			decisionsTotal.WithLabelValues(l.policy.Name, "error").Inc()
			storeErrorsTotal.WithLabelValues(l.policy.Name).Inc()
			l.warn.Do(func() {
				l.logger.Warn().Err(err).Msg("rate limit counter unavailable, allowing request")
			})
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set(HeaderLimit, strconv.Itoa(d.Limit))
		h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
		h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			decisionsTotal.WithLabelValues(l.policy.Name, "blocked").Inc()
			l.logger.Info().Str("key", key).Msg("rate limit exceeded")
			h.Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfter(l.now())))
			WriteRejection(w, l.policy.Status, l.policy.Message)
			return
		}

		decisionsTotal.WithLabelValues(l.policy.Name, "allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

type rejection struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteRejection writes the JSON body shared by every limiter rejection.
func WriteRejection(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{Success: false, Error: message})
}
