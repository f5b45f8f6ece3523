package cache

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/marketgate/pkg/intercept"
)

// PatternFunc returns the key patterns a mutation request affects.
type PatternFunc func(r *http.Request) []string

// Patterns returns a PatternFunc yielding fixed patterns.
func Patterns(patterns ...string) PatternFunc {
	return func(*http.Request) []string {
		return patterns
	}
}

// Invalidator deletes cached entries by glob pattern. It has no dependency
// tracking: callers declare which patterns a write affects.
type Invalidator struct {
	store  Store
	logger zerolog.Logger
	warn   *rate.Sometimes
}

// NewInvalidator creates an invalidator. A nil store makes every call a
// no-op.
func NewInvalidator(store Store, logger zerolog.Logger) *Invalidator {
	return &Invalidator{
		store:  store,
		logger: logger.With().Str("component", "cache-invalidator").Logger(),
		warn:   &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Invalidate removes every entry matching pattern and returns how many
// were removed. Store failures are logged and reported as zero.
func (inv *Invalidator) Invalidate(ctx context.Context, pattern string) int64 {
	if inv.store == nil || pattern == "" {
		return 0
	}

	n, err := inv.store.DeletePattern(ctx, pattern)
	if err != nil {
		inv.warn.Do(func() {
			inv.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache invalidation failed")
		})
		return 0
	}

	InvalidatedKeys.Add(float64(n))
	inv.logger.Debug().Str("pattern", pattern).Int64("removed", n).Msg("cache invalidated")
	return n
}

// After returns an interceptor that invalidates the request's patterns
// once the wrapped mutation handler has succeeded. Invalidation runs
// before the handler chain returns so a follow-up read never sees the
// stale entry.
func (inv *Invalidator) After(patterns PatternFunc) intercept.Interceptor {
	return intercept.Func(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			rec := intercept.NewRecorder(w, intercept.DefaultBodyLimit)
			next.ServeHTTP(rec, r)

			if !rec.Outcome().Succeeded() {
				return
			}

			ctx := context.WithoutCancel(r.Context())
			for _, p := range patterns(r) {
				inv.Invalidate(ctx, p)
			}
		})
	})
}
