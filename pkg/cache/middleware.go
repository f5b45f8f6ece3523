package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/marketgate/pkg/intercept"
)

// HeaderCache reports whether a read was served from cache.
const HeaderCache = "X-Cache"

// Values of HeaderCache.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// Option configures a Middleware.
type Option func(*Middleware)

// WithRegistry sets the key builder registry.
func WithRegistry(reg *Registry) Option {
	return func(m *Middleware) {
		m.keys = reg
	}
}

// WithTTLs sets the TTL table.
func WithTTLs(ttls TTLTable) Option {
	return func(m *Middleware) {
		m.ttls = ttls
	}
}

// WithMaxBodyBytes sets the largest body that will be cached.
func WithMaxBodyBytes(n int) Option {
	return func(m *Middleware) {
		m.maxBody = n
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Middleware) {
		m.logger = l.With().Str("component", "cache").Logger()
	}
}

// Middleware is the read-through cache shared by every cached route.
type Middleware struct {
	store   Store
	keys    *Registry
	ttls    TTLTable
	maxBody int
	logger  zerolog.Logger
	now     func() time.Time

	// store outages are logged at most once per interval
	warn *rate.Sometimes

	pending sync.WaitGroup
}

// NewMiddleware creates the read-through cache. A nil store disables
// caching: every route passes straight through to its handler.
func NewMiddleware(store Store, opts ...Option) *Middleware {
	m := &Middleware{
		store:   store,
		keys:    NewRegistry(),
		ttls:    DefaultTTLs(),
		maxBody: intercept.DefaultBodyLimit,
		logger:  zerolog.Nop(),
		now:     time.Now,
		warn:    &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Enabled reports whether a store is configured.
func (m *Middleware) Enabled() bool {
	return m.store != nil
}

// Route returns the interceptor for a route using the named key builder.
// An empty name selects the generic full-URL builder.
func (m *Middleware) Route(builder string) *ReadThrough {
	return &ReadThrough{m: m, builder: builder}
}

// Drain blocks until every in-flight write-back has finished.
func (m *Middleware) Drain() {
	m.pending.Wait()
}

// ReadThrough is the per-route read-through interceptor.
type ReadThrough struct {
	m       *Middleware
	builder string
}

// Wrap implements intercept.Interceptor.
func (rt *ReadThrough) Wrap(next http.Handler) http.Handler {
	m := rt.m
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || m.store == nil {
			next.ServeHTTP(w, r)
			return
		}

		key, category := m.keys.BuildKey(r, rt.builder)

		entry, err := m.store.Get(r.Context(), key)
		switch {
		case err == nil:
			m.logger.Debug().Str("key", key).Msg("cache hit")
			writeEntry(w, entry)
			return
		case errors.Is(err, ErrCacheMiss), errors.Is(err, ErrInvalidEntry):
			// fall through to the handler and write back
		default:
			m.warn.Do(func() {
				m.logger.Warn().Err(err).Str("key", key).Msg("cache store unavailable, serving uncached")
			})
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Debug().Str("key", key).Str("category", string(category)).Msg("cache miss")
		w.Header().Set(HeaderCache, CacheMiss)

		rec := intercept.NewRecorder(w, m.maxBody)
		next.ServeHTTP(rec, r)

		outcome := rec.Outcome()
		if r.Context().Err() != nil || !outcome.Cacheable() || noStore(rec.Header()) {
			CacheWrites.WithLabelValues("skipped").Inc()
			return
		}

		m.writeBack(context.WithoutCancel(r.Context()), key, NewEntry(outcome, category, m.ttls.For(category), m.now()))
	})
}

// writeBack stores the entry without blocking the response. Failures are
// logged and counted only.
func (m *Middleware) writeBack(ctx context.Context, key string, entry *CacheEntry) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		if err := m.store.Set(ctx, key, entry); err != nil {
			CacheWrites.WithLabelValues("failed").Inc()
			m.warn.Do(func() {
				m.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
			})
			return
		}

		CacheWrites.WithLabelValues("stored").Inc()
		m.logger.Debug().
			Str("key", key).
			Dur("ttl", entry.TTL()).
			Msg("cached response")
	}()
}

func writeEntry(w http.ResponseWriter, entry *CacheEntry) {
	h := w.Header()
	h.Set(HeaderCache, CacheHit)
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}

	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Data)
}

// noStore honours handlers that opt out of shared caching.
func noStore(h http.Header) bool {
	cc := strings.ToLower(h.Get("Cache-Control"))
	return strings.Contains(cc, "no-store") || strings.Contains(cc, "private")
}
