package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrStoreUnavailable indicates the store could not be reached in time
	ErrStoreUnavailable = errors.New("cache store unavailable")
)

const (
	tracerName = "github.com/Sternrassler/marketgate/pkg/cache"

	// DefaultTimeout bounds every store round-trip.
	DefaultTimeout = 250 * time.Millisecond

	scanBatch = 500
)

// Store is the key-value store consulted by the read-through middleware
// and the invalidator.
type Store interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the per-operation store timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithTracerProvider configures OpenTelemetry tracing with the provided
// tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(m *Manager) {
		m.tracer = tp.Tracer(tracerName)
	}
}

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis   redis.UniversalClient
	timeout time.Duration
	tracer  trace.Tracer
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient redis.UniversalClient, opts ...ManagerOption) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	m := &Manager{
		redis:   redisClient,
		timeout: DefaultTimeout,
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !trace.SpanFromContext(ctx).IsRecording() {
		return ctx, nil
	}
	return m.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// storeErr maps client errors to ErrStoreUnavailable so callers can treat
// timeouts and connection failures alike.
func storeErr(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, ErrStoreUnavailable, err)
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key string) (entry *CacheEntry, err error) {
	ctx, span := m.startSpan(ctx, "cache.Get", attribute.String("cache.key", key))
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, storeErr("get", err)
	}

	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis owns expiry; this only guards against clock skew.
	if e.IsExpired() {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &e, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
// The entry will be automatically removed from Redis when it expires.
func (m *Manager) Set(ctx context.Context, key string, entry *CacheEntry) (err error) {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	ctx, span := m.startSpan(ctx, "cache.Set",
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
	)
	defer func() { endSpan(span, err) }()

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return storeErr("set", err)
	}

	return nil
}

// Delete removes cache entries by exact key.
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return storeErr("del", err)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern and returns
// the number of keys removed. Matching keys are collected with SCAN and
// removed with a single DEL.
func (m *Manager) DeletePattern(ctx context.Context, pattern string) (removed int64, err error) {
	ctx, span := m.startSpan(ctx, "cache.DeletePattern", attribute.String("cache.pattern", pattern))
	defer func() {
		if span != nil {
			span.SetAttributes(attribute.Int64("cache.removed", removed))
		}
		endSpan(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var keys []string
	iter := m.redis.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return 0, storeErr("scan", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	n, err := m.redis.Del(ctx, keys...).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return 0, storeErr("del", err)
	}

	return n, nil
}

// Ping checks store reachability within the store timeout.
func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.redis.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}
