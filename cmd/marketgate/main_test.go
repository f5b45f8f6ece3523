package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/marketgate/internal/config"
	"github.com/Sternrassler/marketgate/internal/testutil"
	"github.com/Sternrassler/marketgate/pkg/cache"
)

func loadConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	return cfg
}

func TestBuild_WithRedis(t *testing.T) {
	mr, _ := testutil.NewRedis(t)
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	cfg := loadConfig(t, map[string]string{
		"UPSTREAM_URL":     upstream.URL(),
		"REDIS_URL":        "redis://" + mr.Addr(),
		"RATE_LIMIT_STORE": "redis",
	})

	gw, cleanup, err := build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	for _, want := range []string{cache.CacheMiss, cache.CacheHit} {
		rec := httptest.NewRecorder()
		gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/categories", nil))
		gw.Drain()

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, rec.Header().Get(cache.HeaderCache))
	}
	assert.Equal(t, 1, upstream.Count(http.MethodGet, "/api/categories"))

	keys := mr.Keys()
	assert.Contains(t, keys, "categories:all")
	assert.Contains(t, keys, "ratelimit:api:192.0.2.1")

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuild_WithoutRedis(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	cfg := loadConfig(t, map[string]string{
		"UPSTREAM_URL":  upstream.URL(),
		"CACHE_ENABLED": "false",
	})
	require.False(t, cfg.UsesRedis())

	gw, cleanup, err := build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/categories", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(cache.HeaderCache))

	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuild_RedisUnreachable(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	mr, _ := testutil.NewRedis(t)
	addr := mr.Addr()
	mr.Close()

	cfg := loadConfig(t, map[string]string{
		"UPSTREAM_URL": upstream.URL(),
		"REDIS_URL":    addr,
	})

	gw, cleanup, err := build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuild_RedisHung(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	cfg := loadConfig(t, map[string]string{
		"UPSTREAM_URL":     upstream.URL(),
		"REDIS_URL":        testutil.StartHungRedis(t),
		"RATE_LIMIT_STORE": "redis",
		"CACHE_TIMEOUT":    "100ms",
	})

	gw, cleanup, err := build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/products", nil),
		httptest.NewRequest(http.MethodPut, "/api/products/1", nil),
	} {
		start := time.Now()
		rec := httptest.NewRecorder()
		gw.ServeHTTP(rec, req)
		gw.Drain()

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(cache.HeaderCache))
		// read-through, counter and invalidation each bounded by CACHE_TIMEOUT
		assert.Less(t, time.Since(start), 2*time.Second, req.Method)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	cfg := loadConfig(t, map[string]string{
		"UPSTREAM_URL":  upstream.URL(),
		"CACHE_ENABLED": "false",
		"PORT":          "0",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}
