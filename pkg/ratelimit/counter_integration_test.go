//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/marketgate/internal/testutil"
)

func TestRedisCounter_Integration_ConcurrentTake(t *testing.T) {
	client := testutil.StartRedisContainer(t)
	c := NewRedisCounter(client, WithRedisTimeout(5*time.Second))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.Take(ctx, "api:1.2.3.4", time.Minute, 20)
			if err == nil && ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, allowed)

	val, err := client.Get(ctx, KeyPrefix+"api:1.2.3.4").Int()
	require.NoError(t, err)
	assert.Equal(t, 20, val, "count is capped at the limit")
}

func TestRedisCounter_Integration_SharedAcrossLimiters(t *testing.T) {
	client := testutil.StartRedisContainer(t)

	// two gateway instances sharing one store
	p := Policy{Name: "auth", Window: time.Minute, Max: 3, Key: ByClient}
	a, err := NewLimiter(p, NewRedisCounter(client))
	require.NoError(t, err)
	b, err := NewLimiter(p, NewRedisCounter(client))
	require.NoError(t, err)

	ha := a.Wrap(&statusHandler{status: http.StatusOK})
	hb := b.Wrap(&statusHandler{status: http.StatusOK})

	do(ha, httptest.NewRequest(http.MethodGet, "/", nil))
	do(hb, httptest.NewRequest(http.MethodGet, "/", nil))
	do(ha, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, do(hb, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestRedisCounter_Integration_Expiry(t *testing.T) {
	client := testutil.StartRedisContainer(t)
	c := NewRedisCounter(client, WithRedisTimeout(5*time.Second))
	ctx := context.Background()

	_, _, err := c.Take(ctx, "k", time.Second, 1)
	require.NoError(t, err)
	_, allowed, _ := c.Take(ctx, "k", time.Second, 1)
	require.False(t, allowed)

	time.Sleep(1200 * time.Millisecond)

	w, allowed, err := c.Take(ctx, "k", time.Second, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, w.Count)
}
