package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/marketgate/internal/testutil"
)

func TestMemoryCounter_Take(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCounter(WithMemoryClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		w, allowed, err := c.Take(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, w.Count)
	}

	// blocked requests do not increment
	for i := 0; i < 5; i++ {
		w, allowed, err := c.Take(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, 3, w.Count)
	}

	// other keys are independent
	w, allowed, _ := c.Take(ctx, "other", time.Minute, 3)
	assert.True(t, allowed)
	assert.Equal(t, 1, w.Count)
}

func TestMemoryCounter_LazyReset(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCounter(WithMemoryClock(clock.Now))
	ctx := context.Background()

	_, _, _ = c.Take(ctx, "k", time.Minute, 1)
	_, allowed, _ := c.Take(ctx, "k", time.Minute, 1)
	require.False(t, allowed)

	clock.Advance(time.Minute)
	_, allowed, _ = c.Take(ctx, "k", time.Minute, 1)
	assert.False(t, allowed, "window is inclusive of its length")

	clock.Advance(time.Second)
	w, allowed, _ := c.Take(ctx, "k", time.Minute, 1)
	assert.True(t, allowed)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, clock.Now(), w.Start)
}

func TestMemoryCounter_Reset(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()

	_, _, _ = c.Take(ctx, "k", time.Minute, 1)
	require.Equal(t, 1, c.Len())
	require.NoError(t, c.Reset(ctx, "k"))
	assert.Zero(t, c.Len())
}

func TestMemoryCounter_Concurrent(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := c.Take(ctx, "k", time.Minute, 10); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestRedisCounter_Take(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	c := NewRedisCounter(client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		w, allowed, err := c.Take(ctx, "auth:1.2.3.4", time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, w.Count)
	}

	w, allowed, err := c.Take(ctx, "auth:1.2.3.4", time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, w.Count)

	val, err := mr.Get(KeyPrefix + "auth:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	ttl := mr.TTL(KeyPrefix + "auth:1.2.3.4")
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl = %v", ttl)
	assert.WithinDuration(t, time.Now().Add(time.Minute), w.ResetAt(), 2*time.Second)
}

func TestRedisCounter_WindowReset(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	c := NewRedisCounter(client)
	ctx := context.Background()

	_, _, _ = c.Take(ctx, "k", time.Minute, 1)
	_, allowed, _ := c.Take(ctx, "k", time.Minute, 1)
	require.False(t, allowed)

	mr.FastForward(61 * time.Second)

	w, allowed, err := c.Take(ctx, "k", time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, w.Count)
}

func TestRedisCounter_Reset(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	c := NewRedisCounter(client)
	ctx := context.Background()

	_, _, _ = c.Take(ctx, "k", time.Minute, 1)
	require.NoError(t, c.Reset(ctx, "k"))
	assert.False(t, mr.Exists(KeyPrefix+"k"))
}

func TestRedisCounter_Unavailable(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	c := NewRedisCounter(client, WithRedisTimeout(100*time.Millisecond))
	mr.Close()

	_, _, err := c.Take(context.Background(), "k", time.Minute, 1)
	assert.Error(t, err)
}

func TestRedisCounter_HungStore(t *testing.T) {
	client := testutil.NewRedisClient(t, testutil.StartHungRedis(t))
	c := NewRedisCounter(client, WithRedisTimeout(100*time.Millisecond))

	start := time.Now()
	_, _, err := c.Take(context.Background(), "k", time.Minute, 1)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewRedisCounter_Panic(t *testing.T) {
	assert.Panics(t, func() { NewRedisCounter(nil) })
}
