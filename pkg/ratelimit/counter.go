package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter stores rate windows. Take counts one request for key against
// limit: it opens a new window when none exists or the current one has
// expired, and increments only while the count is below limit, so a
// blocked key's count stays capped.
type Counter interface {
	Take(ctx context.Context, key string, length time.Duration, limit int) (w Window, allowed bool, err error)
	Reset(ctx context.Context, key string) error
}

// MemoryCounter keeps windows in a process-local map. Windows expire
// lazily on their next access.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*Window
	now     func() time.Time
}

// MemoryOption configures a MemoryCounter.
type MemoryOption func(*MemoryCounter)

// WithMemoryClock sets the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCounter) {
		c.now = now
	}
}

// NewMemoryCounter creates an empty in-process counter.
func NewMemoryCounter(opts ...MemoryOption) *MemoryCounter {
	c := &MemoryCounter{
		windows: make(map[string]*Window),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Take implements Counter.
func (c *MemoryCounter) Take(_ context.Context, key string, length time.Duration, limit int) (Window, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || w.IsExpired(now) {
		w = &Window{Key: key, Start: now, Length: length}
		c.windows[key] = w
	}

	if w.Count >= limit {
		return *w, false, nil
	}
	w.Count++
	return *w, true, nil
}

// Reset implements Counter.
func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, key)
	return nil
}

// Len returns the number of tracked windows, expired ones included.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

// KeyPrefix namespaces rate limit counters in Redis.
const KeyPrefix = "ratelimit:"

// takeScript increments the window counter unless it reached the limit and
// sets the window expiry on the first hit. Returns {count, pttl, allowed}.
var takeScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local allowed = 0
if count < limit then
  count = redis.call('INCR', KEYS[1])
  allowed = 1
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl, allowed}
`)

// RedisCounter keeps windows in Redis so that every gateway instance
// enforces one shared limit. Expiry is owned by Redis.
type RedisCounter struct {
	redis   redis.UniversalClient
	timeout time.Duration
	now     func() time.Time
}

// RedisOption configures a RedisCounter.
type RedisOption func(*RedisCounter)

// WithRedisTimeout bounds each counter round-trip.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(c *RedisCounter) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client redis.UniversalClient, opts ...RedisOption) *RedisCounter {
	if client == nil {
		panic("redis client cannot be nil")
	}
	c := &RedisCounter{
		redis:   client,
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Take implements Counter.
func (c *RedisCounter) Take(ctx context.Context, key string, length time.Duration, limit int) (Window, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := takeScript.Run(ctx, c.redis, []string{KeyPrefix + key}, length.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("take %s: %w", key, err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("take %s: unexpected script reply %v", key, res)
	}

	remaining := time.Duration(res[1]) * time.Millisecond
	w := Window{
		Key:    key,
		Count:  int(res[0]),
		Start:  c.now().Add(remaining - length),
		Length: length,
	}
	return w, res[2] == 1, nil
}

// Reset implements Counter.
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.redis.Del(ctx, KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}
