package testutil

import (
	"net"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedis starts an in-memory Redis server and a client connected to it.
// Both are closed when the test ends.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	return mr, NewRedisClient(t, mr.Addr())
}

// NewRedisClient returns a client for addr configured like the gateway's:
// context deadlines bound every call. Client retries are disabled so tests
// that stop the server observe failures immediately.
func NewRedisClient(t testing.TB, addr string) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// StartHungRedis listens on a local port, accepts connections and never
// answers, simulating a Redis that stopped responding. It returns the
// listener address.
func StartHungRedis(t testing.TB) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})

	return ln.Addr().String()
}
