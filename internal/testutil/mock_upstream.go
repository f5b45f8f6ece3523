// Package testutil provides testing utilities for marketgate.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable stand-in for the marketplace application.
// It counts requests per "METHOD path" so tests can assert whether a
// request reached the handler or was answered by an interceptor.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int

	// LastRequestHeader is the header set of the most recent request
	LastRequestHeader http.Header
}

// NewMockUpstream starts a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(mock)
	return mock
}

// ServeHTTP dispatches to the handler registered for the request, counting
// the call. It lets the mock be used in-process without the HTTP server.
func (m *MockUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path

	m.mu.Lock()
	m.counts[route]++
	m.LastRequestHeader = r.Header.Clone()
	handler, exists := m.handlers[route]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"success":true}`))
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a method and path.
func (m *MockUpstream) SetHandler(method, path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+" "+path] = handler
}

// SetResponse configures a simple response for a method and path.
func (m *MockUpstream) SetResponse(method, path string, resp MockResponse) {
	m.SetHandler(method, path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// Count returns how many times method+path was served.
func (m *MockUpstream) Count(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[method+" "+path]
}

// JSON creates a JSON response with the given status and body.
func JSON(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewLoginFailedResponse creates a 401 response for a rejected credential.
func NewLoginFailedResponse() MockResponse {
	return JSON(http.StatusUnauthorized, `{"success":false,"error":"Invalid email or password"}`)
}

// NewLoginSucceededResponse creates a 200 response for an accepted credential.
func NewLoginSucceededResponse() MockResponse {
	return JSON(http.StatusOK, `{"success":true,"token":"t"}`)
}

// NewAccountLockedResponse creates the 423 produced by the upstream
// authorization check.
func NewAccountLockedResponse() MockResponse {
	return JSON(http.StatusLocked, `{"success":false,"error":"Account locked"}`)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return JSON(http.StatusInternalServerError, `{"success":false,"error":"Internal server error"}`)
}
