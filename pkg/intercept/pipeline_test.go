package intercept

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tag(name string, trail *[]string) Interceptor {
	return Func(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*trail = append(*trail, name)
			next.ServeHTTP(w, r)
		})
	})
}

func TestPipeline_Order(t *testing.T) {
	var trail []string

	h := New(tag("identify", &trail), nil, tag("limit", &trail)).
		Use(tag("cache", &trail)).
		ThenFunc(func(w http.ResponseWriter, r *http.Request) {
			trail = append(trail, "handler")
		})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"identify", "limit", "cache", "handler"}, trail)
}

func TestPipeline_Len(t *testing.T) {
	var trail []string
	p := New(nil, tag("a", &trail))
	assert.Equal(t, 1, p.Len())
}

func TestPipeline_ShortCircuit(t *testing.T) {
	reject := Func(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	})

	called := false
	h := New(reject).ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPipeline_Middleware(t *testing.T) {
	var trail []string
	mw := New(tag("outer", &trail)).Middleware()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trail = append(trail, "inner")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, trail)
}
