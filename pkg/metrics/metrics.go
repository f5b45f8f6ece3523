// Package metrics provides the Prometheus registry, the /metrics handler and
// per-route request metrics for the gateway.
// Component metrics are defined in their respective packages (cache,
// ratelimit, upstream) to maintain modularity and avoid circular
// dependencies.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the gateway.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer exposes the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_http_requests_total",
		Help: "Total number of requests by route pattern, method and status",
	}, []string{"route", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketgate_http_request_duration_seconds",
		Help:    "Request duration by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Instrument records request count and latency labelled with the chi
// route pattern, so path parameters do not explode label cardinality.
// Requests that matched no route are labelled "unmatched".
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Metrics Documentation
//
// HTTP Metrics (pkg/metrics):
//   - marketgate_http_requests_total{route, method, status} (Counter)
//   - marketgate_http_request_duration_seconds{route} (Histogram)
//
// Cache Metrics (pkg/cache):
//   - marketgate_cache_hits_total (Counter): Cache hits
//   - marketgate_cache_misses_total (Counter): Cache misses
//   - marketgate_cache_errors_total{operation} (Counter): Store operation errors
//   - marketgate_cache_writes_total{result} (Counter): Write-backs by result (stored, skipped, failed)
//   - marketgate_cache_invalidated_keys_total (Counter): Keys removed by invalidation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - marketgate_ratelimit_decisions_total{policy, decision} (Counter): allowed, blocked, skipped, error
//   - marketgate_ratelimit_store_errors_total{policy} (Counter): Counter store errors (failed open)
//   - marketgate_failed_login_records (Gauge): Keys tracked by the failed-login tracker
//   - marketgate_failed_login_lockouts_total (Counter): Login requests rejected by lockout
//   - marketgate_failed_login_swept_total (Counter): Expired records removed by the sweeper
//
// Upstream Metrics (internal/upstream):
//   - marketgate_upstream_retries_total{error_class} (Counter): Retry attempts by error class
//   - marketgate_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(marketgate_cache_hits_total[5m])) /
//   (sum(rate(marketgate_cache_hits_total[5m])) + sum(rate(marketgate_cache_misses_total[5m])))
//
//   # Login Rejections
//   sum by (policy) (rate(marketgate_ratelimit_decisions_total{decision="blocked"}[5m]))
//
//   # Limiter Store Outage
//   rate(marketgate_ratelimit_store_errors_total[5m]) > 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, sum by (le, route) (rate(marketgate_http_request_duration_seconds_bucket[5m])))
