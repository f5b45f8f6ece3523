// Package gateway assembles the request interception layer in front of the
// marketplace application: client identification, rate limiting, the
// read-through cache, post-write invalidation and the failed-login lockout,
// mounted on a chi router around a reverse proxy.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/marketgate/internal/config"
	"github.com/Sternrassler/marketgate/pkg/cache"
	"github.com/Sternrassler/marketgate/pkg/intercept"
	"github.com/Sternrassler/marketgate/pkg/logging"
	"github.com/Sternrassler/marketgate/pkg/metrics"
	"github.com/Sternrassler/marketgate/pkg/ratelimit"
)

// Pinger reports store reachability for the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds the gateway's collaborators.
type Options struct {
	Config *config.Config

	// Upstream serves every request that passes the interceptors.
	Upstream http.Handler

	// Cache is the read-through store; nil disables caching.
	Cache cache.Store

	// Pinger backs /ready; nil reports ready unconditionally.
	Pinger Pinger

	// Counter stores rate windows; nil uses an in-process counter.
	Counter ratelimit.Counter

	Logger zerolog.Logger
}

// Gateway is the assembled interception layer.
type Gateway struct {
	cfg    *config.Config
	router chi.Router
	logger zerolog.Logger
	pinger Pinger

	cache       *cache.Middleware
	invalidator *cache.Invalidator
	tracker     *ratelimit.FailedLoginTracker

	auth         *ratelimit.Limiter
	registration *ratelimit.Limiter
	api          *ratelimit.Limiter
	bulk         *ratelimit.Limiter
}

// New builds the gateway and its route table.
func New(opts Options) (*Gateway, error) {
	if opts.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("gateway: upstream handler is required")
	}

	cfg := opts.Config
	counter := opts.Counter
	if counter == nil {
		counter = ratelimit.NewMemoryCounter()
	}

	g := &Gateway{
		cfg:    cfg,
		logger: opts.Logger,
		pinger: opts.Pinger,
		cache: cache.NewMiddleware(opts.Cache,
			cache.WithTTLs(cfg.Cache.TTLs()),
			cache.WithMaxBodyBytes(cfg.Cache.MaxBodyBytes),
			cache.WithLogger(opts.Logger),
		),
		invalidator: cache.NewInvalidator(opts.Cache, opts.Logger),
		tracker: ratelimit.NewFailedLoginTracker(
			ratelimit.WithLoginWindow(cfg.FailedLogin.Window),
			ratelimit.WithLoginThreshold(cfg.FailedLogin.Threshold),
			ratelimit.WithSweepInterval(cfg.FailedLogin.SweepInterval),
			ratelimit.WithLoginDisabled(cfg.RateLimit.Disabled),
			ratelimit.WithLoginLogger(opts.Logger),
		),
	}

	role := ratelimit.RoleFromHeader(cfg.RoleHeader)
	limiters := []struct {
		dst    **ratelimit.Limiter
		policy ratelimit.Policy
	}{
		{&g.auth, cfg.RateLimit.Auth.Apply(ratelimit.AuthPolicy())},
		{&g.registration, cfg.RateLimit.Registration.Apply(ratelimit.RegistrationPolicy())},
		{&g.api, cfg.RateLimit.API.Apply(ratelimit.APIPolicy())},
		{&g.bulk, cfg.RateLimit.Bulk.Apply(ratelimit.BulkPolicy(role, cfg.ElevatedRole))},
	}
	for _, l := range limiters {
		limiter, err := ratelimit.NewLimiter(l.policy, counter,
			ratelimit.WithDisabled(cfg.RateLimit.Disabled),
			ratelimit.WithLogger(opts.Logger),
		)
		if err != nil {
			return nil, err
		}
		*l.dst = limiter
	}

	if cfg.RateLimit.Disabled {
		g.logger.Warn().Msg("rate limiting is DISABLED; this must only be used for load testing")
	}

	g.router = g.routes(opts.Upstream)
	return g, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// Start runs background tasks until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	g.tracker.StartSweeper(ctx)
}

// Drain waits for in-flight cache write-backs.
func (g *Gateway) Drain() {
	g.cache.Drain()
}

// Tracker returns the failed-login tracker.
func (g *Gateway) Tracker() *ratelimit.FailedLoginTracker {
	return g.tracker
}

func (g *Gateway) routes(upstream http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.AccessLog(g.logger))
	r.Use(metrics.Instrument)
	// unrouted methods on known paths go upstream rather than 405
	r.MethodNotAllowed(upstream.ServeHTTP)

	r.Get("/health", g.health)
	r.Get("/ready", g.ready)
	r.Handle("/metrics", metrics.Handler())
	if g.cfg.AdminToken != "" {
		r.Delete("/_gate/cache", g.purgeCache)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(g.cfg.Upstream.Timeout))
		api.MethodNotAllowed(chain(g.api)(upstream).ServeHTTP)

		api.With(chain(g.auth, g.tracker)).Post("/auth/login", upstream.ServeHTTP)
		api.With(chain(g.registration)).Post("/auth/register", upstream.ServeHTTP)

		api.Group(func(r chi.Router) {
			r.Use(chain(g.api))

			r.With(g.read(cache.BuilderProductList)).Get("/products", upstream.ServeHTTP)
			r.With(g.read(cache.BuilderProductSearch)).Get("/products/search", upstream.ServeHTTP)
			r.With(g.read(cache.BuilderProductDetail)).Get("/products/{id}", upstream.ServeHTTP)
			g.mutations(r, upstream, []string{"/products", "/products/{id}"}, "products:*", "deals:*")

			r.With(g.read(cache.BuilderMerchantList)).Get("/merchants", upstream.ServeHTTP)
			r.With(g.read("")).Get("/merchants/{id}", upstream.ServeHTTP)
			g.mutations(r, upstream, []string{"/merchants", "/merchants/{id}"}, "merchants:*", "cache:/api/merchants*", "products:*")

			r.With(g.read(cache.BuilderOrderList)).Get("/orders", upstream.ServeHTTP)
			g.mutations(r, upstream, []string{"/orders", "/orders/{id}"}, "orders:*", "products:*")

			r.With(g.read(cache.BuilderDailyDeals)).Get("/deals/daily", upstream.ServeHTTP)
			r.With(g.read(cache.BuilderCategories)).Get("/categories", upstream.ServeHTTP)
			g.mutations(r, upstream, []string{"/admin/categories", "/admin/categories/{id}"}, "categories:*", "products:*")

			r.With(chain(g.bulk, g.invalidator.After(cache.Patterns("products:*", "deals:*")))).
				Post("/admin/products/bulk", upstream.ServeHTTP)

			r.Handle("/*", upstream)
		})
	})

	r.Handle("/*", upstream)
	return r
}

// read mounts the read-through cache with the named key builder.
func (g *Gateway) read(builder string) func(http.Handler) http.Handler {
	return chain(g.cache.Route(builder))
}

// mutations mounts the write methods of each path behind invalidation of
// patterns.
func (g *Gateway) mutations(r chi.Router, upstream http.Handler, paths []string, patterns ...string) {
	after := chain(g.invalidator.After(cache.Patterns(patterns...)))
	for _, path := range paths {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
			r.With(after).Method(method, path, upstream)
		}
	}
}

func chain(stages ...intercept.Interceptor) func(http.Handler) http.Handler {
	return intercept.New(stages...).Middleware()
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) ready(w http.ResponseWriter, r *http.Request) {
	if g.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		if err := g.pinger.Ping(ctx); err != nil {
			g.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "redis": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type purgeResponse struct {
	Success bool  `json:"success"`
	Removed int64 `json:"removed"`
}

// purgeCache removes cache entries by pattern. It requires the admin
// token as a bearer credential.
func (g *Gateway) purgeCache(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.AdminToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
		return
	}

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "pattern is required"})
		return
	}

	removed := g.invalidator.Invalidate(r.Context(), pattern)
	g.logger.Info().Str("pattern", pattern).Int64("removed", removed).Msg("cache purged")
	writeJSON(w, http.StatusOK, purgeResponse{Success: true, Removed: removed})
}
