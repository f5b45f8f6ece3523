// Package cache provides the read-through response cache with a Redis
// backend.
//
// Cached routes pick a named key builder. A builder turns the request into
// a deterministic key from an allowlist of content-affecting parameters,
// in a fixed order and with defaults applied, so the same logical query
// always maps to one entry:
//
//	products:list:page=1:limit=20:category=all:sort=newest:status=active
//	deals:daily:day=2026-10-18:page=1:category=all
//
// Routes without a builder use the generic key "cache:" + request URI.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager and read-through middleware
//	manager := cache.NewManager(redisClient)
//	mw := cache.NewMiddleware(manager, cache.WithLogger(logger))
//
//	r.With(mw.Route(cache.BuilderProductList).Wrap).Get("/api/products", h)
//
// On a hit the stored body is replayed with X-Cache: HIT and the handler
// never runs. On a miss the handler runs, X-Cache: MISS is set and a 200
// response whose JSON body does not carry "success": false is stored in
// the background with the TTL of the builder's category.
//
// # Invalidation
//
//	inv := cache.NewInvalidator(manager, logger)
//	r.With(inv.After(cache.Patterns("products:*")).Wrap).Post("/api/products", h)
//
// Patterns are Redis glob patterns. Invalidation runs only after the
// mutation succeeded and completes before the response is returned.
//
// # Store Failures
//
// Every store round-trip is bounded by a short timeout. When Redis is
// unreachable the middleware serves requests uncached and logs a
// throttled warning; the cache never turns a store outage into a client
// error.
//
// # Metrics
//
//   - marketgate_cache_hits_total - Cache hits
//   - marketgate_cache_misses_total - Cache misses
//   - marketgate_cache_errors_total{operation} - Store operation errors
//   - marketgate_cache_writes_total{result} - Write-back results
//   - marketgate_cache_invalidated_keys_total - Keys removed by invalidation
package cache
