package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store reads that returned a live entry
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketgate_cache_hits_total",
			Help: "Total number of read-through cache hits",
		},
	)

	// CacheMisses tracks store reads that found nothing
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketgate_cache_misses_total",
			Help: "Total number of read-through cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketgate_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "scan", "delete"
	)

	// CacheWrites tracks write-back attempts after a miss
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketgate_cache_writes_total",
			Help: "Total number of cache write-backs by result",
		},
		[]string{"result"}, // "stored", "skipped", "failed"
	)

	// InvalidatedKeys tracks keys removed by pattern invalidation
	InvalidatedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketgate_cache_invalidated_keys_total",
			Help: "Total number of cache keys removed by invalidation",
		},
	)
)
