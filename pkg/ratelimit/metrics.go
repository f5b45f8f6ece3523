package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for request limiting.
var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions by policy and result",
	}, []string{"policy", "decision"}) // "allowed", "blocked", "skipped", "error"

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_ratelimit_store_errors_total",
		Help: "Total number of counter store errors (requests let through)",
	}, []string{"policy"})

	failedLoginRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketgate_failed_login_records",
		Help: "Number of keys currently tracked by the failed-login tracker",
	})

	failedLoginLockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketgate_failed_login_lockouts_total",
		Help: "Total number of login requests rejected by the failed-login lockout",
	})

	failedLoginSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketgate_failed_login_swept_total",
		Help: "Total number of expired failed-login records removed by the sweeper",
	})
)
