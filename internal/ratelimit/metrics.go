package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatguard",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by limit type, decision and reason",
		},
		[]string{"limit_type", "decision", "reason"},
	)

	checkLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatguard",
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Time spent evaluating a request against its limit",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"limit_type"},
	)

	violations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatguard",
			Subsystem: "ratelimit",
			Name:      "violations_total",
			Help:      "Allowed-to-denied transitions recorded as violations",
		},
		[]string{"limit_type"},
	)

	escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatguard",
			Subsystem: "ratelimit",
			Name:      "escalations_total",
			Help:      "Identifiers blacklisted automatically for repeated violations",
		},
	)

	// Alert on any sustained rate here: requests are being admitted unchecked
	storeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatguard",
			Subsystem: "ratelimit",
			Name:      "store_failures_total",
			Help:      "Store errors that caused a fail-open admission",
		},
		[]string{"operation"},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatguard",
			Subsystem: "ratelimit",
			Name:      "store_breaker_state",
			Help:      "Store circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	redisPool = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatguard",
			Subsystem: "ratelimit_redis",
			Name:      "connection_pool",
			Help:      "Redis connection pool counters",
		},
		[]string{"state"},
	)
)

// ObservePoolStats publishes a Redis pool snapshot, called from the health probe
func ObservePoolStats(stats *redis.PoolStats) {
	if stats == nil {
		return
	}
	redisPool.WithLabelValues("total").Set(float64(stats.TotalConns))
	redisPool.WithLabelValues("idle").Set(float64(stats.IdleConns))
	redisPool.WithLabelValues("stale").Set(float64(stats.StaleConns))
	redisPool.WithLabelValues("timeouts").Set(float64(stats.Timeouts))
}
