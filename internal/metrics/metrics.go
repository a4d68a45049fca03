// Package metrics holds the Prometheus collectors for agentchat.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Remote API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentchat_api_requests_total",
			Help: "Total requests to the agents API",
		},
		[]string{"op", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentchat_api_request_duration_seconds",
			Help:    "Agents API request duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)

	// Chat metrics
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentchat_sends_total",
			Help: "Messages sent to agents",
		},
		[]string{"outcome"}, // "ok", "failed" or "busy"
	)

	CacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentchat_cache_fallbacks_total",
			Help: "Reads served from the local cache after a remote failure",
		},
		[]string{"op"},
	)

	ThreadMigrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentchat_thread_migrations_total",
			Help: "Cached threads moved to their directory handle",
		},
	)

	// Ownership metrics
	OwnershipDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentchat_ownership_decisions_total",
			Help: "Agent ownership checks",
		},
		[]string{"result"}, // "owned" or "denied"
	)

	OwnershipBuildFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentchat_ownership_build_failures_total",
			Help: "Owned-agent set builds that failed closed",
		},
	)

	// Sync metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentchat_sync_runs_total",
			Help: "Cache sync runs",
		},
		[]string{"result"},
	)
)

// ObserveAPI records one remote API round trip. status 0 means no response
// was received.
func ObserveAPI(op string, status int, elapsed time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	APIRequestsTotal.WithLabelValues(op, code).Inc()
	APIRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
