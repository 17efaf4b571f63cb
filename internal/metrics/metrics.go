// Package metrics provides Prometheus instrumentation for the pairing
// engine: gauges for the seeker pool and active sessions, counters for
// matches and messages, and a histogram for time-to-match.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PoolSize tracks the current number of seekers in the pool index.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairloop_pool_size",
		Help: "Current number of seekers in the matching pool",
	})

	// ActiveSessions tracks the current number of matched sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairloop_active_sessions",
		Help: "Current number of matched sessions",
	})

	// MatchesTotal counts pairing outcomes, labeled "paired" or "race_lost".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairloop_matches_total",
		Help: "Total pairing attempts by outcome",
	}, []string{"outcome"})

	// MessagesTotal counts message sends, labeled "accepted", "rejected",
	// or "deduplicated".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairloop_messages_total",
		Help: "Total message sends by result",
	}, []string{"result"})

	// SessionsEndedTotal counts ended sessions by reason: "skip", "stop",
	// or "reaped".
	SessionsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairloop_sessions_ended_total",
		Help: "Total ended sessions by reason",
	}, []string{"reason"})

	// MatchDuration records the time from a participant entering the pool
	// to being bound into a session.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairloop_match_duration_seconds",
		Help:    "Time from seek start to session bind",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 15, 30, 60},
	})

	// GatewayConnections tracks active WebSocket connections on the gateway.
	GatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairloop_gateway_connections",
		Help: "Current number of active gateway WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		PoolSize,
		ActiveSessions,
		MatchesTotal,
		MessagesTotal,
		SessionsEndedTotal,
		MatchDuration,
		GatewayConnections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
