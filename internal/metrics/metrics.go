// Package metrics holds the Prometheus collectors for the pool, host and orchestrator.
// Labels never carry request or session ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arena_pool_sessions",
		Help: "Current number of pooled sessions, by state (idle, in_use, creating).",
	}, []string{"state"})

	PoolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_pool_queue_depth",
		Help: "Number of acquisitions waiting for a session.",
	})

	PoolAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_pool_acquire_total",
		Help: "Session acquisitions, by outcome (reused, created, handoff, queue_timeout, error).",
	}, []string{"outcome"})

	PoolReclaimTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_pool_reclaim_total",
		Help: "Sessions closed by the pool, by reason (abandoned, idle_surplus, forced, reset_failed, crashed, host_restart).",
	}, []string{"reason"})

	PoolQueueWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_pool_queue_wait_seconds",
		Help:    "Time spent queued before a session or creation slot was granted.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
	})

	HostRestartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_host_restart_total",
		Help: "Host restarts, by reason (age, idle, disconnected, rotation, manual).",
	}, []string{"reason"})

	HostIdentityRotationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_host_identity_rotation_total",
		Help: "Identity profile rotations.",
	})

	InteractionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_interaction_total",
		Help: "Finished interactions, by outcome (completed, soft_timeout, error, exhausted, cancelled).",
	}, []string{"outcome"})

	ChallengeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_challenge_total",
		Help: "Challenges observed, by resolution (solver, human, exhausted).",
	}, []string{"resolution"})

	DecodedChunkTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_decoded_chunk_total",
		Help: "Decoded stream records, by slot and result (ok, malformed).",
	}, []string{"slot", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request latencies by method, route pattern and status. Streams count until the last event.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 300},
	}, []string{"method", "route", "status"})
)

func SetPoolSessions(idle, inUse, creating int) {
	PoolSessions.WithLabelValues("idle").Set(float64(idle))
	PoolSessions.WithLabelValues("in_use").Set(float64(inUse))
	PoolSessions.WithLabelValues("creating").Set(float64(creating))
}
