// Package metrics declares the Prometheus metrics exported by a joint process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Naming convention: namespace_subsystem_name
// - namespace: injoint (application-level grouping)
// - subsystem: client, room, action, circuit_breaker, rate_limit
// - name: specific metric (connections_active, events_total, etc.)

var (
	// ActiveClients tracks the current number of attached clients.
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "injoint",
		Subsystem: "client",
		Name:      "connections_active",
		Help:      "Current number of attached clients",
	})

	// ActiveRooms tracks the current number of rooms with at least one member.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "injoint",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "injoint",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// ActionsDispatched tracks the total number of actions dispatched to reducers.
	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injoint",
		Subsystem: "action",
		Name:      "dispatched_total",
		Help:      "Total actions dispatched to reducers",
	}, []string{"action", "status"})

	// ActionDispatchDuration tracks reducer dispatch latency.
	ActionDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "injoint",
		Subsystem: "action",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent inside a reducer's Apply call",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"action"})

	// CircuitBreakerState tracks the current state of a room's reducer breaker.
	// 0: Closed, 1: Half-Open, 2: Open (matches sony/gobreaker.State ordering).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "injoint",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a room's reducer circuit breaker (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"room_id"})

	// CircuitBreakerRejections tracks dispatches rejected by an open breaker.
	CircuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injoint",
		Subsystem: "circuit_breaker",
		Name:      "rejections_total",
		Help:      "Total dispatch attempts rejected by an open circuit breaker",
	}, []string{"room_id"})

	// RateLimitExceeded tracks the total number of requests that exceeded a rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injoint",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"scope", "reason"})

	// RateLimitRequests tracks the total number of requests checked against a limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "injoint",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"scope"})
)

// IncConnection records a newly attached client.
func IncConnection() {
	ActiveClients.Inc()
}

// DecConnection records a detached client.
func DecConnection() {
	ActiveClients.Dec()
}
