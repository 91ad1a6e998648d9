// ABOUTME: Prometheus metrics for the gateway's HTTP surface and agent lifecycle
// ABOUTME: Registered on the default registry and served at the configured metrics path

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solace_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solace_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// Agent lifecycle
	instancesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solace_agent_instances_started_total",
			Help: "Agent instances started",
		},
	)

	instancesStopped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solace_agent_instances_stopped_total",
			Help: "Agent instances stopped",
		},
	)

	vendorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solace_vendor_errors_total",
			Help: "Failed cloud agent calls",
		},
		[]string{"operation"},
	)

	textTurns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solace_text_turns_total",
			Help: "Text turns forwarded to agents",
		},
	)

	tokensMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solace_room_tokens_minted_total",
			Help: "Room tokens issued",
		},
	)

	// Relay
	callbacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solace_callbacks_total",
			Help: "Agent callbacks received by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	roomMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solace_room_members",
			Help: "Websocket members connected to rooms",
		},
	)

	slowMembersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solace_room_members_evicted_total",
			Help: "Room members disconnected because their buffer filled",
		},
	)
)
