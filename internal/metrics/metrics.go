// Package metrics exposes the agent runtime's Prometheus collectors:
// connection lifecycle, receive-pipeline throughput, crypto/handshake
// outcomes, and signaling stream state. Adapted from the teacher's
// internal/metrics package (same promauto/Registry shape), retargeted
// from DID/blockchain counters to channel-agent counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chanagent"

// Registry is the registry every collector below is registered against.
// A dedicated registry (rather than prometheus.DefaultRegisterer) lets an
// embedding host run multiple agent instances without metric collisions.
var Registry = prometheus.NewRegistry()

var (
	ConnectsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connects_total",
			Help:      "Total connect attempts by outcome",
		},
		[]string{"outcome"}, // success, config_error, handshake_failed, already_connected, transport_error
	)

	DisconnectsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "disconnects_total",
			Help:      "Total disconnect calls",
		},
	)

	ActiveAgentsGauge = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "active_agents",
			Help:      "Size of the last observed active-agent set",
		},
	)

	ReceiveBatchesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receive",
			Name:      "batches_total",
			Help:      "Total receive pulls by outcome",
		},
		[]string{"outcome"}, // success, transport_error
	)

	ReceiveEventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receive",
			Name:      "events_total",
			Help:      "Total events delivered",
		},
		[]string{"kind"}, // durable, ephemeral
	)

	ReceiveCursorGlobal = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "receive",
			Name:      "cursor_global_offset",
			Help:      "Current global offset of the receive cursor",
		},
	)

	HandshakeRequestsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "password_requests_total",
			Help:      "Total PASSWORD_REQUEST broadcasts sent",
		},
	)

	HandshakeRepliesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "password_replies_total",
			Help:      "Total PASSWORD_REPLY messages sent or consumed",
		},
		[]string{"direction"}, // sent, consumed
	)

	CryptoDecryptFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "decrypt_failures_total",
			Help:      "Total AEAD/RSA decrypt failures (events dropped)",
		},
	)

	SignalingStreamsGauge = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "streams",
			Help:      "Number of signaling streams by state",
		},
		[]string{"state"}, // new, offered, answered, connected, failed, closed
	)
)

// Handler returns the HTTP handler serving this package's registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer starts a standalone metrics HTTP server. Blocks until the
// server returns an error (including on graceful Shutdown from elsewhere).
func StartServer(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	return http.ListenAndServe(addr, mux)
}
