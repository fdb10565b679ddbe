// Package metrics provides Prometheus instrumentation for the room service:
// counters for room lifecycle and message throughput, a gauge for realtime
// subscribers, and a histogram for message append latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoomsCreated counts rooms created.
	RoomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vanish_rooms_created_total",
		Help: "Total number of rooms created",
	})

	// RoomsDestroyed counts explicit room destructions (TTL expiry is not
	// observable from here; the store reaps those keys itself).
	RoomsDestroyed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vanish_rooms_destroyed_total",
		Help: "Total number of rooms explicitly destroyed",
	})

	// JoinsTotal counts admission attempts by outcome: "ok", "full",
	// "not_found".
	JoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vanish_joins_total",
		Help: "Total number of room admission attempts",
	}, []string{"outcome"})

	// MessagesTotal counts messages appended to rooms.
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vanish_messages_total",
		Help: "Total number of messages posted",
	})

	// RealtimeConnections tracks the current number of WebSocket
	// subscribers attached to room channels.
	RealtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vanish_realtime_connections",
		Help: "Current number of realtime subscribers",
	})

	// AppendLatency records message append latency in seconds.
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vanish_message_append_latency_seconds",
		Help:    "Message append latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		RoomsCreated,
		RoomsDestroyed,
		JoinsTotal,
		MessagesTotal,
		RealtimeConnections,
		AppendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
