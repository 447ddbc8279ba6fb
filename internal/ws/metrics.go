package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	metricActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradewire_ws_active_connections",
		Help: "Current number of active WebSocket connections.",
	})
	metricConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradewire_ws_connections_total",
		Help: "Total number of WebSocket connections accepted.",
	})
	metricDisconnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradewire_ws_disconnections_total",
		Help: "Total number of WebSocket connections closed.",
	})
	metricMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradewire_ws_messages_sent_total",
		Help: "Total number of envelopes written to client sockets.",
	})
	metricMessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradewire_ws_messages_dropped_total",
		Help: "Total number of envelopes evicted from full send queues.",
	})
	metricPublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradewire_ws_publish_latency_seconds",
		Help:    "Latency of fanning a published event out to local sessions.",
		Buckets: prometheus.DefBuckets,
	})
	metricBusForwardFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradewire_ws_bus_forward_failures_total",
		Help: "Total number of events that could not be forwarded to the bus.",
	})
	metricHeartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradewire_ws_heartbeat_timeouts_total",
		Help: "Total number of sessions pruned for missing heartbeats.",
	})
)

func init() {
	prometheus.MustRegister(
		metricActiveConnections,
		metricConnectionsTotal,
		metricDisconnectionsTotal,
		metricMessagesSent,
		metricMessagesDropped,
		metricPublishLatency,
		metricBusForwardFailures,
		metricHeartbeatTimeouts,
	)
}
