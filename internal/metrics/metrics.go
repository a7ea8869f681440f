package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Authenticated websocket connections currently open",
		},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_inbound_events_total",
			Help: "Client events received, by event name",
		},
		[]string{"event"},
	)

	RelayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_relay_failures_total",
			Help: "Failed calls to the chat and message services",
		},
		[]string{"op"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_broadcasts_total",
			Help: "Room broadcasts issued, by outbound event",
		},
		[]string{"event"},
	)

	EventLogMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_eventlog_messages_total",
			Help: "Change events consumed from the event log",
		},
		[]string{"topic", "result"}, // result: "ok" or "skipped"
	)

	SlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_slow_consumers_dropped_total",
			Help: "Connections closed because their send buffer was full",
		},
	)
)
