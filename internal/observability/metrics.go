package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "wa_sessions_connected", Help: "Sessions with a live connection"},
	)
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_session_transitions_total", Help: "Session status transitions"},
		[]string{"status"},
	)
	Messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_messages_total", Help: "Persisted messages"},
		[]string{"direction", "kind"},
	)
	DuplicateMessages = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "wa_inbound_duplicates_total", Help: "Inbound messages dropped as duplicates"},
	)
	SendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "wa_send_latency_seconds", Help: "Transport send latency"},
		[]string{"kind"},
	)
	TransportFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_transport_failures_total", Help: "Transport operation failures"},
		[]string{"operation"},
	)
	PersistenceRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "wa_persistence_retries_total", Help: "Database operations retried after a transient error"},
	)
	BroadcastEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_broadcast_events_total", Help: "Events published to realtime clients"},
		[]string{"type"},
	)
	BroadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "wa_broadcast_dropped_total", Help: "Events dropped because a client buffer was full"},
	)
	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "wa_ws_clients", Help: "Connected realtime clients"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SessionsConnected, SessionTransitions, Messages, DuplicateMessages, SendLatency,
		TransportFailures, PersistenceRetries, BroadcastEvents, BroadcastDropped, WebSocketClients,
	)
}
