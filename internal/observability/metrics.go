package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	chatConnectionsActive prometheus.Gauge
	chatMessagesSent      *prometheus.CounterVec

	notificationsPublished *prometheus.CounterVec
	sseClientsActive       prometheus.Gauge

	syncSessionsActive   prometheus.Gauge
	realtimeSubsActive   prometheus.Gauge
	realtimeEventsTotal  *prometheus.CounterVec
	realtimeDroppedTotal *prometheus.CounterVec
	realtimeAlertsTotal  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karya_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "karya_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karya_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		chatConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "karya_chat_connections_active",
			Help: "Number of open chat websocket connections.",
		})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karya_chat_messages_sent_total",
			Help: "Chat messages accepted for delivery, by type.",
		}, []string{"type"})

		notificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karya_notifications_published_total",
			Help: "Notifications published to users, by type.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "karya_sse_clients_active",
			Help: "Number of connected notification stream clients.",
		})

		syncSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "karya_sync_sessions_active",
			Help: "Number of live viewer sync sessions.",
		})

		realtimeSubsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "karya_realtime_subscriptions_active",
			Help: "Number of open change-feed subscriptions.",
		})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karya_realtime_events_reconciled_total",
			Help: "Change events applied to session caches, by table and result.",
		}, []string{"table", "result"})

		realtimeDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karya_realtime_events_dropped_total",
			Help: "Change events dropped before reconciliation, by reason.",
		}, []string{"reason"})

		realtimeAlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "karya_realtime_alerts_dispatched_total",
			Help: "Alerts forwarded to delivery sinks, by kind.",
		}, []string{"kind"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			chatConnectionsActive, chatMessagesSent,
			notificationsPublished, sseClientsActive,
			syncSessionsActive, realtimeSubsActive,
			realtimeEventsTotal, realtimeDroppedTotal, realtimeAlertsTotal,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ChatConnectionsActive exposes the websocket connection gauge.
func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnectionsActive
}

// ChatMessagesSent exposes the sent-message counter.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// NotificationsPublishedTotal exposes the published-notification counter.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublished
}

// SSEClientsActive exposes the notification stream client gauge.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// SyncSessionsActive exposes the live session gauge.
func SyncSessionsActive() prometheus.Gauge {
	RegisterMetrics()
	return syncSessionsActive
}

// RealtimeSubscriptionsActive exposes the open subscription gauge.
func RealtimeSubscriptionsActive() prometheus.Gauge {
	RegisterMetrics()
	return realtimeSubsActive
}

// RealtimeEventsReconciled exposes the reconciled-event counter.
func RealtimeEventsReconciled() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimeEventsDropped exposes the dropped-event counter.
func RealtimeEventsDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDroppedTotal
}

// RealtimeAlertsDispatched exposes the dispatched-alert counter.
func RealtimeAlertsDispatched() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeAlertsTotal
}
