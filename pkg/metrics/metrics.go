package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the chat service.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	MessagesSent      *prometheus.CounterVec
	MessagesForwarded prometheus.Counter
	ReactionsToggled  prometheus.Counter
	ReceiptsMarked    *prometheus.CounterVec

	CallsInitiated *prometheus.CounterVec
	CallsEnded     *prometheus.CounterVec
	CallDuration   prometheus.Histogram

	WSConnections prometheus.Gauge
}

// New creates and registers the service metrics.
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total HTTP requests by method, path and status",
			ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "path"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chat_messages_sent_total",
			Help:        "Messages persisted, by message type",
			ConstLabels: labels,
		}, []string{"type"}),
		MessagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "chat_messages_forwarded_total",
			Help:        "Successful per-target message forwards",
			ConstLabels: labels,
		}),
		ReactionsToggled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "chat_reactions_toggled_total",
			Help:        "Reaction add/remove toggles",
			ConstLabels: labels,
		}),
		ReceiptsMarked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chat_receipts_marked_total",
			Help:        "Delivery/read receipt markings, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		CallsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chat_calls_initiated_total",
			Help:        "Calls initiated, by call type",
			ConstLabels: labels,
		}, []string{"type"}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "chat_calls_ended_total",
			Help:        "Calls ended, by end reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "chat_call_duration_seconds",
			Help:        "Answered call durations",
			ConstLabels: labels,
			Buckets:     []float64{10, 30, 60, 180, 600, 1800, 3600},
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "chat_ws_connections",
			Help:        "Currently open WebSocket connections",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MessagesSent,
		m.MessagesForwarded,
		m.ReactionsToggled,
		m.ReceiptsMarked,
		m.CallsInitiated,
		m.CallsEnded,
		m.CallDuration,
		m.WSConnections,
	)

	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
