// Package metrics registers the gateway's Prometheus collectors, exposed
// unauthenticated at GET /metrics the same way the pack's service_layer
// example wires prometheus/client_golang behind promhttp.Handler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the gateway exports.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	RunsCreatedTotal    prometheus.Counter
	RunsFinishedTotal   *prometheus.CounterVec
	CommandsEnqueued    *prometheus.CounterVec
	ClientsConnected    prometheus.Gauge
	WebsocketConnected  prometheus.Gauge
	NotificationsSent   *prometheus.CounterVec
}

// New registers every collector against the default registry. Called once
// from main at startup.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewayd_http_requests_total",
			Help: "Total HTTP requests handled, by method, route, and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatewayd_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		RequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatewayd_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		RunsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatewayd_runs_created_total",
			Help: "Total runs created.",
		}),
		RunsFinishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewayd_runs_finished_total",
			Help: "Total runs that reached a terminal status, by status.",
		}, []string{"status"}),
		CommandsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewayd_commands_enqueued_total",
			Help: "Total commands enqueued onto a run, by kind.",
		}, []string{"kind"}),
		ClientsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatewayd_clients_online",
			Help: "Worker-host clients currently marked online or degraded.",
		}),
		WebsocketConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatewayd_websocket_connections",
			Help: "Live WebSocket subscriber connections.",
		}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewayd_notifications_sent_total",
			Help: "Notifications dispatched, by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
