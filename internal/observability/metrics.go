package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	httpErrorsTotal        *prometheus.CounterVec
	webhooksTotal          *prometheus.CounterVec
	materializationsTotal  *prometheus.CounterVec
	materializationSeconds prometheus.Histogram
	notificationsTotal     *prometheus.CounterVec
	statusStreamClients    prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the grading service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assessment_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		webhooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_webhooks_total",
			Help: "Grading webhooks received, by reported status and outcome.",
		}, []string{"status", "outcome"})

		materializationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_materializations_total",
			Help: "Repository materializations, by outcome.",
		}, []string{"outcome"})

		materializationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assessment_materialization_seconds",
			Help:    "Time spent creating and pushing grading repositories.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		})

		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_notifications_total",
			Help: "Outbound notifications, by kind and delivery status.",
		}, []string{"kind", "status"})

		statusStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assessment_status_stream_clients",
			Help: "Websocket clients subscribed to submission status events.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			webhooksTotal,
			materializationsTotal,
			materializationSeconds,
			notificationsTotal,
			statusStreamClients,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// Webhooks exposes the counter of ingested grading webhooks.
func Webhooks() *prometheus.CounterVec {
	RegisterMetrics()
	return webhooksTotal
}

// Materializations exposes the counter of repository materializations.
func Materializations() *prometheus.CounterVec {
	RegisterMetrics()
	return materializationsTotal
}

// MaterializationDuration exposes the materialization latency histogram.
func MaterializationDuration() prometheus.Histogram {
	RegisterMetrics()
	return materializationSeconds
}

// Notifications exposes the counter of notification outcomes.
func Notifications() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

// StatusStreamClients exposes the gauge of connected status stream clients.
func StatusStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return statusStreamClients
}

// MetricsHandler serves the default registry in the Prometheus or OpenMetrics format.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}
