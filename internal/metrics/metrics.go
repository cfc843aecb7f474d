// Package metrics provides Prometheus metrics for the studio.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the studio. Each instance owns its registry, so several can
// coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Chat metrics
	ChatSubmissionsTotal *prometheus.CounterVec
	ChatFragmentsTotal   prometheus.Counter
	ChatStreamsInFlight  prometheus.Gauge
	ChatStreamDuration   *prometheus.HistogramVec

	// Image metrics
	ImageRequestsTotal   *prometheus.CounterVec
	ImageRequestDuration prometheus.Histogram

	ConversationsActive prometheus.Gauge
}

// NewMetrics creates and registers all studio metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChatSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xaistudio_chat_submissions_total",
				Help: "Total number of chat submissions by outcome (accepted, empty, busy)",
			},
			[]string{"outcome"},
		),
		ChatFragmentsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xaistudio_chat_fragments_total",
				Help: "Total number of streamed text fragments applied to conversations",
			},
		),
		ChatStreamsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xaistudio_chat_streams_in_flight",
				Help: "Number of replies currently being streamed",
			},
		),
		ChatStreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xaistudio_chat_stream_duration_seconds",
				Help:    "Duration of streamed replies in seconds by status",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"status"},
		),
		ImageRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xaistudio_image_requests_total",
				Help: "Total number of image requests by terminal status",
			},
			[]string{"status"},
		),
		ImageRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xaistudio_image_request_duration_seconds",
				Help:    "Duration of image requests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		ConversationsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xaistudio_conversations_active",
				Help: "Number of conversations held in memory",
			},
		),
	}
}

// RecordChatStream records a finished reply stream.
func (m *Metrics) RecordChatStream(status string, duration time.Duration) {
	m.ChatStreamDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordImageRequest records a finished image request.
func (m *Metrics) RecordImageRequest(status string, duration time.Duration) {
	m.ImageRequestsTotal.WithLabelValues(status).Inc()
	m.ImageRequestDuration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
