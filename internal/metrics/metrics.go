package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for ustream sessions. It
// implements ustream.Collector.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	activeSessions    prometheus.Gauge
	reconnectsTotal   *prometheus.CounterVec
	segmentsPublished prometheus.Counter
	segmentsFetched   *prometheus.CounterVec
	bytesFetched      *prometheus.CounterVec
	segmentsFailed    *prometheus.CounterVec
	segmentsSkipped   prometheus.Counter
	requestsTotal     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ustream_sessions_started_total",
			Help: "Total number of control sessions started",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ustream_active_sessions",
			Help: "Number of control sessions not yet closed",
		}),
		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ustream_reconnects_total",
			Help: "Total number of control channel reconnects by reason",
		}, []string{"reason"}),
		segmentsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ustream_segments_published_total",
			Help: "Total number of segments published by control channels",
		}),
		segmentsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ustream_segments_fetched_total",
			Help: "Total number of segments downloaded from the CDN",
		}, []string{"content_type"}),
		bytesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ustream_segment_bytes_total",
			Help: "Total number of segment bytes downloaded from the CDN",
		}, []string{"content_type"}),
		segmentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ustream_segments_failed_total",
			Help: "Total number of segments skipped after failed downloads",
		}, []string{"content_type"}),
		segmentsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ustream_segments_discarded_total",
			Help: "Total number of segments discarded below the watermark",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ustream_http_requests_total",
			Help: "Total number of HTTP requests by status code",
		}, []string{"code"}),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.activeSessions,
		m.reconnectsTotal,
		m.segmentsPublished,
		m.segmentsFetched,
		m.bytesFetched,
		m.segmentsFailed,
		m.segmentsSkipped,
		m.requestsTotal,
	)

	return m
}

func (m *Metrics) SessionStarted() {
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	m.activeSessions.Dec()
}

func (m *Metrics) Reconnected(reason string) {
	m.reconnectsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SegmentsPublished(n int) {
	m.segmentsPublished.Add(float64(n))
}

func (m *Metrics) SegmentFetched(contentType string, bytes int64) {
	m.segmentsFetched.WithLabelValues(contentType).Inc()
	m.bytesFetched.WithLabelValues(contentType).Add(float64(bytes))
}

func (m *Metrics) SegmentFailed(contentType string) {
	m.segmentsFailed.WithLabelValues(contentType).Inc()
}

func (m *Metrics) SegmentSkipped() {
	m.segmentsSkipped.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
