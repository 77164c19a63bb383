// Package metrics owns the prometheus collectors of the service. A nil
// *Metrics is valid and records nothing, so tests and tools can skip it.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "experiments"

type Metrics struct {
	Registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	ingestBatches *prometheus.CounterVec
	ingestRows    *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	deliveryTime  prometheus.Histogram
	idempotency   *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	streamClients *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		ingestBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_batches_total",
			Help:      "Telemetry batches by outcome (live, late, rejected).",
		}, []string{"outcome"}),
		ingestRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_rows_total",
			Help:      "Telemetry rows written by conversion status.",
		}, []string{"conversion_status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_attempts_total",
			Help:      "Webhook delivery attempts by resulting status.",
		}, []string{"status"}),
		deliveryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_seconds",
			Help:      "Duration of a single webhook POST.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		idempotency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_requests_total",
			Help:      "Keyed mutating requests by result (executed, replayed, conflict).",
		}, []string{"result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Maintenance job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Maintenance job duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
		streamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telemetry_stream_clients",
			Help:      "Open telemetry stream connections by transport.",
		}, []string{"transport"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpLatency,
		m.ingestBatches, m.ingestRows,
		m.deliveries, m.deliveryTime,
		m.idempotency,
		m.jobRuns, m.jobDuration,
		m.streamClients,
	)
	return m
}

// Register mounts the scrape endpoint.
func (m *Metrics) Register(r *gin.Engine, path string) {
	if m == nil {
		return
	}
	if path == "" {
		path = "/metrics"
	}
	r.GET(path, gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

// Middleware records count and latency per matched route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpLatency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IngestBatch(outcome string, byStatus map[string]int) {
	if m == nil {
		return
	}
	m.ingestBatches.WithLabelValues(outcome).Inc()
	for status, n := range byStatus {
		m.ingestRows.WithLabelValues(status).Add(float64(n))
	}
}

func (m *Metrics) DeliveryAttempt(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
	m.deliveryTime.Observe(took.Seconds())
}

func (m *Metrics) Idempotency(result string) {
	if m == nil {
		return
	}
	m.idempotency.WithLabelValues(result).Inc()
}

func (m *Metrics) JobRun(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// StreamOpened increments the open-stream gauge and returns its release func.
func (m *Metrics) StreamOpened(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.streamClients.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}
