package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "requisition_engine"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	batchesCreatedTotal      *prometheus.CounterVec
	requisitionOutcomesTotal *prometheus.CounterVec
	fusionCallDuration       *prometheus.HistogramVec
	fusionErrorsTotal        *prometheus.CounterVec
	workerInflight           prometheus.Gauge
	retryScheduledTotal      *prometheus.CounterVec
	approvalDecisionsTotal   *prometheus.CounterVec
	attemptsPrunedTotal      prometheus.Counter
	enqueueFailuresTotal     prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batches_created_total",
				Help:      "Total number of batches created grouped by ingestion source.",
			},
			[]string{"source"},
		),
		requisitionOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requisition_outcomes_total",
				Help:      "Total number of processed requisition deliveries grouped by outcome.",
			},
			[]string{"outcome"},
		),
		fusionCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "fusion_call_duration_seconds",
				Help:      "Fusion REST call duration in seconds grouped by operation.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"operation"},
		),
		fusionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fusion_errors_total",
				Help:      "Total number of failed Fusion calls grouped by operation and kind.",
			},
			[]string{"operation", "kind"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_inflight",
				Help:      "Current number of requisitions being processed.",
			},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retry_scheduled_total",
				Help:      "Total number of requisitions scheduled for retry grouped by failed stage.",
			},
			[]string{"stage"},
		),
		approvalDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "approval_decisions_total",
				Help:      "Total number of approval decisions synchronized from Fusion.",
			},
			[]string{"status"},
		),
		attemptsPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "attempts_pruned_total",
				Help:      "Total number of attempt records removed by retention.",
			},
		),
		enqueueFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "enqueue_failures_total",
				Help:      "Total number of requisition messages that could not be published.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesCreatedTotal,
		m.requisitionOutcomesTotal,
		m.fusionCallDuration,
		m.fusionErrorsTotal,
		m.workerInflight,
		m.retryScheduledTotal,
		m.approvalDecisionsTotal,
		m.attemptsPrunedTotal,
		m.enqueueFailuresTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchCreated(source string) {
	if m == nil {
		return
	}
	m.batchesCreatedTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncRequisitionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requisitionOutcomesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveFusionCall(operation string, duration time.Duration, err error, transient bool) {
	if m == nil {
		return
	}
	op := normalizeLabel(operation)
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.fusionCallDuration.WithLabelValues(op).Observe(seconds)

	if err != nil {
		kind := "permanent"
		if transient {
			kind = "transient"
		}
		m.fusionErrorsTotal.WithLabelValues(op, kind).Inc()
	}
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled(stage string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (m *Metrics) IncApprovalDecision(status string) {
	if m == nil {
		return
	}
	m.approvalDecisionsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) AddAttemptsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.attemptsPrunedTotal.Add(float64(n))
}

func (m *Metrics) IncEnqueueFailure() {
	if m == nil {
		return
	}
	m.enqueueFailuresTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
