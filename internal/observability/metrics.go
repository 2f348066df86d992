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

// Metrics stores Prometheus collectors used by the dispatch and drain flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	emailsSentTotal     *prometheus.CounterVec
	emailsFailedTotal   *prometheus.CounterVec
	emailsQueuedTotal   *prometheus.CounterVec
	emailsDeadTotal     *prometheus.CounterVec
	sendDuration        *prometheus.HistogramVec
	drainProcessedTotal prometheus.Counter
	quotaRemaining      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_dispatch",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mail_dispatch",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_dispatch",
				Name:      "emails_sent_total",
				Help:      "Total number of emails sent successfully by message class.",
			},
			[]string{"class"},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_dispatch",
				Name:      "emails_failed_total",
				Help:      "Total number of send attempts that failed by message class and reason.",
			},
			[]string{"class", "reason"},
		),
		emailsQueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_dispatch",
				Name:      "emails_queued_total",
				Help:      "Total number of emails written to the durable queue by message class and reason.",
			},
			[]string{"class", "reason"},
		),
		emailsDeadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mail_dispatch",
				Name:      "emails_dead_total",
				Help:      "Total number of queued emails that exhausted their retries.",
			},
			[]string{"class"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mail_dispatch",
				Name:      "send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by message class.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"class"},
		),
		drainProcessedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mail_dispatch",
				Name:      "drain_processed_total",
				Help:      "Total number of queued emails processed by drain passes.",
			},
		),
		quotaRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mail_dispatch",
				Name:      "quota_remaining",
				Help:      "Remaining daily provider send quota as of the last check.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.emailsQueuedTotal,
		m.emailsDeadTotal,
		m.sendDuration,
		m.drainProcessedTotal,
		m.quotaRemaining,
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
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEmailSent(class string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(normalizeLabel(class)).Inc()
}

func (m *Metrics) IncEmailFailed(class string, reason string) {
	if m == nil {
		return
	}
	m.emailsFailedTotal.WithLabelValues(normalizeLabel(class), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncEmailQueued(class string, reason string) {
	if m == nil {
		return
	}
	m.emailsQueuedTotal.WithLabelValues(normalizeLabel(class), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncEmailDead(class string) {
	if m == nil {
		return
	}
	m.emailsDeadTotal.WithLabelValues(normalizeLabel(class)).Inc()
}

func (m *Metrics) ObserveSendDuration(class string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(class)).Observe(seconds)
}

func (m *Metrics) AddDrainProcessed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drainProcessedTotal.Add(float64(count))
}

func (m *Metrics) SetQuotaRemaining(remaining int) {
	if m == nil {
		return
	}
	m.quotaRemaining.Set(float64(remaining))
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
