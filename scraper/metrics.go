package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors shared by the pipeline stages.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ItemsTotal      *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RejectedTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_requests_total",
			Help: "Total HTTP requests issued, by stage.",
		},
		[]string{"stage"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_request_duration_seconds",
			Help:    "HTTP request latency, by stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_items_total",
			Help: "Records emitted by each stage.",
		},
		[]string{"stage"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_retries_total",
			Help: "Retry attempts, by stage.",
		},
		[]string{"stage"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_errors_total",
			Help: "Fetch and parse errors, by stage and type.",
		},
		[]string{"stage", "error_type"},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_rejected_total",
			Help: "Listings rejected by business filters, by stage and reason.",
		},
		[]string{"stage", "reason"},
	)

	registry.MustRegister(requests, requestDuration, items, retries, errorsTotal, rejected)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ItemsTotal:      items,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		RejectedTotal:   rejected,
	}
}

// IncRequest increments the request counter for a stage.
func (m *Metrics) IncRequest(stage string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(stage).Inc()
}

// ObserveDuration records a request latency for a stage.
func (m *Metrics) ObserveDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncItems counts records emitted by a stage.
func (m *Metrics) IncItems(stage string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(stage).Inc()
}

// IncRetries counts a retry attempt in a stage.
func (m *Metrics) IncRetries(stage string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(stage).Inc()
}

// IncError counts a classified error in a stage.
func (m *Metrics) IncError(stage, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage, errorType).Inc()
}

// IncRejected counts a filtered-out listing in a stage.
func (m *Metrics) IncRejected(stage, reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(stage, reason).Inc()
}
