package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	authAttempts      *prometheus.CounterVec
	submitsTotal      *prometheus.CounterVec
	pushesTotal       *prometheus.CounterVec
	rateLimitTotal    *prometheus.CounterVec
	recipients        prometheus.Histogram
	namespace         string
	registry          *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "speechrelay"
	}

	m := &Metrics{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	m.connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of registered connections by role",
		},
		[]string{"role"},
	)

	m.connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of admitted connections by role",
		},
		[]string{"role"},
	)

	m.authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Connection authentication attempts by result",
		},
		[]string{"result"},
	)

	m.submitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submits_total",
			Help: "Text submissions by ingress channel " +
				"and outcome",
		},
		[]string{"channel", "outcome"},
	)

	m.pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Pushes to recipient connections by result",
		},
		[]string{"result"},
	)

	m.rateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit decisions by result",
		},
		[]string{"result"},
	)

	m.recipients = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_recipients",
			Help:      "Number of recipients per dispatch",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	m.registry.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.authAttempts,
		m.submitsTotal,
		m.pushesTotal,
		m.rateLimitTotal,
		m.recipients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordConnection records an admitted connection for role.
func (m *Metrics) RecordConnection(role string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(role).Inc()
	m.connectionsActive.WithLabelValues(role).Inc()
}

// RecordDisconnection records a removed connection for role.
func (m *Metrics) RecordDisconnection(role string) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(role).Dec()
}

// RecordAuth records an authentication attempt.
func (m *Metrics) RecordAuth(success bool) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(resultLabel(success)).Inc()
}

// RecordSubmit records the outcome of a submission on an ingress channel.
func (m *Metrics) RecordSubmit(channel, outcome string) {
	if m == nil {
		return
	}
	m.submitsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordPush records a single push attempt to a recipient.
func (m *Metrics) RecordPush(success bool) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(resultLabel(success)).Inc()
}

// RecordRateLimit records a rate limit decision.
func (m *Metrics) RecordRateLimit(allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.rateLimitTotal.WithLabelValues(result).Inc()
}

// ObserveRecipients records the snapshot size of a dispatch.
func (m *Metrics) ObserveRecipients(n int) {
	if m == nil {
		return
	}
	m.recipients.Observe(float64(n))
}

// RegisterClientGauge exports count as the number of registered clients
// with role, read at scrape time.
func (m *Metrics) RegisterClientGauge(role string, count func() int) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Name:        "registered_clients",
			Help:        "Number of clients in the connection registry by role",
			ConstLabels: prometheus.Labels{"role": role},
		},
		func() float64 { return float64(count()) },
	))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
