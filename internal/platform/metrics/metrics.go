package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a service process. A nil *Metrics
// is valid and records nothing, which keeps unit tests free of registry
// bookkeeping.
type Metrics struct {
	Issuance        *prometheus.CounterVec
	PublishFailures prometheus.Counter
	Verifications   *prometheus.CounterVec
	EventsConsumed  prometheus.Counter
	EventsReplayed  prometheus.Counter
	EventsMalformed prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry. Call once
// per process.
func New() *Metrics {
	return &Metrics{
		Issuance: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrelay_issuance_total",
			Help: "Issuance requests by outcome status.",
		}, []string{"status"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrelay_publish_failures_total",
			Help: "Issuance events that could not be published to the channel. Replication lags while this grows.",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrelay_verifications_total",
			Help: "Verification requests by result.",
		}, []string{"result"}),
		EventsConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrelay_events_consumed_total",
			Help: "Issuance events materialized into the replica store.",
		}),
		EventsReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrelay_events_replayed_total",
			Help: "Duplicate event deliveries observed (and ignored) by the consumer.",
		}),
		EventsMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrelay_events_malformed_total",
			Help: "Events that failed to decode.",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credrelay_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) ObserveIssuance(status string) {
	if m == nil {
		return
	}
	m.Issuance.WithLabelValues(status).Inc()
}

func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) ObserveVerification(found bool) {
	if m == nil {
		return
	}
	result := "not_found"
	if found {
		result = "found"
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncEventConsumed() {
	if m == nil {
		return
	}
	m.EventsConsumed.Inc()
}

func (m *Metrics) IncEventReplayed() {
	if m == nil {
		return
	}
	m.EventsReplayed.Inc()
}

func (m *Metrics) IncEventMalformed() {
	if m == nil {
		return
	}
	m.EventsMalformed.Inc()
}

func (m *Metrics) ObserveRequest(method, path string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
