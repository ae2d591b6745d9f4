package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Sink backed by prometheus collectors.
type Prometheus struct {
	published  *prometheus.HistogramVec
	dlqEvents  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	brokerErrs *prometheus.CounterVec
}

// NewPrometheus registers the pipeline collectors on reg and returns the
// sink. Pass prometheus.DefaultRegisterer for the process-global registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	s := &Prometheus{
		published: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "curve_events",
			Subsystem: "publisher",
			Name:      "publish_duration_seconds",
			Help:      "Duration of publish calls by event type and terminal outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"event_type", "success"}),
		dlqEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curve_events",
			Subsystem: "publisher",
			Name:      "dlq_events_total",
			Help:      "Events routed to the dead-letter topic, by event type and reason.",
		}, []string{"event_type", "reason"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curve_events",
			Subsystem: "publisher",
			Name:      "retries_total",
			Help:      "Broker send retries by event type, attempt number, and outcome. Attempt cardinality is bounded by the retry ceiling.",
		}, []string{"event_type", "attempt", "outcome"}),
		brokerErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curve_events",
			Subsystem: "publisher",
			Name:      "broker_errors_total",
			Help:      "Broker errors by error class.",
		}, []string{"error_class"}),
	}
	reg.MustRegister(s.published, s.dlqEvents, s.retries, s.brokerErrs)
	return s
}

func (s *Prometheus) Published(eventType string, success bool, duration time.Duration) {
	s.published.WithLabelValues(eventType, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func (s *Prometheus) DLQEvent(eventType, reason string) {
	s.dlqEvents.WithLabelValues(eventType, reason).Inc()
}

func (s *Prometheus) Retry(eventType string, attempt int, outcome string) {
	s.retries.WithLabelValues(eventType, strconv.Itoa(attempt), outcome).Inc()
}

func (s *Prometheus) BrokerError(errorClass string) {
	s.brokerErrs.WithLabelValues(errorClass).Inc()
}
