package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	publishWatermarkGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "curve_events",
		Subsystem: "relay",
		Name:      "last_event_published_timestamp_seconds",
		Help:      "Unix timestamp of the most recent outbox event delivered to Kafka.",
	})
	cleanupWatermarkGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "curve_events",
		Subsystem: "relay",
		Name:      "last_cleanup_timestamp_seconds",
		Help:      "Unix timestamp of the most recent retention cleanup run.",
	})
)

func init() {
	prometheus.MustRegister(publishWatermarkGauge, cleanupWatermarkGauge)
}

// RecordEventPublished updates the delivery watermark gauge.
func RecordEventPublished(ts time.Time) {
	if ts.IsZero() {
		return
	}
	publishWatermarkGauge.Set(float64(ts.Unix()))
}

// RecordCleanupRun updates the cleanup watermark gauge.
func RecordCleanupRun(ts time.Time) {
	if ts.IsZero() {
		return
	}
	cleanupWatermarkGauge.Set(float64(ts.Unix()))
}
