package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "events_published_total",
		Help:      "Number of outbox events successfully published to Kafka.",
	})

	retriedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "events_retried_total",
		Help:      "Number of outbox events rescheduled for retry after a publish failure.",
	})

	exhaustedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "events_exhausted_total",
		Help:      "Number of outbox events marked FAILED after hitting the retry ceiling.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing, and updating outbox batches.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	batchSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "batch_size",
		Help:      "Effective batch size chosen by the poller for the last tick.",
	})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "pending_events",
		Help:      "Number of PENDING rows observed at the start of the last tick.",
	})

	breakerOpenCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "breaker_open_total",
		Help:      "Number of poll ticks skipped because the circuit breaker was open.",
	})

	cleanedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "curve_events",
		Subsystem: "outbox",
		Name:      "events_cleaned_total",
		Help:      "Number of PUBLISHED rows removed by the retention cleaner.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, retriedCounter, exhaustedCounter,
		batchDuration, batchSizeGauge, pendingGauge, breakerOpenCounter, cleanedCounter)
}
