package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "jan"
	subsystem = "research_api"
)

// Research-API Metrics
var (
	// Inference service calls by operation (submit, status) and outcome
	InferenceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inference_requests_total",
			Help:      "Total requests sent to the inference service",
		},
		[]string{"operation", "status"},
	)

	// Wall-clock time spent tracking a job until its terminal event
	InferenceTrackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inference_track_duration_seconds",
			Help:      "Time from submission to terminal event",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 450, 600},
		},
		[]string{"outcome"},
	)

	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_messages_total",
			Help:      "Broker messages published and consumed",
		},
		[]string{"direction", "status"},
	)

	StreamingConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "streaming_connections",
			Help:      "Currently open streaming connections",
		},
	)

	StreamingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "streaming_events_total",
			Help:      "Events produced by job tracking",
		},
		[]string{"status"},
	)

	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the daily quota",
		},
	)

	EmailDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "email_deliveries_total",
			Help:      "Result emails by outcome",
		},
		[]string{"status"},
	)

	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recoveries_total",
			Help:      "Recovery attempts for orphaned jobs",
		},
		[]string{"result"},
	)
)

// RecordInferenceRequest records a call to the inference service.
func RecordInferenceRequest(operation, status string) {
	InferenceRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordTrack records how long a job was tracked and how it ended.
func RecordTrack(outcome string, elapsed time.Duration) {
	InferenceTrackDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordQueueMessage records a publish or consume outcome.
func RecordQueueMessage(direction, status string) {
	QueueMessagesTotal.WithLabelValues(direction, status).Inc()
}

// RecordStreamingEvent records an event emitted by job tracking.
func RecordStreamingEvent(status string) {
	StreamingEventsTotal.WithLabelValues(status).Inc()
}

// RecordRateLimitRejection records a quota rejection.
func RecordRateLimitRejection() {
	RateLimitRejectionsTotal.Inc()
}

// RecordEmailDelivery records an email outcome.
func RecordEmailDelivery(status string) {
	EmailDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordRecovery records a recovery result.
func RecordRecovery(result string) {
	RecoveriesTotal.WithLabelValues(result).Inc()
}
