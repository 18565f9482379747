package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_inbound_messages_total",
			Help: "Total number of inbound messages accepted by the batching queue (count)",
		},
		[]string{"source"},
	)

	BatchFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_batch_flushes_total",
			Help: "Total number of batches flushed to the orchestrator, by flush reason",
		},
		[]string{"reason"},
	)

	BatchHandoffFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_batch_handoff_failures_total",
			Help: "Total number of batches dropped after exhausting hand-off retries",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intake_batch_size_messages",
			Help:    "Number of messages per flushed batch",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	OpenBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_open_batches",
			Help: "Number of batches currently accumulating in the queue",
		},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_webhook_events_total",
			Help: "Total number of webhook events received, by source and status",
		},
		[]string{"source", "status"},
	)

	PipelineBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_batches_total",
			Help: "Total number of batches processed by the orchestrator, by terminal status",
		},
		[]string{"status"},
	)

	PipelineStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_failures_total",
			Help: "Total number of stage failures in the classification pipeline",
		},
		[]string{"stage"},
	)

	ClassificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_request_duration_ms",
			Help:    "Classifier call duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"status"},
	)

	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_results_total",
			Help: "Total number of classification results, by resolved message type",
		},
		[]string{"message_type"},
	)

	EntitiesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entities_created_total",
			Help: "Total number of domain entities created, by kind and status",
		},
		[]string{"kind", "status"},
	)

	AckDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ack_dispatches_total",
			Help: "Total number of acknowledgment dispatch attempts, by status",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts, by component",
		},
		[]string{"component"},
	)

	OperatorAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operator_alerts_total",
			Help: "Total number of operator alerts published, by reason",
		},
		[]string{"reason"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_requests_total",
			Help: "Total number of requests seen by the rate limiter, by decision",
		},
		[]string{"decision"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through a circuit breaker, by state",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed requests through a circuit breaker",
		},
		[]string{"name"},
	)
)

func RegisterIntakeMetrics() {
	prometheus.MustRegister(
		InboundMessagesTotal,
		BatchFlushesTotal,
		BatchHandoffFailuresTotal,
		BatchSize,
		OpenBatches,
		WebhookEventsTotal,
		RateLimitRequestsTotal,
	)
}

func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		PipelineBatchesTotal,
		PipelineStageFailuresTotal,
		ClassificationDuration,
		ClassificationsTotal,
		EntitiesCreatedTotal,
		AckDispatchesTotal,
		RetryAttemptsTotal,
		OperatorAlertsTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveClassificationDuration(d time.Duration, status string) {
	ClassificationDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}
