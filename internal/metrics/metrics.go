// Package metrics provides Prometheus instrumentation for the pulse server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts batch runs by trigger (cron, api, queue, redrive).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "runs_total",
		Help:      "Total number of batch runs.",
	}, []string{"trigger"})

	// RunItemsTotal counts processed batch items by outcome.
	RunItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "run_items_total",
		Help:      "Total number of batch items processed.",
	}, []string{"outcome"})

	// RunDuration tracks total batch run duration.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulse",
		Name:      "run_duration_seconds",
		Help:      "Duration of batch runs in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})

	// RetryAttempts counts individual operation attempts.
	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "retry_attempts_total",
		Help:      "Total number of operation attempts.",
	})

	// RetrySuccesses counts operations that eventually succeeded.
	RetrySuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "retry_successes_total",
		Help:      "Total number of operations that succeeded.",
	})

	// RetryFailures counts operations that exhausted retries or failed permanently.
	RetryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "retry_failures_total",
		Help:      "Total number of operations that failed.",
	})

	// RetryDelaySeconds tracks backoff delays applied between attempts.
	RetryDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulse",
		Name:      "retry_delay_seconds",
		Help:      "Backoff delay applied before retry attempts in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	// OperationDuration tracks single attempt execution duration.
	OperationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulse",
		Name:      "operation_duration_seconds",
		Help:      "Duration of individual operation attempts in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// BreakerState exposes circuit breaker state per operation key
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pulse",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"operation_key"})

	// BreakerTrips counts closed-to-open breaker transitions.
	BreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "breaker_trips_total",
		Help:      "Total number of circuit breaker trips.",
	})

	// DeadLetters counts entries added to the dead letter queue.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "dead_letters_total",
		Help:      "Total number of dead letter entries recorded.",
	})

	// DeadLetterQueueSize tracks the current in-memory dead letter queue size.
	DeadLetterQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Name:      "dead_letter_queue_size",
		Help:      "Current number of entries in the dead letter queue.",
	})

	// RedriveTotal counts redrive outcomes (resolved, requeued, discarded).
	RedriveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "redrive_total",
		Help:      "Total number of dead letter redrive attempts.",
	}, []string{"outcome"})

	// MonitorAlerts counts alerts raised by the health monitor.
	MonitorAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "monitor_alerts_total",
		Help:      "Total number of monitor alerts raised.",
	}, []string{"kind"})

	// QueueMessages counts consumed queue messages by result.
	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "queue_messages_total",
		Help:      "Total number of queue messages consumed.",
	}, []string{"result"})

	// InsightTokens counts LLM tokens consumed generating insights.
	InsightTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "insight_tokens_total",
		Help:      "Total number of LLM tokens consumed.",
	})

	// DBPoolInUse tracks database connections currently in use.
	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Name:      "db_pool_in_use",
		Help:      "Number of database connections in use.",
	})

	// DBPoolIdle tracks idle database connections.
	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Name:      "db_pool_idle",
		Help:      "Number of idle database connections.",
	})

	// ServerInfo exposes static server metadata as labels.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pulse",
		Name:      "server_info",
		Help:      "Static server metadata.",
	}, []string{"version"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pulse",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

// Init sets static server metadata on the info metric.
func Init(version string) {
	ServerInfo.WithLabelValues(version).Set(1)
}
