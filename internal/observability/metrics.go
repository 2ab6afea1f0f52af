package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the research agent service.
// Metrics are organized by subsystem: topics, steps, claims, sources, queue and
// maintenance. All collectors are registered via promauto with the default
// Prometheus registry.
//
// A nil *Metrics is valid; every Record method is then a no-op.
type Metrics struct {
	// TopicsSubmitted counts topics accepted through the API.
	TopicsSubmitted prometheus.Counter

	// TopicsCompleted counts topics that reached the completed state.
	TopicsCompleted prometheus.Counter

	// TopicsFailed counts topics that reached the failed state, labeled by failing step.
	TopicsFailed *prometheus.CounterVec

	// TopicDuration observes attempt duration from claim to terminal state in seconds.
	TopicDuration prometheus.Histogram

	// StepDuration observes step execution time in seconds, labeled by step and status.
	StepDuration *prometheus.HistogramVec

	// StepRetries counts transient retries performed by the step executor, labeled by step.
	StepRetries *prometheus.CounterVec

	// ClaimOutcomes counts claim attempts labeled by outcome (acquired, terminal, busy, not_found).
	ClaimOutcomes *prometheus.CounterVec

	// AttemptsInterrupted counts attempts abandoned because of shutdown.
	AttemptsInterrupted prometheus.Counter

	// ArticlesBySource counts raw articles fetched, labeled by source.
	ArticlesBySource *prometheus.CounterVec

	// SourceFetches counts adapter fetches labeled by source and outcome (ok, error, timeout).
	SourceFetches *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to content sources, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to content sources in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from content sources, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// ResultsPersisted counts research results committed.
	ResultsPersisted prometheus.Counter

	// JobsEnqueued counts jobs published, labeled by queue backend.
	JobsEnqueued *prometheus.CounterVec

	// JobsNacked counts jobs returned to the queue after an infrastructure error.
	JobsNacked *prometheus.CounterVec

	// WorkersBusy tracks the number of workers currently processing a job.
	WorkersBusy prometheus.Gauge

	// TopicsRequeued counts topics re-enqueued by the sweeper, labeled by reason (stale, pending).
	TopicsRequeued *prometheus.CounterVec

	// TopicsCleanedUp counts finished topics deleted by the retention job.
	TopicsCleanedUp prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Topics
		TopicsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_submitted_total",
			Help:      "Total number of research topics submitted",
		}),
		TopicsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_completed_total",
			Help:      "Total number of research topics completed successfully",
		}),
		TopicsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_failed_total",
			Help:      "Total number of research topics that failed by step",
		}, []string{"step"}),
		TopicDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "topic_duration_seconds",
			Help:      "Duration of a topic attempt from claim to terminal state in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),

		// Steps
		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow steps in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"step", "status"}),
		StepRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of transient step retries",
		}, []string{"step"}),

		// Claims
		ClaimOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_outcomes_total",
			Help:      "Total number of topic claim attempts by outcome",
		}, []string{"outcome"}),
		AttemptsInterrupted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_interrupted_total",
			Help:      "Total number of attempts interrupted by shutdown",
		}),

		// Sources
		ArticlesBySource: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_by_source_total",
			Help:      "Total number of raw articles fetched by source",
		}, []string{"source"}),
		SourceFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Total number of adapter fetches by source and outcome",
		}, []string{"source", "outcome"}),
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP requests to content sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed HTTP requests to content sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of HTTP requests to content sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from content sources",
		}, []string{"source"}),

		// Results
		ResultsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_persisted_total",
			Help:      "Total number of research results committed",
		}),

		// Queue and workers
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued by backend",
		}, []string{"backend"}),
		JobsNacked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_nacked_total",
			Help:      "Total number of jobs returned for redelivery by backend",
		}, []string{"backend"}),
		WorkersBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Number of workers currently processing a job",
		}),

		// Maintenance
		TopicsRequeued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_requeued_total",
			Help:      "Total number of topics re-enqueued by the sweeper by reason",
		}, []string{"reason"}),
		TopicsCleanedUp: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_cleaned_up_total",
			Help:      "Total number of finished topics deleted by retention cleanup",
		}),
	}
}

// RecordTopicSubmitted records that a topic was accepted.
func (m *Metrics) RecordTopicSubmitted() {
	if m == nil {
		return
	}
	m.TopicsSubmitted.Inc()
}

// RecordTopicCompleted records that a topic attempt completed.
func (m *Metrics) RecordTopicCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TopicsCompleted.Inc()
	m.TopicDuration.Observe(durationSeconds)
}

// RecordTopicFailed records that a topic attempt failed at the given step.
func (m *Metrics) RecordTopicFailed(step string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TopicsFailed.WithLabelValues(step).Inc()
	m.TopicDuration.Observe(durationSeconds)
}

// RecordStep records a step execution.
func (m *Metrics) RecordStep(step, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step, status).Observe(durationSeconds)
}

// RecordStepRetry records a transient retry of a step.
func (m *Metrics) RecordStepRetry(step string) {
	if m == nil {
		return
	}
	m.StepRetries.WithLabelValues(step).Inc()
}

// RecordClaim records the outcome of a claim attempt.
func (m *Metrics) RecordClaim(outcome string) {
	if m == nil {
		return
	}
	m.ClaimOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAttemptInterrupted records an attempt abandoned by shutdown.
func (m *Metrics) RecordAttemptInterrupted() {
	if m == nil {
		return
	}
	m.AttemptsInterrupted.Inc()
}

// RecordSourceFetch records an adapter fetch outcome and article count.
func (m *Metrics) RecordSourceFetch(source, outcome string, articles int) {
	if m == nil {
		return
	}
	m.SourceFetches.WithLabelValues(source, outcome).Inc()
	if articles > 0 {
		m.ArticlesBySource.WithLabelValues(source).Add(float64(articles))
	}
}

// RecordSourceRequest records a request to a content source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a content source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordResultsPersisted records committed results.
func (m *Metrics) RecordResultsPersisted(count int) {
	if m == nil {
		return
	}
	m.ResultsPersisted.Add(float64(count))
}

// RecordJobEnqueued records a job published to a queue backend.
func (m *Metrics) RecordJobEnqueued(backend string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(backend).Inc()
}

// RecordJobNacked records a job returned for redelivery.
func (m *Metrics) RecordJobNacked(backend string) {
	if m == nil {
		return
	}
	m.JobsNacked.WithLabelValues(backend).Inc()
}

// WorkerStarted marks a worker as busy.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.WorkersBusy.Inc()
}

// WorkerFinished marks a worker as idle.
func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.WorkersBusy.Dec()
}

// RecordTopicsRequeued records topics re-enqueued by the sweeper.
func (m *Metrics) RecordTopicsRequeued(reason string, count int) {
	if m == nil {
		return
	}
	m.TopicsRequeued.WithLabelValues(reason).Add(float64(count))
}

// RecordTopicsCleanedUp records topics deleted by retention cleanup.
func (m *Metrics) RecordTopicsCleanedUp(count int64) {
	if m == nil {
		return
	}
	m.TopicsCleanedUp.Add(float64(count))
}
