// Package metrics holds the Prometheus collectors of the provisioner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "provisioner"

// Job outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
	OutcomeSuperseded = "superseded"
)

type Registry struct {
	JobsProcessed         *prometheus.CounterVec
	JobDuration           *prometheus.HistogramVec
	JobsEnqueued          *prometheus.CounterVec
	StaleJobsReleased     prometheus.Counter
	CredentialValidations *prometheus.CounterVec
	HealthChecksScheduled prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewRegistry registers every collector on a fresh registry, together with the
// Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return newRegistry(reg, reg)
}

func newRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_processed_total",
				Help:      "Queue jobs processed, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Time spent processing one queue job",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Queue jobs accepted, by action",
			},
			[]string{"action"},
		),
		StaleJobsReleased: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_jobs_released_total",
				Help:      "Processing jobs returned to the queue after their lease expired",
			},
		),
		CredentialValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_validations_total",
				Help:      "Credential validations, by service and reason",
			},
			[]string{"service", "reason"},
		),
		HealthChecksScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_scheduled_total",
				Help:      "health_check jobs enqueued by the sweeper",
			},
		),
		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
