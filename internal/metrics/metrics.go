// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_job_duration_seconds",
		Help:    "Duration of stage job executions.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage", "status"}) // status: success | failure

	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_job_failures_total",
		Help: "Total failed stage job attempts.",
	}, []string{"stage"})

	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_enqueued_total",
		Help: "Total jobs enqueued per stage and trigger.",
	}, []string{"stage", "trigger"})

	CircuitOpenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_circuit_open_total",
		Help: "Executions rejected by an open circuit breaker.",
	}, []string{"queue"})
)

// Handler serves the registry for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
