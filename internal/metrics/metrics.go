// Package metrics declares the Prometheus instrumentation points for the
// scheduling and delivery pipeline. Per spec §1's Non-goals, no HTTP
// exposition server is wired here — Register binds these collectors to a
// registry the caller owns, the same way the teacher's metrics package
// bound to the default registry, but without promhttp.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MaterializerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "materializer_runs_total",
		Help:      "Total daily materializer passes, by outcome.",
	}, []string{"outcome"})

	MaterializerRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "materializer_records_total",
		Help:      "Total records processed by the daily materializer, by message type and outcome.",
	}, []string{"type", "outcome"})

	EnqueuerPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "enqueuer_published_total",
		Help:      "Total records moved from SCHEDULED to QUEUED, by message type.",
	}, []string{"type"})

	EnqueuerFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "enqueuer_failed_total",
		Help:      "Total SCHEDULED->QUEUED transition or publish failures, by message type.",
	}, []string{"type"})

	RecoveryRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "recovery_rescued_total",
		Help:      "Total records handled by the recovery sweeper, by action.",
	}, []string{"action"})

	WorkerJobsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being handled by the worker pool, by message type.",
	}, []string{"type"})

	WorkerSendResultTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "worker_send_result_total",
		Help:      "Total vendor send attempts, by message type and outcome.",
	}, []string{"type", "outcome"})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "circuit_breaker_state",
		Help:      "Current breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"breaker"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "queue_depth",
		Help:      "Number of unclaimed jobs visible in the queue, by queue name.",
	}, []string{"queue"})

	DependencyUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "dependency_up",
		Help:      "Whether a dependency's last connectivity check succeeded. 1 = up, 0 = down.",
	}, []string{"dependency"})
)

// Register binds every collector declared in this package to reg. The
// caller owns the registry (injected, not the global default) so tests
// can register into a scratch registry per spec §1.4's test-tooling note.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(
		MaterializerRunsTotal,
		MaterializerRecordsTotal,
		EnqueuerPublishedTotal,
		EnqueuerFailedTotal,
		RecoveryRescuedTotal,
		WorkerJobsInFlight,
		WorkerSendResultTotal,
		CircuitBreakerState,
		QueueDepth,
		DependencyUp,
	)
}
