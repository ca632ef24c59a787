// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pool metrics
	poolAcquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_pool_acquires_total",
		Help: "Connection acquires by outcome",
	}, []string{"pool", "outcome"}) // outcome=hit|dial|overflow|timeout|error

	poolWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ballast_pool_wait_seconds",
		Help:    "Time spent waiting for a connection",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
	}, []string{"pool"})

	poolPrePingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_pool_preping_failures_total",
		Help: "Connections found dead by the checkout ping",
	}, []string{"pool"})

	poolRecycledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_pool_recycled_total",
		Help: "Connections closed by recycle policy",
	}, []string{"pool", "reason"}) // reason=lifetime|idle|generation|error

	// Health metrics
	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_health_checks_total",
		Help: "Health check executions by checker and status",
	}, []string{"checker", "status"})

	readiness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ballast_ready",
		Help: "Whether the daemon reports ready (1) or not (0)",
	})

	// Supervisor metrics
	workerRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_worker_restarts_total",
		Help: "Worker restarts by worker and reason",
	}, []string{"worker", "reason"}) // reason=failure|panic|exit

	workerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ballast_worker_state",
		Help: "Worker state (0=idle 1=running 2=backing_off 3=stopped 4=failed)",
	}, []string{"worker"})

	procSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_proc_signals_total",
		Help: "Signals sent to supervised process groups",
	}, []string{"signal", "outcome"}) // outcome=sent|esrch|error

	// Job metrics
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_job_runs_total",
		Help: "Scheduled job runs by job and outcome",
	}, []string{"job", "outcome"}) // outcome=success|failure|skipped

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ballast_job_duration_seconds",
		Help:    "Scheduled job run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms .. ~2.7m
	}, []string{"job"})

	// Cache metrics
	cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_cache_ops_total",
		Help: "Cache operations by backend and outcome",
	}, []string{"backend", "op", "outcome"}) // op=get|set|delete outcome=hit|miss|ok|error
)

func IncPoolAcquire(pool, outcome string) { poolAcquiresTotal.WithLabelValues(pool, outcome).Inc() }

func ObservePoolWait(pool string, d time.Duration) {
	poolWaitSeconds.WithLabelValues(pool).Observe(d.Seconds())
}

func IncPrePingFailure(pool string) { poolPrePingFailures.WithLabelValues(pool).Inc() }

func IncPoolRecycled(pool, reason string) { poolRecycledTotal.WithLabelValues(pool, reason).Inc() }

func IncHealthCheck(checker, status string) {
	healthChecksTotal.WithLabelValues(checker, status).Inc()
}

func SetReady(ready bool) {
	if ready {
		readiness.Set(1)
		return
	}
	readiness.Set(0)
}

func IncWorkerRestart(worker, reason string) {
	workerRestartsTotal.WithLabelValues(worker, reason).Inc()
}

func SetWorkerState(worker string, state int) {
	workerState.WithLabelValues(worker).Set(float64(state))
}

func IncProcSignal(signal, outcome string) {
	procSignalsTotal.WithLabelValues(signal, outcome).Inc()
}

func RecordJobRun(job, outcome string, d time.Duration) {
	jobRunsTotal.WithLabelValues(job, outcome).Inc()
	jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func IncJobSkipped(job string) { jobRunsTotal.WithLabelValues(job, "skipped").Inc() }

func IncCacheOp(backend, op, outcome string) {
	cacheOpsTotal.WithLabelValues(backend, op, outcome).Inc()
}
