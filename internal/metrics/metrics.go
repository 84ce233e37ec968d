package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics

	DispatchesCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerd",
		Name:      "dispatches_created_total",
		Help:      "Dispatch rows created, by kind (fresh or retry).",
	}, []string{"kind"})

	StuckTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerd",
		Name:      "stuck_timeouts_total",
		Help:      "IN_PROGRESS dispatches converted to TIMEOUT by the scheduler.",
	})

	WorkersReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerd",
		Name:      "workers_reaped_total",
		Help:      "Worker registrations deleted for missed heartbeats.",
	})

	DispatchesGCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerd",
		Name:      "dispatches_gc_total",
		Help:      "Terminal dispatch rows removed by retention cleanup.",
	})

	SchedulerPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "triggerd",
		Name:      "scheduler_pass_duration_seconds",
		Help:      "Time taken for one scheduler pass.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker metrics

	DispatchPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "triggerd",
		Name:      "dispatch_pickup_latency_seconds",
		Help:      "Time from dispatch creation to a worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triggerd",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of script execution.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
	}, []string{"status"})

	JobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerd",
		Name:      "jobs_processed_total",
		Help:      "Executions finished, by outcome.",
	}, []string{"outcome"})

	ClaimsLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "triggerd",
		Name:      "claims_lost_total",
		Help:      "Claim attempts that observed zero rows affected.",
	})

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerd",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triggerd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerd",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		DispatchesCreatedTotal,
		StuckTimeoutsTotal,
		WorkersReapedTotal,
		DispatchesGCTotal,
		SchedulerPassDuration,
		DispatchPickupLatency,
		JobExecutionDuration,
		JobsProcessedTotal,
		ClaimsLostTotal,
		WorkerStartTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// HealthHandler is implemented by health.Checker; declared here to keep the
// metrics server free of a package cycle.
type HealthHandler interface {
	LivenessHandler() http.Handler
	ReadinessHandler() http.Handler
}

func NewServer(addr string, checker HealthHandler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health/live", checker.LivenessHandler())
	mux.Handle("/health/ready", checker.ReadinessHandler())
	return &http.Server{Addr: addr, Handler: mux}
}
