package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker registry metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helios_workers_total",
			Help: "Total number of known workers by health state",
		},
		[]string{"state"}, // "healthy", "evicted"
	)

	// Replica registry metrics
	ReplicasTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helios_replicas_total",
			Help: "Total number of live replica slots across all models",
		},
	)

	ModelsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helios_models_total",
			Help: "Total number of model UIDs with a live ReplicaInfo",
		},
	)

	// Placement metrics
	PlacementLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helios_placement_latency_seconds",
			Help:    "Time taken to pick a worker for a replica or shard",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helios_placement_failures_total",
			Help: "Total number of placement attempts that found no candidate worker",
		},
	)

	// Launch metrics
	LaunchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helios_launch_duration_seconds",
			Help:    "Time taken for a launch to reach READY or ERROR, by protocol",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"}, // "replicated", "sharded"
	)

	LaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helios_launches_total",
			Help: "Total number of launches by outcome",
		},
		[]string{"outcome"}, // "ready", "error", "cancelled"
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helios_rollbacks_total",
			Help: "Total number of launch rollbacks triggered by a worker RPC failure",
		},
	)

	// Termination metrics
	TerminationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helios_termination_duration_seconds",
			Help:    "Time taken to terminate a model's replicas",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Health monitor metrics
	HealthSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helios_health_sweep_duration_seconds",
			Help:    "Time taken for one health monitor sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helios_workers_evicted_total",
			Help: "Total number of workers evicted by the health monitor",
		},
	)

	ModelsInvalidatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helios_models_invalidated_total",
			Help: "Total number of model UIDs invalidated by a worker eviction",
		},
	)

	// Request routing metrics
	RouteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helios_route_requests_total",
			Help: "Total number of get_model routing calls by outcome",
		},
		[]string{"outcome"}, // "ok", "not_found"
	)

	AbortRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helios_abort_requests_total",
			Help: "Total number of abort_request calls by resulting token",
		},
		[]string{"token"}, // "done", "not_found", "no_op"
	)

	// Worker RPC metrics
	WorkerRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helios_worker_rpc_duration_seconds",
			Help:    "Worker RPC duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	WorkerRPCFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helios_worker_rpc_failures_total",
			Help: "Total number of worker RPC failures by method and grpc code",
		},
		[]string{"method", "code"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(ReplicasTotal)
	prometheus.MustRegister(ModelsTotal)
	prometheus.MustRegister(PlacementLatency)
	prometheus.MustRegister(PlacementFailuresTotal)
	prometheus.MustRegister(LaunchDuration)
	prometheus.MustRegister(LaunchesTotal)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(TerminationDuration)
	prometheus.MustRegister(HealthSweepDuration)
	prometheus.MustRegister(WorkersEvictedTotal)
	prometheus.MustRegister(ModelsInvalidatedTotal)
	prometheus.MustRegister(RouteRequestsTotal)
	prometheus.MustRegister(AbortRequestsTotal)
	prometheus.MustRegister(WorkerRPCDuration)
	prometheus.MustRegister(WorkerRPCFailuresTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
