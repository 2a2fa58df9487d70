package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector with its own registry
type PrometheusMetricsCollector struct {
	transitions     *prometheus.CounterVec
	crashes         *prometheus.CounterVec
	respawns        *prometheus.CounterVec
	respawnDelay    *prometheus.HistogramVec
	forcedKills     *prometheus.CounterVec
	restarts        *prometheus.CounterVec
	restartDuration *prometheus.HistogramVec
	running         *prometheus.GaugeVec

	registry *prometheus.Registry
}

func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "hsu_launcher"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_state_transitions_total",
			Help:      "Total number of worker state transitions",
		},
		[]string{"unit", "from_state", "to_state"},
	)

	pmc.crashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_crashes_total",
			Help:      "Total number of unexpected worker exits",
		},
		[]string{"unit"},
	)

	pmc.respawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_respawns_total",
			Help:      "Total number of workers respawned after a crash",
		},
		[]string{"unit"},
	)

	pmc.respawnDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_respawn_delay_seconds",
			Help:      "Backoff delay applied before respawning a worker",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"unit"},
	)

	pmc.forcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_forced_kills_total",
			Help:      "Total number of workers killed after the graceful timeout",
		},
		[]string{"unit"},
	)

	pmc.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_restarts_total",
			Help:      "Total number of pool restart cycles",
		},
		[]string{"unit", "method", "outcome"},
	)

	pmc.restartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_restart_duration_seconds",
			Help:      "Duration of pool restart cycles",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"unit", "method"},
	)

	pmc.running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_workers",
			Help:      "Number of workers currently in running state",
		},
		[]string{"unit"},
	)

	pmc.registry.MustRegister(
		pmc.transitions,
		pmc.crashes,
		pmc.respawns,
		pmc.respawnDelay,
		pmc.forcedKills,
		pmc.restarts,
		pmc.restartDuration,
		pmc.running,
	)

	return pmc
}

// Registry exposes the collector's registry for the metrics endpoint
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

func (pmc *PrometheusMetricsCollector) WorkerTransition(unit string, from, to WorkerStatus) {
	pmc.transitions.WithLabelValues(unit, string(from), string(to)).Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerCrashed(unit string) {
	pmc.crashes.WithLabelValues(unit).Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerRespawned(unit string, delay time.Duration) {
	pmc.respawns.WithLabelValues(unit).Inc()
	pmc.respawnDelay.WithLabelValues(unit).Observe(delay.Seconds())
}

func (pmc *PrometheusMetricsCollector) WorkerKilled(unit string) {
	pmc.forcedKills.WithLabelValues(unit).Inc()
}

func (pmc *PrometheusMetricsCollector) RestartCompleted(unit string, method RestartPolicy, outcome string, duration time.Duration) {
	pmc.restarts.WithLabelValues(unit, string(method), outcome).Inc()
	pmc.restartDuration.WithLabelValues(unit, string(method)).Observe(duration.Seconds())
}

func (pmc *PrometheusMetricsCollector) RunningWorkers(unit string, count int) {
	pmc.running.WithLabelValues(unit).Set(float64(count))
}
