package supervisor

import "time"

// MetricsCollector receives supervisor events
type MetricsCollector interface {
	// WorkerTransition records a worker status change
	WorkerTransition(unit string, from, to WorkerStatus)

	// WorkerCrashed records an unexpected worker exit
	WorkerCrashed(unit string)

	// WorkerRespawned records a replacement spawned after a crash
	WorkerRespawned(unit string, delay time.Duration)

	// WorkerKilled records a worker force killed after its grace period
	WorkerKilled(unit string)

	// RestartCompleted records a restart cycle and how it ended
	RestartCompleted(unit string, method RestartPolicy, outcome string, duration time.Duration)

	// RunningWorkers records the current number of running workers
	RunningWorkers(unit string, count int)
}

const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

type noopMetricsCollector struct{}

func (n *noopMetricsCollector) WorkerTransition(unit string, from, to WorkerStatus)     {}
func (n *noopMetricsCollector) WorkerCrashed(unit string)                               {}
func (n *noopMetricsCollector) WorkerRespawned(unit string, delay time.Duration)        {}
func (n *noopMetricsCollector) WorkerKilled(unit string)                                {}
func (n *noopMetricsCollector) RunningWorkers(unit string, count int)                   {}
func (n *noopMetricsCollector) RestartCompleted(unit string, method RestartPolicy, outcome string, duration time.Duration) {
}

func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
