package supervisor

import (
	"context"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/service"
)

// WorkerStatus is the lifecycle state of one worker process
type WorkerStatus string

const (
	StatusStarting WorkerStatus = "starting" // Process started, not ready yet
	StatusRunning  WorkerStatus = "running"  // Process reported ready and accepts work
	StatusStopping WorkerStatus = "stopping" // Supervisor asked the process to exit
	StatusStopped  WorkerStatus = "stopped"  // Process exited after being asked to
	StatusCrashed  WorkerStatus = "crashed"  // Process exited on its own
)

// RestartPolicy names how a restart request is carried out
type RestartPolicy string

const (
	// RestartMutate replaces workers in batches, keeping the rest serving
	RestartMutate RestartPolicy = "mutate"
	// RestartFull stops the whole pool, then starts it again
	RestartFull RestartPolicy = "restart"
)

// RestartOrder controls the sequence of a rolling restart batch
type RestartOrder string

const (
	// OrderStopFirst stops a batch, then starts its replacements
	OrderStopFirst RestartOrder = "stop-first"
	// OrderStartFirst starts replacements and waits for them before stopping the batch
	OrderStartFirst RestartOrder = "start-first"
)

// WorkerProcess is a point-in-time view of one worker
type WorkerProcess struct {
	Slot       int          `json:"slot"`
	InstanceID string       `json:"instance_id"`
	Generation int          `json:"generation"`
	Pid        int          `json:"pid"`
	Status     WorkerStatus `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
}

// Process is a started worker as seen by the supervisor
type Process interface {
	Pid() int
	// Ready is closed once the worker accepts work
	Ready() <-chan struct{}
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// ExitErr is valid after Done is closed
	ExitErr() error
	// Terminate asks the process to exit gracefully
	Terminate() error
	// Kill forcefully stops the process
	Kill() error
}

// SpawnSpec tells a Spawner which worker to start
type SpawnSpec struct {
	Unit       service.Unit
	Slot       int
	Generation int
	InstanceID string
}

// Spawner starts worker processes. Spawn returns once the process started,
// not once it is ready.
type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec) (Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface
type SpawnerFunc func(ctx context.Context, spec SpawnSpec) (Process, error)

func (f SpawnerFunc) Spawn(ctx context.Context, spec SpawnSpec) (Process, error) {
	return f(ctx, spec)
}

// RespawnConfig is the crash respawn backoff.
// The delay before the n-th consecutive respawn of a slot is
// RetryDelay * BackoffRate^n, capped at MaxDelay. A worker that ran for
// StableAfter before crashing resets the count.
type RespawnConfig struct {
	RetryDelay  time.Duration `yaml:"retry_delay"`
	BackoffRate float64       `yaml:"backoff_rate"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	StableAfter time.Duration `yaml:"stable_after"`
}

type Options struct {
	RestartMethod   RestartPolicy
	Order           RestartOrder
	BatchSize       int
	GracefulTimeout time.Duration
	KillTimeout     time.Duration
	ReadyTimeout    time.Duration
	Respawn         RespawnConfig
	Logger          logging.Logger
	Metrics         MetricsCollector
}

const (
	DefaultGracefulTimeout = 20 * time.Second
	DefaultKillTimeout     = 5 * time.Second
	DefaultReadyTimeout    = 30 * time.Second
)

func DefaultRespawnConfig() RespawnConfig {
	return RespawnConfig{
		RetryDelay:  time.Second,
		BackoffRate: 2.0,
		MaxDelay:    30 * time.Second,
		StableAfter: time.Minute,
	}
}

func (o *Options) setDefaults() {
	if o.RestartMethod == "" {
		o.RestartMethod = RestartMutate
	}
	if o.Order == "" {
		o.Order = OrderStopFirst
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}
	if o.GracefulTimeout <= 0 {
		o.GracefulTimeout = DefaultGracefulTimeout
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = DefaultKillTimeout
	}
	if o.ReadyTimeout < 0 {
		o.ReadyTimeout = 0
	}

	defaults := DefaultRespawnConfig()
	if o.Respawn.RetryDelay <= 0 {
		o.Respawn.RetryDelay = defaults.RetryDelay
	}
	if o.Respawn.BackoffRate < 1 {
		o.Respawn.BackoffRate = defaults.BackoffRate
	}
	if o.Respawn.MaxDelay <= 0 {
		o.Respawn.MaxDelay = defaults.MaxDelay
	}
	if o.Respawn.StableAfter <= 0 {
		o.Respawn.StableAfter = defaults.StableAfter
	}

	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = NewNoopMetricsCollector()
	}
}

// ValidateOptions checks user supplied values; zero values mean defaults.
func ValidateOptions(o Options) error {
	switch o.RestartMethod {
	case "", RestartMutate, RestartFull:
	default:
		return errors.NewValidationError("unsupported restart method: "+string(o.RestartMethod), nil)
	}
	switch o.Order {
	case "", OrderStopFirst, OrderStartFirst:
	default:
		return errors.NewValidationError("unsupported restart order: "+string(o.Order), nil)
	}
	if o.BatchSize < 0 {
		return errors.NewValidationError("batch size cannot be negative", nil)
	}
	if o.GracefulTimeout < 0 || o.KillTimeout < 0 || o.ReadyTimeout < 0 {
		return errors.NewValidationError("timeouts cannot be negative", nil)
	}
	if o.Respawn.RetryDelay < 0 || o.Respawn.MaxDelay < 0 || o.Respawn.StableAfter < 0 {
		return errors.NewValidationError("respawn durations cannot be negative", nil)
	}
	if o.Respawn.BackoffRate != 0 && o.Respawn.BackoffRate < 1 {
		return errors.NewValidationError("respawn backoff rate must be at least 1", nil)
	}
	return nil
}

// effectiveBatchSize keeps at least one worker of a multi-worker pool serving
func effectiveBatchSize(requested, poolSize int) int {
	batch := requested
	if batch < 1 {
		batch = 1
	}
	if poolSize >= 2 && batch > poolSize-1 {
		batch = poolSize - 1
	}
	if poolSize == 1 {
		batch = 1
	}
	return batch
}
