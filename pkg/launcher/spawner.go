package launcher

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/service"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"
)

// Environment passed to every worker process
const (
	EnvWorkerSlot       = "HSU_WORKER_SLOT"
	EnvWorkerInstance   = "HSU_WORKER_INSTANCE"
	EnvWorkerGeneration = "HSU_WORKER_GENERATION"
	EnvServiceName      = "HSU_SERVICE_NAME"
	EnvServiceTopic     = "HSU_SERVICE_TOPIC"
	EnvServiceHost      = "HSU_SERVICE_HOST"
)

// ExecSpawner starts workers as OS processes running Execution.
// Output lines of each worker are re-logged under a per-slot prefix.
type ExecSpawner struct {
	Execution process.ExecutionConfig
	Logger    logging.Logger
}

// NewSelfSpawner re-executes the running binary in worker mode
func NewSelfSpawner(configFile string, logger logging.Logger) (*ExecSpawner, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, errors.NewIOError("failed to locate launcher executable", err)
	}

	args := []string{"--worker"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}

	return &ExecSpawner{
		Execution: process.ExecutionConfig{
			ExecutablePath: executable,
			Args:           args,
		},
		Logger: logger,
	}, nil
}

func (s *ExecSpawner) Spawn(ctx context.Context, spec supervisor.SpawnSpec) (supervisor.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("spawn cancelled", err).WithContext("slot", spec.Slot)
	}

	execution := s.Execution
	execution.Args = append([]string(nil), s.Execution.Args...)
	execution.Environment = append(append([]string(nil), s.Execution.Environment...), workerEnvironment(spec)...)

	workerLogger := logging.WithPrefix(s.Logger, fmt.Sprintf("worker: %d , ", spec.Slot))
	onLine := func(line string) {
		workerLogger.Infof("%s", line)
	}

	handle, err := process.Start(execution, onLine, workerLogger)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func workerEnvironment(spec supervisor.SpawnSpec) []string {
	return []string{
		EnvWorkerSlot + "=" + strconv.Itoa(spec.Slot),
		EnvWorkerInstance + "=" + spec.InstanceID,
		EnvWorkerGeneration + "=" + strconv.Itoa(spec.Generation),
		EnvServiceName + "=" + spec.Unit.Name,
		EnvServiceTopic + "=" + spec.Unit.Topic,
		EnvServiceHost + "=" + spec.Unit.Host,
	}
}

// WorkerIdentity is what a worker process learns from its environment
type WorkerIdentity struct {
	Slot       int
	Instance   string
	Generation int
	// Unit is set when the supervisor passed one; workers must serve it
	// instead of whatever their configuration says now.
	Unit *service.Unit
}

// WorkerIdentityFromEnv reads the identity set by ExecSpawner.
// Missing values are left zero.
func WorkerIdentityFromEnv() (WorkerIdentity, error) {
	var identity WorkerIdentity

	if value := os.Getenv(EnvWorkerSlot); value != "" {
		slot, err := strconv.Atoi(value)
		if err != nil {
			return identity, errors.NewValidationError("invalid worker slot: "+value, err)
		}
		identity.Slot = slot
	}
	if value := os.Getenv(EnvWorkerGeneration); value != "" {
		generation, err := strconv.Atoi(value)
		if err != nil {
			return identity, errors.NewValidationError("invalid worker generation: "+value, err)
		}
		identity.Generation = generation
	}
	identity.Instance = os.Getenv(EnvWorkerInstance)

	topic, host := os.Getenv(EnvServiceTopic), os.Getenv(EnvServiceHost)
	if topic != "" && host != "" {
		unit := service.Build(host, topic).WithName(os.Getenv(EnvServiceName))
		identity.Unit = &unit
	}

	return identity, nil
}
