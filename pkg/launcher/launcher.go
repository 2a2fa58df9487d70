package launcher

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"golang.org/x/sync/errgroup"

	"github.com/core-tools/hsu-launcher/pkg/capability"
	"github.com/core-tools/hsu-launcher/pkg/config"
	"github.com/core-tools/hsu-launcher/pkg/control"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/processfile"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"
	"github.com/core-tools/hsu-launcher/pkg/workercount"
)

type Options struct {
	// ConfigFile is read at start and on every reload
	ConfigFile string
	// Config is used instead of reading ConfigFile at start when set
	Config      *config.LauncherConfig
	RunDuration time.Duration

	Logger     logging.Logger
	CoreLogger corelogging.Logger

	// Spawner replaces the default exec spawner
	Spawner supervisor.Spawner
	// Detect replaces runtime.NumCPU for the worker count
	Detect workercount.Detector
	// Reload is an extra reload trigger next to SIGHUP and the config watcher
	Reload <-chan struct{}
	// Started, when set, receives the pool handle once workers are launched
	Started func(*supervisor.Handle)
}

// Run starts the worker pool and blocks until it has stopped.
// Capability validation happens before anything is spawned and its
// failure is returned as a NoCapabilitiesError.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	logger.Infof("Launcher starting...")

	// Installed before any worker exists so an early SIGTERM still stops the pool
	sig := make(chan os.Signal, 1)
	notifySignals(sig)
	defer signal.Stop(sig)

	cfg := opts.Config
	if cfg == nil {
		if opts.ConfigFile == "" {
			return errors.NewValidationError("configuration file is required", nil)
		}
		logger.Infof("Using CONFIGURATION FILE: %s", opts.ConfigFile)
		var err error
		cfg, err = config.LoadConfigFromFile(opts.ConfigFile)
		if err != nil {
			return err
		}
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", opts.ConfigFile)
	}
	logger.Infof("Configuration loaded, %s", cfg.Summary())

	registry := capability.NewRegistry(cfg.CapabilityLoader(logger), logging.WithPrefix(logger, "capabilities: "))
	if err := registry.Validate(ctx); err != nil {
		return err
	}
	logger.Infof("Capabilities validated, template formats: %d", len(registry.Names()))

	count := workercount.Default(cfg.Workers.Count)
	if opts.Detect != nil {
		count = workercount.Resolve(cfg.Workers.Count, opts.Detect)
	}
	unit := cfg.ServiceUnit()
	logger.Infof("Worker pool resolved, unit: %s, workers: %d", unit, count)

	if cfg.PIDFile != "" {
		pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{Path: cfg.PIDFile}, logger)
		if err := pidFiles.WritePIDFile(unit.Name, os.Getpid()); err != nil {
			return err
		}
		defer func() {
			if err := pidFiles.RemovePIDFile(unit.Name, os.Getpid()); err != nil {
				logger.Warnf("Failed to remove PID file, path: %s, error: %v", cfg.PIDFile, err)
			}
		}()
	}

	var metrics supervisor.MetricsCollector = supervisor.NewNoopMetricsCollector()
	var metricsEndpoint *metricsServer
	if cfg.Metrics.Address != "" {
		prometheusMetrics := supervisor.NewPrometheusMetricsCollector("")
		endpoint, err := newMetricsServer(cfg.Metrics.Address, prometheusMetrics.Registry(), logger)
		if err != nil {
			return err
		}
		metrics = prometheusMetrics
		metricsEndpoint = endpoint
	}

	spawner := opts.Spawner
	if spawner == nil {
		var err error
		spawner, err = newSpawner(cfg, opts.ConfigFile, logger)
		if err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", opts.RunDuration)
		runCtx, cancel = context.WithTimeout(runCtx, opts.RunDuration)
		defer cancel()
	}

	handle, err := supervisor.Launch(runCtx, unit, count, spawner,
		cfg.SupervisorOptions(logging.WithPrefix(logger, "supervisor: "), metrics))
	if err != nil {
		if metricsEndpoint != nil {
			metricsEndpoint.listener.Close()
		}
		return err
	}

	var controlServer *control.Server
	if cfg.Control.Port > 0 {
		coreLogger := opts.CoreLogger
		if coreLogger == nil {
			coreLogger = coreLoggerFrom(logger)
		}
		controlServer, err = control.NewServer(control.ServerOptions{
			Port:     cfg.Control.Port,
			Services: []string{unit.Topic},
		}, handle, coreLogger, logging.WithPrefix(logger, "control: "))
		if err != nil {
			handle.Shutdown()
			_ = handle.Wait()
			if metricsEndpoint != nil {
				metricsEndpoint.listener.Close()
			}
			return err
		}
	}

	if opts.Started != nil {
		opts.Started(handle)
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		_ = handle.Wait()
		cancel()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		handle.Shutdown()
		return nil
	})

	if metricsEndpoint != nil {
		g.Go(func() error {
			return metricsEndpoint.Run(gctx)
		})
	}

	if controlServer != nil {
		g.Go(func() error {
			return controlServer.Run(gctx)
		})
	}

	r := &reloader{
		configFile: opts.ConfigFile,
		launched:   cfg,
		handle:     handle,
		logger:     logger,
	}
	g.Go(func() error {
		return r.loop(gctx, sig, opts.Reload)
	})

	err = g.Wait()
	logger.Infof("Launcher stopped, unit: %s", unit)
	return err
}

func newSpawner(cfg *config.LauncherConfig, configFile string, logger logging.Logger) (supervisor.Spawner, error) {
	spawnLogger := logging.WithPrefix(logger, "spawner: ")
	if cfg.Workers.Executable != "" {
		return &ExecSpawner{
			Execution: process.ExecutionConfig{
				ExecutablePath: cfg.Workers.Executable,
				Args:           cfg.Workers.Args,
			},
			Logger: spawnLogger,
		}, nil
	}

	if configFile != "" {
		absPath, err := filepath.Abs(configFile)
		if err != nil {
			return nil, errors.NewIOError("failed to resolve configuration path", err).WithContext("config_file", configFile)
		}
		configFile = absPath
	}
	return NewSelfSpawner(configFile, spawnLogger)
}

func coreLoggerFrom(logger logging.Logger) corelogging.Logger {
	return corelogging.NewLogger("module: hsu-core , ", corelogging.LogFuncs{
		Debugf: logger.Debugf,
		Infof:  logger.Infof,
		Warnf:  logger.Warnf,
		Errorf: logger.Errorf,
	})
}

// reloader turns reload triggers into restart requests.
// Reloaded files are always compared with the configuration the pool was
// launched with, since restart-required changes are never adopted.
type reloader struct {
	configFile string
	launched   *config.LauncherConfig
	handle     *supervisor.Handle
	logger     logging.Logger
}

func (r *reloader) loop(ctx context.Context, sig <-chan os.Signal, extra <-chan struct{}) error {
	var watch <-chan struct{}
	if r.launched.WatchConfig && r.configFile != "" {
		changes, err := watchConfigFile(ctx, r.configFile, DefaultWatchDebounce, r.logger)
		if err != nil {
			r.logger.Warnf("Configuration watching disabled, error: %v", err)
		} else {
			watch = changes
			r.logger.Infof("Watching configuration file, path: %s", r.configFile)
		}
	}

	for {
		select {
		case received := <-sig:
			if isReloadSignal(received) {
				r.reload("signal " + received.String())
				continue
			}
			r.logger.Infof("Launcher received signal: %v, shutting down", received)
			r.handle.Shutdown()
			return nil
		case <-extra:
			r.reload("reload request")
		case <-watch:
			r.reload("configuration file change")
		case <-ctx.Done():
			return nil
		}
	}
}

// reload re-reads the configuration and asks for a restart.
// An invalid configuration skips the restart.
func (r *reloader) reload(trigger string) {
	r.logger.Infof("Reload triggered, trigger: %s", trigger)

	if r.configFile != "" {
		next, err := config.LoadConfigFromFile(r.configFile)
		if err == nil {
			err = config.ValidateConfig(next)
		}
		if err != nil {
			r.logger.Errorf("Configuration reload failed, restart skipped, error: %v", err)
			return
		}
		if changes := r.launched.RestartRequiredChanges(next); len(changes) > 0 {
			r.logger.Warnf("Configuration changes require a full launcher restart and are ignored, changes: %v", changes)
		}
	}

	if r.handle.RequestRestart() {
		r.logger.Infof("Restart requested, unit: %s", r.handle.Unit())
	} else {
		r.logger.Infof("Restart already pending, request coalesced, unit: %s", r.handle.Unit())
	}
}
