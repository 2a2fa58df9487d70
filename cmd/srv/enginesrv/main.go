package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-launcher/pkg/capability"
	"github.com/core-tools/hsu-launcher/pkg/config"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/launcher"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

type flagOptions struct {
	Config         string `long:"config" description:"path to the launcher configuration file" required:"true"`
	Worker         bool   `long:"worker" description:"serve the unit in this process instead of supervising a pool"`
	Slot           int    `long:"slot" description:"worker slot, overrides HSU_WORKER_SLOT"`
	Instance       string `long:"instance" description:"worker instance id, overrides HSU_WORKER_INSTANCE"`
	RunDuration    int    `long:"run-duration" description:"Duration in seconds to run the launcher (debug feature)"`
	ValidateConfig bool   `long:"validate-config" description:"validate configuration and capabilities, then exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		return 1
	}

	cfg, err := config.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}

	backend, err := logging.NewZapBackend(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to create logger: %v\n", err)
		return 1
	}
	defer backend.Sync()

	if opts.Worker {
		return runWorker(opts, cfg, backend)
	}

	base := backend.Logger("")
	logger := logging.WithPrefix(base, logPrefix("hsu-launcher"))
	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: base.Debugf,
			Infof:  base.Infof,
			Warnf:  base.Warnf,
			Errorf: base.Errorf,
		})

	logger.Infof("opts: %+v", opts)

	if opts.ValidateConfig {
		return validate(cfg, logger)
	}

	err = launcher.Run(context.Background(), launcher.Options{
		ConfigFile:  opts.Config,
		Config:      cfg,
		RunDuration: time.Duration(opts.RunDuration) * time.Second,
		Logger:      logger,
		CoreLogger:  coreLogger,
	})
	if err != nil {
		return fatal(logger, err)
	}
	return 0
}

func runWorker(opts flagOptions, cfg *config.LauncherConfig, backend *logging.ZapBackend) int {
	identity, err := launcher.WorkerIdentityFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}
	if opts.Slot > 0 {
		identity.Slot = opts.Slot
	}
	if opts.Instance != "" {
		identity.Instance = opts.Instance
	}

	logger := backend.With("slot", identity.Slot, "instance", identity.Instance).Logger(logPrefix("hsu-worker"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = launcher.RunWorker(ctx, launcher.WorkerOptions{
		Config:   cfg,
		Identity: identity,
		Logger:   logger,
	})
	if err != nil {
		return fatal(logger, err)
	}
	return 0
}

func validate(cfg *config.LauncherConfig, logger logging.Logger) int {
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}
	registry := capability.NewRegistry(cfg.CapabilityLoader(logger), logger)
	if err := registry.Validate(context.Background()); err != nil {
		return fatal(logger, err)
	}
	fmt.Printf("Configuration is valid, %s, capabilities: %d\n", cfg.Summary(), len(registry.Names()))
	return 0
}

func fatal(logger logging.Logger, err error) int {
	if errors.IsNoCapabilitiesError(err) {
		fmt.Fprintln(os.Stderr, "ERROR: No template format plugins registered")
		return 1
	}
	logger.Errorf("Launcher failed: %v", err)
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	return 1
}
