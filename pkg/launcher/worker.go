package launcher

import (
	"context"
	"io"
	"os"

	"github.com/core-tools/hsu-launcher/pkg/capability"
	"github.com/core-tools/hsu-launcher/pkg/config"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/service"
)

type WorkerOptions struct {
	Config   *config.LauncherConfig
	Identity WorkerIdentity
	Logger   logging.Logger

	// Ready receives the readiness marker, os.Stdout when nil
	Ready io.Writer
	// Transport and Handler replace the configured ones when set
	Transport service.Transport
	Handler   service.Handler
}

// RunWorker serves the unit in the current process until ctx is done.
// Capabilities are validated first, so a worker never binds without them.
func RunWorker(ctx context.Context, opts WorkerOptions) error {
	if opts.Config == nil {
		return errors.NewValidationError("configuration is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	registry := capability.NewRegistry(opts.Config.CapabilityLoader(logger), logger)
	if err := registry.Validate(ctx); err != nil {
		return err
	}

	unit := opts.Config.ServiceUnit()
	if opts.Identity.Unit != nil {
		unit = *opts.Identity.Unit
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = newTransport(opts.Config.Transport, logger)
		if err != nil {
			return err
		}
	}

	handler := opts.Handler
	if handler == nil {
		handler = service.NewStatusHandler(service.Identity{
			Unit:         unit,
			Instance:     opts.Identity.Instance,
			Slot:         opts.Identity.Slot,
			Generation:   opts.Identity.Generation,
			Capabilities: registry.Names(),
		})
	}

	readyWriter := opts.Ready
	if readyWriter == nil {
		readyWriter = os.Stdout
	}
	ready := func() {
		if err := process.NotifyReady(readyWriter); err != nil {
			logger.Errorf("Failed to report readiness, error: %v", err)
		}
	}

	logger.Infof("Worker starting, unit: %s, slot: %d, generation: %d, instance: %s, capabilities: %d",
		unit, opts.Identity.Slot, opts.Identity.Generation, opts.Identity.Instance, len(registry.Names()))

	return service.Run(ctx, unit, transport, handler, ready, logger)
}

func newTransport(cfg config.TransportConfig, logger logging.Logger) (service.Transport, error) {
	switch cfg.Type {
	case config.TransportNATS:
		return service.NewNATSTransport(cfg.NATS, logger), nil
	case config.TransportLocal:
		return service.NewLocalTransport(), nil
	default:
		return nil, errors.NewValidationError("unsupported transport type: "+cfg.Type, nil)
	}
}
