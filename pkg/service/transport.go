package service

import (
	"context"

	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// Transport delivers requests addressed to a unit's topic to a handler.
type Transport interface {
	// Bind starts listening and returns once the unit is addressable.
	Bind(ctx context.Context, unit Unit, handler Handler) error
	// Close stops accepting requests and waits for in-flight ones.
	Close() error
}

// Run binds handler on transport, calls ready once listening, serves until
// ctx ends and then drains.
func Run(ctx context.Context, unit Unit, transport Transport, handler Handler, ready func(), logger logging.Logger) error {
	if err := unit.Validate(); err != nil {
		return err
	}

	if err := transport.Bind(ctx, unit, handler); err != nil {
		logger.Errorf("Failed to bind service, unit: %s, error: %v", unit, err)
		return err
	}
	logger.Infof("Service bound, unit: %s", unit)

	if ready != nil {
		ready()
	}

	<-ctx.Done()

	logger.Infof("Service stopping, draining in-flight requests, unit: %s", unit)
	if err := transport.Close(); err != nil {
		logger.Warnf("Transport close failed, unit: %s, error: %v", unit, err)
		return err
	}
	logger.Infof("Service stopped, unit: %s", unit)
	return nil
}
