package config

import (
	"fmt"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"
)

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *LauncherConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := config.ServiceUnit().Validate(); err != nil {
		return errors.NewValidationError("invalid service configuration", err)
	}

	if err := validateWorkersConfig(&config.Workers); err != nil {
		return errors.NewValidationError("invalid workers configuration", err)
	}

	if err := supervisor.ValidateOptions(config.SupervisorOptions(nil, nil)); err != nil {
		return errors.NewValidationError("invalid supervisor configuration", err)
	}

	if err := validateTransportConfig(&config.Transport); err != nil {
		return errors.NewValidationError("invalid transport configuration", err)
	}

	if config.Control.Port > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", config.Control.Port),
			nil,
		).WithContext("valid_range", "1-65535")
	}

	if !logging.ValidLevel(config.Logging.Level) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Logging.Level),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}
	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", config.Logging.Format),
			nil,
		).WithContext("valid_formats", "json, console")
	}

	return nil
}

func validateWorkersConfig(config *WorkersConfig) error {
	if config.Count < 0 {
		return errors.NewValidationError(fmt.Sprintf("worker count cannot be negative: %d", config.Count), nil)
	}
	if config.ReadyTimeout < 0 {
		return errors.NewValidationError("ready timeout cannot be negative", nil)
	}
	if config.Executable != "" {
		if err := process.ValidateExecutionConfig(process.ExecutionConfig{
			ExecutablePath: config.Executable,
			Args:           config.Args,
		}); err != nil {
			return err
		}
	}
	return nil
}

func validateTransportConfig(config *TransportConfig) error {
	switch config.Type {
	case TransportNATS:
		if config.NATS.MaxReconnects < -1 {
			return errors.NewValidationError("max reconnects must be -1 (unlimited) or greater", nil)
		}
		if config.NATS.ReconnectWait < 0 || config.NATS.Timeout < 0 || config.NATS.PingInterval < 0 || config.NATS.DrainTimeout < 0 {
			return errors.NewValidationError("NATS durations cannot be negative", nil)
		}
		return nil
	case TransportLocal:
		return nil
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported transport type: %s", config.Type),
			nil,
		).WithContext("supported_types", "nats, local")
	}
}
