package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-launcher/pkg/capability"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/service"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"
)

const (
	DefaultTopic       = "engine"
	DefaultControlPort = 50055

	TransportNATS  = "nats"
	TransportLocal = "local"
)

// LauncherConfig represents the top-level configuration file structure
type LauncherConfig struct {
	Service      ServiceConfig      `yaml:"service"`
	Workers      WorkersConfig      `yaml:"workers"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Transport    TransportConfig    `yaml:"transport"`
	Control      ControlConfig      `yaml:"control"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      logging.ZapConfig  `yaml:"logging"`
	PIDFile      string             `yaml:"pid_file,omitempty"`
	WatchConfig  bool               `yaml:"watch_config,omitempty"`
}

// ServiceConfig identifies the service unit the workers serve
type ServiceConfig struct {
	Name  string `yaml:"name,omitempty"` // Defaults to the topic
	Host  string `yaml:"host,omitempty"` // Defaults to the machine hostname
	Topic string `yaml:"topic,omitempty"`
}

type WorkersConfig struct {
	Count        int           `yaml:"count,omitempty"`      // 0 derives the count from the CPU count
	Executable   string        `yaml:"executable,omitempty"` // Defaults to the launcher binary in worker mode
	Args         []string      `yaml:"args,omitempty"`
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`
}

type SupervisorConfig struct {
	RestartMethod   supervisor.RestartPolicy `yaml:"restart_method,omitempty"`
	BatchSize       int                      `yaml:"batch_size,omitempty"`
	Order           supervisor.RestartOrder  `yaml:"order,omitempty"`
	GracefulTimeout time.Duration            `yaml:"graceful_timeout,omitempty"`
	KillTimeout     time.Duration            `yaml:"kill_timeout,omitempty"`
	Respawn         supervisor.RespawnConfig `yaml:"respawn,omitempty"`
}

type CapabilitiesConfig struct {
	Builtin      *bool    `yaml:"builtin,omitempty"` // Pointer to distinguish unset from false
	ManifestDirs []string `yaml:"manifest_dirs,omitempty"`
	Disabled     []string `yaml:"disabled,omitempty"`
}

type TransportConfig struct {
	Type string             `yaml:"type,omitempty"`
	NATS service.NATSConfig `yaml:"nats,omitempty"`
}

type ControlConfig struct {
	Port int `yaml:"port,omitempty"` // Negative disables the control server
}

type MetricsConfig struct {
	Address string `yaml:"address,omitempty"` // Empty disables the metrics endpoint
}

// LoadConfigFromFile loads launcher configuration from a YAML file
func LoadConfigFromFile(filename string) (*LauncherConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}
	return config, nil
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*LauncherConfig, error) {
	var config LauncherConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}
	return &config, nil
}

// DefaultConfig is the configuration used when no file is given
func DefaultConfig() (*LauncherConfig, error) {
	return Parse(nil)
}

func setConfigDefaults(config *LauncherConfig) error {
	if config.Service.Topic == "" {
		config.Service.Topic = DefaultTopic
	}
	if config.Service.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			return errors.NewIOError("failed to determine hostname", err)
		}
		config.Service.Host = sanitizeHost(host)
	}
	if config.Service.Name == "" {
		config.Service.Name = config.Service.Topic
	}

	if config.Workers.ReadyTimeout == 0 {
		config.Workers.ReadyTimeout = supervisor.DefaultReadyTimeout
	}

	if config.Supervisor.RestartMethod == "" {
		config.Supervisor.RestartMethod = supervisor.RestartMutate
	}
	if config.Supervisor.Order == "" {
		config.Supervisor.Order = supervisor.OrderStopFirst
	}
	if config.Supervisor.BatchSize == 0 {
		config.Supervisor.BatchSize = 1
	}
	if config.Supervisor.GracefulTimeout == 0 {
		config.Supervisor.GracefulTimeout = supervisor.DefaultGracefulTimeout
	}
	if config.Supervisor.KillTimeout == 0 {
		config.Supervisor.KillTimeout = supervisor.DefaultKillTimeout
	}

	respawnDefaults := supervisor.DefaultRespawnConfig()
	if config.Supervisor.Respawn.RetryDelay == 0 {
		config.Supervisor.Respawn.RetryDelay = respawnDefaults.RetryDelay
	}
	if config.Supervisor.Respawn.BackoffRate == 0 {
		config.Supervisor.Respawn.BackoffRate = respawnDefaults.BackoffRate
	}
	if config.Supervisor.Respawn.MaxDelay == 0 {
		config.Supervisor.Respawn.MaxDelay = respawnDefaults.MaxDelay
	}
	if config.Supervisor.Respawn.StableAfter == 0 {
		config.Supervisor.Respawn.StableAfter = respawnDefaults.StableAfter
	}

	if config.Capabilities.Builtin == nil {
		builtin := true
		config.Capabilities.Builtin = &builtin
	}

	if config.Transport.Type == "" {
		config.Transport.Type = TransportNATS
	}

	if config.Control.Port == 0 {
		config.Control.Port = DefaultControlPort
	}

	logDefaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = logDefaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = logDefaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = logDefaults.Output
	}

	return nil
}

// sanitizeHost keeps the short hostname so it can form one subject token
func sanitizeHost(host string) string {
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

// ServiceUnit builds the unit the workers serve
func (c *LauncherConfig) ServiceUnit() service.Unit {
	unit := service.Build(c.Service.Host, c.Service.Topic)
	if c.Service.Name != "" {
		unit = unit.WithName(c.Service.Name)
	}
	return unit
}

// SupervisorOptions maps the configuration onto supervisor options
func (c *LauncherConfig) SupervisorOptions(logger logging.Logger, metrics supervisor.MetricsCollector) supervisor.Options {
	return supervisor.Options{
		RestartMethod:   c.Supervisor.RestartMethod,
		Order:           c.Supervisor.Order,
		BatchSize:       c.Supervisor.BatchSize,
		GracefulTimeout: c.Supervisor.GracefulTimeout,
		KillTimeout:     c.Supervisor.KillTimeout,
		ReadyTimeout:    c.Workers.ReadyTimeout,
		Respawn:         c.Supervisor.Respawn,
		Logger:          logger,
		Metrics:         metrics,
	}
}

// CapabilityLoader composes the configured plugin sources
func (c *LauncherConfig) CapabilityLoader(logger logging.Logger) capability.Loader {
	var loaders capability.MultiLoader
	if c.Capabilities.Builtin == nil || *c.Capabilities.Builtin {
		loaders = append(loaders, capability.BuiltinLoader{})
	}
	if len(c.Capabilities.ManifestDirs) > 0 {
		loaders = append(loaders, capability.ManifestLoader{
			Directories: c.Capabilities.ManifestDirs,
			Logger:      logger,
		})
	}
	return capability.FilterLoader{
		Loader:   loaders,
		Disabled: c.Capabilities.Disabled,
	}
}

// RestartRequiredChanges lists settings that differ between c and next but
// only take effect when the launcher itself is restarted.
func (c *LauncherConfig) RestartRequiredChanges(next *LauncherConfig) []string {
	var changes []string
	if c.Workers.Count != next.Workers.Count {
		changes = append(changes, fmt.Sprintf("workers.count: %d -> %d", c.Workers.Count, next.Workers.Count))
	}
	if c.Service.Topic != next.Service.Topic {
		changes = append(changes, fmt.Sprintf("service.topic: %s -> %s", c.Service.Topic, next.Service.Topic))
	}
	if c.Service.Host != next.Service.Host {
		changes = append(changes, fmt.Sprintf("service.host: %s -> %s", c.Service.Host, next.Service.Host))
	}
	if c.Service.Name != next.Service.Name {
		changes = append(changes, fmt.Sprintf("service.name: %s -> %s", c.Service.Name, next.Service.Name))
	}
	if c.Control.Port != next.Control.Port {
		changes = append(changes, fmt.Sprintf("control.port: %d -> %d", c.Control.Port, next.Control.Port))
	}
	if c.Metrics.Address != next.Metrics.Address {
		changes = append(changes, fmt.Sprintf("metrics.address: %s -> %s", c.Metrics.Address, next.Metrics.Address))
	}
	if c.Supervisor != next.Supervisor {
		changes = append(changes, "supervisor")
	}
	return changes
}

// Summary renders the effective configuration on one line for logging
func (c *LauncherConfig) Summary() string {
	count := "auto"
	if c.Workers.Count > 0 {
		count = fmt.Sprintf("%d", c.Workers.Count)
	}
	return fmt.Sprintf("unit: %s, workers: %s, restart method: %s, order: %s, batch size: %d, transport: %s, control port: %d, metrics: %s",
		c.ServiceUnit(), count, c.Supervisor.RestartMethod, c.Supervisor.Order, c.Supervisor.BatchSize,
		c.Transport.Type, c.Control.Port, orDisabled(c.Metrics.Address))
}

func orDisabled(value string) string {
	if value == "" {
		return "disabled"
	}
	return value
}
