package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-launcher/pkg/capability"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "launcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *LauncherConfig)
	}{
		{
			name: "valid comprehensive config",
			configYAML: `
service:
  name: "engine-pool"
  host: "node-7"
  topic: "engine"
workers:
  count: 6
  ready_timeout: 10s
supervisor:
  restart_method: "mutate"
  order: "start-first"
  batch_size: 2
  graceful_timeout: 15s
  kill_timeout: 3s
  respawn:
    retry_delay: 500ms
    backoff_rate: 1.5
    max_delay: 20s
    stable_after: 2m
capabilities:
  builtin: false
  manifest_dirs: ["/etc/hsu/plugins"]
  disabled: ["heat_template_version.2013-05-23"]
transport:
  type: "nats"
  nats:
    url: "nats://broker:4222"
    max_reconnects: 5
control:
  port: 50100
metrics:
  address: ":9100"
logging:
  level: "debug"
  format: "console"
pid_file: "/run/hsu/engine.pid"
watch_config: true
`,
			validate: func(t *testing.T, config *LauncherConfig) {
				assert.Equal(t, "engine-pool", config.Service.Name)
				assert.Equal(t, "node-7", config.Service.Host)
				assert.Equal(t, 6, config.Workers.Count)
				assert.Equal(t, 10*time.Second, config.Workers.ReadyTimeout)
				assert.Equal(t, supervisor.OrderStartFirst, config.Supervisor.Order)
				assert.Equal(t, 2, config.Supervisor.BatchSize)
				assert.Equal(t, 15*time.Second, config.Supervisor.GracefulTimeout)
				assert.Equal(t, 500*time.Millisecond, config.Supervisor.Respawn.RetryDelay)
				assert.Equal(t, 1.5, config.Supervisor.Respawn.BackoffRate)
				assert.Equal(t, 2*time.Minute, config.Supervisor.Respawn.StableAfter)
				require.NotNil(t, config.Capabilities.Builtin)
				assert.False(t, *config.Capabilities.Builtin)
				assert.Equal(t, "nats://broker:4222", config.Transport.NATS.URL)
				assert.Equal(t, 50100, config.Control.Port)
				assert.Equal(t, ":9100", config.Metrics.Address)
				assert.Equal(t, "console", config.Logging.Format)
				assert.Equal(t, "/run/hsu/engine.pid", config.PIDFile)
				assert.True(t, config.WatchConfig)
				assert.NoError(t, ValidateConfig(config))
			},
		},
		{
			name:       "empty config gets defaults",
			configYAML: "",
			validate: func(t *testing.T, config *LauncherConfig) {
				assert.Equal(t, DefaultTopic, config.Service.Topic)
				assert.Equal(t, DefaultTopic, config.Service.Name)
				assert.NotEmpty(t, config.Service.Host)
				assert.NotContains(t, config.Service.Host, ".")
				assert.Equal(t, 0, config.Workers.Count)
				assert.Equal(t, supervisor.RestartMutate, config.Supervisor.RestartMethod)
				assert.Equal(t, supervisor.OrderStopFirst, config.Supervisor.Order)
				assert.Equal(t, 1, config.Supervisor.BatchSize)
				assert.Equal(t, supervisor.DefaultGracefulTimeout, config.Supervisor.GracefulTimeout)
				assert.Equal(t, supervisor.DefaultRespawnConfig(), config.Supervisor.Respawn)
				assert.True(t, *config.Capabilities.Builtin)
				assert.Equal(t, TransportNATS, config.Transport.Type)
				assert.Equal(t, DefaultControlPort, config.Control.Port)
				assert.Equal(t, "info", config.Logging.Level)
				assert.NoError(t, ValidateConfig(config))
			},
		},
		{
			name:        "invalid YAML",
			configYAML:  "service: [unterminated",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfigFromFile(writeConfig(t, tt.configYAML))
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			tt.validate(t, config)
		})
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsIOError(err))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LauncherConfig)
	}{
		{name: "negative count", mutate: func(c *LauncherConfig) { c.Workers.Count = -1 }},
		{name: "wildcard topic", mutate: func(c *LauncherConfig) { c.Service.Topic = "engine.*" }},
		{name: "empty host", mutate: func(c *LauncherConfig) { c.Service.Host = "" }},
		{name: "unknown restart method", mutate: func(c *LauncherConfig) { c.Supervisor.RestartMethod = "reload" }},
		{name: "unknown order", mutate: func(c *LauncherConfig) { c.Supervisor.Order = "random" }},
		{name: "backoff below one", mutate: func(c *LauncherConfig) { c.Supervisor.Respawn.BackoffRate = 0.5 }},
		{name: "unknown transport", mutate: func(c *LauncherConfig) { c.Transport.Type = "carrier-pigeon" }},
		{name: "port out of range", mutate: func(c *LauncherConfig) { c.Control.Port = 70000 }},
		{name: "bad log level", mutate: func(c *LauncherConfig) { c.Logging.Level = "verbose" }},
		{name: "bad log format", mutate: func(c *LauncherConfig) { c.Logging.Format = "xml" }},
		{name: "missing executable", mutate: func(c *LauncherConfig) { c.Workers.Executable = "/nonexistent/engine-worker" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := DefaultConfig()
			require.NoError(t, err)
			tt.mutate(config)

			err = ValidateConfig(config)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}

	assert.Error(t, ValidateConfig(nil))
}

func TestLauncherConfig_ServiceUnit(t *testing.T) {
	config, err := Parse([]byte("service:\n  host: node-1\n  topic: orchestration\n"))
	require.NoError(t, err)

	unit := config.ServiceUnit()
	assert.Equal(t, "orchestration", unit.Topic)
	assert.Equal(t, "node-1", unit.Host)
	assert.Equal(t, "orchestration", unit.Name)
	assert.Equal(t, "orchestration.node-1", unit.HostAddress())
}

func TestLauncherConfig_SupervisorOptions(t *testing.T) {
	config, err := DefaultConfig()
	require.NoError(t, err)

	logger := logging.Nop()
	opts := config.SupervisorOptions(logger, nil)
	assert.Equal(t, config.Supervisor.GracefulTimeout, opts.GracefulTimeout)
	assert.Equal(t, config.Workers.ReadyTimeout, opts.ReadyTimeout)
	assert.Equal(t, logger, opts.Logger)
	assert.NoError(t, supervisor.ValidateOptions(opts))
}

func TestLauncherConfig_CapabilityLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte("name: custom.format\n"), 0644))

	config, err := Parse([]byte("capabilities:\n  builtin: false\n  manifest_dirs: [\"" + filepath.ToSlash(dir) + "\"]\n"))
	require.NoError(t, err)

	registry := capability.NewRegistry(config.CapabilityLoader(logging.Nop()), logging.Nop())
	require.NoError(t, registry.Validate(context.Background()))
	assert.Equal(t, []string{"custom.format"}, registry.Names())

	disabled, err := Parse([]byte("capabilities:\n  builtin: false\n  disabled: [custom.format]\n  manifest_dirs: [\"" + filepath.ToSlash(dir) + "\"]\n"))
	require.NoError(t, err)

	registry = capability.NewRegistry(disabled.CapabilityLoader(logging.Nop()), logging.Nop())
	assert.True(t, errors.IsNoCapabilitiesError(registry.Validate(context.Background())))
}

func TestLauncherConfig_RestartRequiredChanges(t *testing.T) {
	current, err := Parse([]byte("service:\n  host: node-1\nworkers:\n  count: 4\n"))
	require.NoError(t, err)

	same, err := Parse([]byte("service:\n  host: node-1\nworkers:\n  count: 4\nlogging:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Empty(t, current.RestartRequiredChanges(same))

	changed, err := Parse([]byte("service:\n  host: node-2\n  topic: other\nworkers:\n  count: 8\n"))
	require.NoError(t, err)
	changes := current.RestartRequiredChanges(changed)
	assert.Contains(t, changes, "workers.count: 4 -> 8")
	assert.Contains(t, changes, "service.topic: engine -> other")
	assert.Contains(t, changes, "service.host: node-1 -> node-2")
}

func TestLauncherConfig_Summary(t *testing.T) {
	config, err := Parse([]byte("service:\n  host: node-1\n"))
	require.NoError(t, err)

	summary := config.Summary()
	assert.Contains(t, summary, "unit: engine@engine.node-1")
	assert.Contains(t, summary, "workers: auto")
	assert.Contains(t, summary, "metrics: disabled")
}
