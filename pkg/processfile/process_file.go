package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/processstate"
)

const DefaultAppName = "hsu-launcher"

// ServiceContext selects the OS-appropriate directory family for process files
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

// ProcessFileConfig describes where the launcher PID file lives.
// An explicit Path wins over the generated location.
type ProcessFileConfig struct {
	Path            string
	BaseDirectory   string
	ServiceContext  ServiceContext
	AppName         string
	UseSubdirectory bool
}

// ProcessFileManager owns the launcher PID file
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// PIDFilePath returns the PID file path for the named service
func (m *ProcessFileManager) PIDFilePath(name string) string {
	if m.config.Path != "" {
		return m.config.Path
	}

	baseDir := m.baseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return filepath.Join(baseDir, name+".pid")
}

// WritePIDFile records pid for the named service.
// It refuses to overwrite a file that points at another live process,
// which means a second launcher for the same service is already running.
func (m *ProcessFileManager) WritePIDFile(name string, pid int) error {
	path := m.PIDFilePath(name)
	m.logger.Debugf("Writing PID file, service: %s, pid: %d, path: %s", name, pid, path)

	if existing, err := m.ReadPIDFile(name); err == nil && existing != pid {
		running, _ := processstate.IsProcessRunning(existing)
		if running {
			return errors.NewValidationError("another launcher is already running", nil).
				WithContext("pid_file", path).
				WithContext("pid", existing)
		}
		m.logger.Warnf("Replacing stale PID file, service: %s, stale pid: %d, path: %s", name, existing, path)
	}

	if err := ValidatePIDFileDirectory(path); err != nil {
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", path)
	}

	content := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, service: %s, pid: %d, path: %s, error: %v", name, pid, path, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written successfully, service: %s, pid: %d, path: %s", name, pid, path)
	return nil
}

func (m *ProcessFileManager) ReadPIDFile(name string) (int, error) {
	path := m.PIDFilePath(name)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", path)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}
	return process.ValidatePID(strings.TrimSpace(string(content)))
}

// RemovePIDFile deletes the PID file if it still holds pid
func (m *ProcessFileManager) RemovePIDFile(name string, pid int) error {
	path := m.PIDFilePath(name)
	existing, err := m.ReadPIDFile(name)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil
		}
		return err
	}
	if existing != pid {
		m.logger.Warnf("PID file owned by another process, leaving it, path: %s, pid: %d", path, existing)
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}
	m.logger.Debugf("PID file removed, path: %s", path)
	return nil
}

func (m *ProcessFileManager) baseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemServiceDirectory()
	case SessionService:
		return os.TempDir()
	default:
		return userServiceDirectory()
	}
}

func systemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if programData := os.Getenv("PROGRAMDATA"); programData != "" {
			return programData
		}
		return "C:\\ProgramData"
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		return os.TempDir()
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

// ValidatePIDFileDirectory creates the parent directory if needed and checks it is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewIOError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
