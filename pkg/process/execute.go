package process

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// ReadyMarker is the stdout line a worker prints once it accepts work.
const ReadyMarker = "HSU_WORKER_READY"

const maxLineSize = 1024 * 1024

type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
}

// LineFunc receives every stdout/stderr line of a child except the ready marker.
type LineFunc func(line string)

// Handle is a started child process.
// Ready is closed when the child prints ReadyMarker, Done when it has exited
// and its output has been fully consumed.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	exitErr   error
	logger    logging.Logger
}

// Start launches the configured executable in its own process group.
// The child is not bound to a context: its lifetime is controlled
// explicitly through Terminate and Kill.
func Start(execution ExecutionConfig, onLine LineFunc, logger logging.Logger) (*Handle, error) {
	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, executable: %s, error: %v", execution.ExecutablePath, err)
		return nil, errors.NewValidationError("invalid execution configuration", err)
	}

	if err := ensureExecutable(execution.ExecutablePath); err != nil {
		return nil, errors.NewIOError("failed to ensure process is executable", err).WithContext("executable_path", execution.ExecutablePath)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).WithContext("executable_path", execution.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)

	setupProcessAttributes(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewProcessError("failed to create stdout pipe", err).WithContext("executable_path", execution.ExecutablePath)
	}
	cmd.Stderr = cmd.Stdout

	logger.Debugf("Executing process, executable path: '%s', args: %v, working directory: '%s'",
		execution.ExecutablePath, execution.Args, workDir)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).WithContext("executable_path", execution.ExecutablePath)
	}

	h := &Handle{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}

	go h.consume(stdout, onLine)

	logger.Infof("Successfully executed process, PID: %d", h.pid)

	return h, nil
}

func (h *Handle) consume(stdout io.Reader, onLine LineFunc) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == ReadyMarker {
			h.readyOnce.Do(func() { close(h.ready) })
			continue
		}
		if onLine != nil {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warnf("Output scanning stopped, PID: %d, error: %v", h.pid, err)
		// Keep the pipe drained so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, stdout)
	}

	h.exitErr = h.cmd.Wait()
	close(h.done)
}

func (h *Handle) Pid() int {
	return h.pid
}

func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr is the result of waiting for the child. Only valid after Done is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.exitErr
	default:
		return nil
	}
}

// Terminate asks the child's process group to shut down gracefully.
func (h *Handle) Terminate() error {
	if err := sendTerminationSignal(h.pid); err != nil {
		return errors.NewProcessError("failed to send termination signal", err).WithContext("pid", h.pid)
	}
	return nil
}

// Kill forcefully stops the child's process group.
func (h *Handle) Kill() error {
	if err := killProcessGroup(h.cmd.Process); err != nil {
		select {
		case <-h.done:
			return nil
		default:
		}
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", h.pid)
	}
	return nil
}

// NotifyReady prints ReadyMarker, telling the supervising parent
// that this worker is accepting work.
func NotifyReady(w io.Writer) error {
	_, err := fmt.Fprintln(w, ReadyMarker)
	return err
}
