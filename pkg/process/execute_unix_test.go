//go:build !windows

package process

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-launcher/pkg/logging"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) record(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func shell(script string) ExecutionConfig {
	return ExecutionConfig{
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", script},
	}
}

func TestStart_ReadyAndTerminate(t *testing.T) {
	rec := &lineRecorder{}
	h, err := Start(shell("echo booting; echo "+ReadyMarker+"; sleep 30"), rec.record, logging.Nop())
	require.NoError(t, err)
	assert.Greater(t, h.Pid(), 0)

	select {
	case <-h.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("process never reported ready")
	}

	require.NoError(t, h.Terminate())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}

	assert.Error(t, h.ExitErr(), "terminated process reports a signal exit")
	assert.Equal(t, []string{"booting"}, rec.snapshot(), "ready marker is not forwarded")
}

func TestStart_ExitBeforeReady(t *testing.T) {
	h, err := Start(shell("echo failing; exit 3"), nil, logging.Nop())
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	assert.Error(t, h.ExitErr())
	select {
	case <-h.Ready():
		t.Fatal("ready must stay open when the marker was never printed")
	default:
	}
}

func TestStart_KillIgnoringTerm(t *testing.T) {
	h, err := Start(shell("trap '' TERM; echo "+ReadyMarker+"; while true; do sleep 1; done"), nil, logging.Nop())
	require.NoError(t, err)

	<-h.Ready()
	require.NoError(t, h.Terminate())

	select {
	case <-h.Done():
		t.Fatal("process should ignore SIGTERM")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, h.Kill())
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived SIGKILL")
	}
}

func TestStart_InvalidConfig(t *testing.T) {
	_, err := Start(ExecutionConfig{}, nil, logging.Nop())
	assert.Error(t, err)

	_, err = Start(ExecutionConfig{ExecutablePath: "/does/not/exist"}, nil, logging.Nop())
	assert.Error(t, err)
}

func TestExitErr_BeforeDone(t *testing.T) {
	h, err := Start(shell("sleep 30"), nil, logging.Nop())
	require.NoError(t, err)
	defer func() {
		_ = h.Kill()
		<-h.Done()
	}()

	assert.NoError(t, h.ExitErr())
}
