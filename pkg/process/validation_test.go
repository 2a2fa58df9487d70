package process

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

func TestValidatePID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"valid", "1234", 1234, false},
		{"empty", "", 0, true},
		{"not a number", "abc", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := ValidatePID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}

func TestValidateExecutionConfig(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "worker")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755))

	tests := []struct {
		name    string
		config  ExecutionConfig
		wantErr bool
	}{
		{"valid", ExecutionConfig{ExecutablePath: exe}, false},
		{"valid with dir and env", ExecutionConfig{ExecutablePath: exe, WorkingDirectory: dir, Environment: []string{"A=1"}}, false},
		{"missing path", ExecutionConfig{}, true},
		{"missing executable", ExecutionConfig{ExecutablePath: filepath.Join(dir, "nope")}, true},
		{"relative working dir", ExecutionConfig{ExecutablePath: exe, WorkingDirectory: "rel"}, true},
		{"working dir is file", ExecutionConfig{ExecutablePath: exe, WorkingDirectory: exe}, true},
		{"bad env", ExecutionConfig{ExecutablePath: exe, Environment: []string{"NOEQUALS"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotifyReady(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NotifyReady(&buf))
	assert.Equal(t, ReadyMarker+"\n", buf.String())
}
