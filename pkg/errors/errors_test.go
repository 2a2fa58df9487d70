package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Formatting(t *testing.T) {
	cause := errors.New("exec format error")

	err := NewSpawnError("failed to spawn worker", cause).WithContext("slot", 2)

	assert.Equal(t, "spawn: failed to spawn worker: exec format error", err.Error())
	assert.Equal(t, 2, err.Context["slot"])
	assert.ErrorIs(t, err, cause)

	plain := NewNoCapabilitiesError("no template format plugins registered", nil)
	assert.Equal(t, "capability: no template format plugins registered", plain.Error())
}

func TestDomainError_TypeChecks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"capability", NewNoCapabilitiesError("none", nil), IsNoCapabilitiesError},
		{"spawn", NewSpawnError("spawn", nil), IsSpawnError},
		{"crash", NewCrashError("crash", nil), IsCrashError},
		{"timeout", NewTimeoutError("timeout", nil), IsTimeoutError},
		{"validation", NewValidationError("bad", nil), IsValidationError},
		{"io", NewIOError("io", nil), IsIOError},
		{"process", NewProcessError("process", nil), IsProcessError},
		{"cancelled", NewCancelledError("cancelled", nil), IsCancelledError},
		{"internal", NewInternalError("internal", nil), IsInternalError},
		{"not_found", NewNotFoundError("missing", nil), IsNotFoundError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)), "type must survive wrapping")
		})
	}

	assert.False(t, IsSpawnError(NewCrashError("crash", nil)))
	assert.False(t, IsNoCapabilitiesError(errors.New("plain")))
}

func TestDomainError_IsMatchesByType(t *testing.T) {
	err := NewSpawnError("first", nil)
	assert.True(t, errors.Is(err, NewSpawnError("other message", nil)))
	assert.False(t, errors.Is(err, NewCrashError("first", nil)))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(errors.New("first"))
	assert.Equal(t, "first", collection.Error())

	collection.Add(errors.New("second"))
	assert.Equal(t, "2 errors occurred: first", collection.Error())
	assert.Error(t, collection.ToError())
}
