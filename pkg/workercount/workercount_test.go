package workercount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func cpus(n int) Detector {
	return func() int { return n }
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		detected   int
		want       int
	}{
		{"configured wins over hardware", 2, 16, 2},
		{"configured one", 1, 8, 1},
		{"configured large", 64, 2, 64},
		{"zero uses hardware", 0, 8, 8},
		{"zero floors at four", 0, 1, 4},
		{"zero with exactly four", 0, 4, 4},
		{"negative treated as unset", -3, 12, 12},
		{"broken detector", 0, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.configured, cpus(tt.detected)))
		})
	}
}

func TestResolve_ConfiguredAlwaysReturned(t *testing.T) {
	for c := 1; c <= 256; c++ {
		assert.Equal(t, c, Resolve(c, cpus(8)))
	}
}

func TestResolve_UnsetNeverBelowFloor(t *testing.T) {
	for n := -2; n <= 32; n++ {
		assert.GreaterOrEqual(t, Resolve(0, cpus(n)), MinDefault)
	}
	assert.Equal(t, MinDefault, Resolve(0, nil))
}

func TestDefault(t *testing.T) {
	assert.GreaterOrEqual(t, Default(0), MinDefault)
	assert.Equal(t, 3, Default(3))
}
