package workercount

import "runtime"

// MinDefault is the floor applied when the count is derived from hardware.
const MinDefault = 4

// Detector estimates hardware concurrency
type Detector func() int

// Resolve returns configured when it is positive, otherwise max(MinDefault, detect()).
// The result is always at least 1.
func Resolve(configured int, detect Detector) int {
	if configured > 0 {
		return configured
	}
	detected := 0
	if detect != nil {
		detected = detect()
	}
	if detected < MinDefault {
		return MinDefault
	}
	return detected
}

// Default resolves against runtime.NumCPU.
func Default(configured int) int {
	return Resolve(configured, runtime.NumCPU)
}
