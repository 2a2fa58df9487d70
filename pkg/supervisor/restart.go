package supervisor

import (
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

func (s *supervisor) restart() {
	start := time.Now()
	s.generation++
	method := s.opts.RestartMethod

	s.logger.Infof("Restart started, unit: %s, method: %s, generation: %d, workers: %d",
		s.unit, method, s.generation, s.size)

	var err error
	switch method {
	case RestartFull:
		err = s.fullRestart()
	default:
		err = s.rollingRestart()
	}

	outcome := OutcomeCompleted
	if err != nil {
		outcome = OutcomeAborted
		s.logger.Errorf("Restart aborted, unit: %s, method: %s, generation: %d, error: %v", s.unit, method, s.generation, err)
		if stale := s.staleSlots(s.size); len(stale) > 0 {
			s.logger.Warnf("Workers left on previous generation, unit: %s, slots: %v, generation: %d", s.unit, stale, s.generation)
		}
	} else {
		s.logger.Infof("Restart completed, unit: %s, method: %s, generation: %d, duration: %v",
			s.unit, method, s.generation, time.Since(start))
	}
	s.metrics.RestartCompleted(s.unit.Name, method, outcome, time.Since(start))
}

// rollingRestart replaces stale slots batch by batch until every owner
// belongs to the current generation.
func (s *supervisor) rollingRestart() error {
	batch := effectiveBatchSize(s.opts.BatchSize, s.size)
	for {
		slots := s.staleSlots(batch)
		if len(slots) == 0 {
			return nil
		}

		if s.opts.Order != OrderStartFirst && !s.canStop(slots) {
			s.logger.Warnf("Rolling restart waiting for pool to recover, slots: %v, running elsewhere: %d, required: %d",
				slots, s.runningExcept(slots), s.size-len(slots))
			recovered := s.waitFor(func() bool {
				slots = s.staleSlots(batch)
				return len(slots) == 0 || s.canStop(slots)
			})
			if !recovered {
				return errors.NewCancelledError("restart interrupted by shutdown", nil)
			}
			if len(slots) == 0 {
				return nil
			}
		}

		s.logger.Infof("Replacing worker batch, slots: %v, order: %s", slots, s.opts.Order)

		var err error
		if s.opts.Order == OrderStartFirst {
			err = s.replaceStartFirst(slots)
		} else {
			err = s.replaceStopFirst(slots)
		}
		if err != nil {
			return err
		}
	}
}

// staleSlots lists up to limit slots whose live owner predates the current generation.
// Owners that are not running yet come first since replacing them costs no capacity.
// Empty slots wait for a respawn, which already uses the current generation.
func (s *supervisor) staleSlots(limit int) []int {
	var starting, running []int
	for slot, w := range s.slots {
		if w == nil || w.generation >= s.generation {
			continue
		}
		if w.status == StatusStopping || isTerminal(w.status) {
			continue
		}
		if w.status == StatusRunning {
			running = append(running, slot)
		} else {
			starting = append(starting, slot)
		}
	}
	slots := append(starting, running...)
	if len(slots) > limit {
		slots = slots[:limit]
	}
	return slots
}

// canStop reports whether stopping slots leaves at least size-len(slots)
// workers running in the other slots.
func (s *supervisor) canStop(slots []int) bool {
	return s.runningExcept(slots) >= s.size-len(slots)
}

func (s *supervisor) runningExcept(slots []int) int {
	skip := make(map[int]bool, len(slots))
	for _, slot := range slots {
		skip[slot] = true
	}
	running := 0
	for slot, w := range s.slots {
		if w != nil && !skip[slot] && w.status == StatusRunning {
			running++
		}
	}
	return running
}

func (s *supervisor) replaceStopFirst(slots []int) error {
	old := make([]*worker, 0, len(slots))
	for _, slot := range slots {
		w := s.slots[slot]
		s.slots[slot] = nil
		s.stopWorker(w, "rolling restart")
		old = append(old, w)
	}

	if !s.waitFor(func() bool { return allTerminal(old) }) {
		return errors.NewCancelledError("restart interrupted by shutdown", nil)
	}

	replacements, err := s.fillSlots(slots)
	if err != nil {
		return err
	}
	return s.awaitRunning(replacements)
}

func (s *supervisor) replaceStartFirst(slots []int) error {
	surge := make([]*worker, 0, len(slots))
	for _, slot := range slots {
		w, err := s.spawn(slot)
		if err != nil {
			s.stopAll(surge, "restart aborted")
			return errors.NewSpawnError("failed to spawn replacement worker", err).WithContext("slot", slot)
		}
		surge = append(surge, w)
	}

	if err := s.awaitRunning(surge); err != nil {
		s.stopAll(surge, "restart aborted")
		return err
	}

	old := make([]*worker, 0, len(slots))
	for i, slot := range slots {
		prev := s.slots[slot]
		s.slots[slot] = surge[i]
		if prev != nil {
			s.stopWorker(prev, "rolling restart")
			old = append(old, prev)
		}
	}

	if !s.waitFor(func() bool { return allTerminal(old) }) {
		return errors.NewCancelledError("restart interrupted by shutdown", nil)
	}
	return nil
}

func (s *supervisor) fullRestart() error {
	var old []*worker
	var slots []int
	for slot, w := range s.slots {
		slots = append(slots, slot)
		if w == nil {
			continue
		}
		s.slots[slot] = nil
		s.stopWorker(w, "full restart")
		old = append(old, w)
	}

	if !s.waitFor(func() bool { return allTerminal(old) }) {
		return errors.NewCancelledError("restart interrupted by shutdown", nil)
	}

	replacements, err := s.fillSlots(slots)
	if err != nil {
		return err
	}
	return s.awaitRunning(replacements)
}

// fillSlots spawns owners for empty slots that have no respawn pending
func (s *supervisor) fillSlots(slots []int) ([]*worker, error) {
	var spawned []*worker
	for _, slot := range slots {
		if s.slots[slot] != nil {
			continue
		}
		if _, pending := s.respawnPending[slot]; pending {
			continue
		}
		s.backoff.reset(slot)
		w, err := s.spawn(slot)
		if err != nil {
			s.scheduleRespawn(slot, 0)
			return spawned, errors.NewSpawnError("failed to spawn replacement worker", err).WithContext("slot", slot)
		}
		s.slots[slot] = w
		spawned = append(spawned, w)
	}
	return spawned, nil
}

// awaitRunning waits until every worker in ws is running.
// It fails as soon as one of them exits or is stopped first.
func (s *supervisor) awaitRunning(ws []*worker) error {
	var failed *worker
	ok := s.waitFor(func() bool {
		for _, w := range ws {
			if w.status == StatusStopping || isTerminal(w.status) {
				failed = w
				return true
			}
		}
		for _, w := range ws {
			if w.status != StatusRunning {
				return false
			}
		}
		return true
	})
	if !ok {
		return errors.NewCancelledError("restart interrupted by shutdown", nil)
	}
	if failed != nil {
		return errors.NewCrashError("replacement worker failed before becoming ready", nil).
			WithContext("slot", failed.slot).
			WithContext("status", string(failed.status))
	}
	return nil
}

func (s *supervisor) stopAll(ws []*worker, reason string) {
	for _, w := range ws {
		s.stopWorker(w, reason)
	}
}

func allTerminal(ws []*worker) bool {
	for _, w := range ws {
		if !isTerminal(w.status) {
			return false
		}
	}
	return true
}
