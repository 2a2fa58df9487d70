package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/service"
)

type eventKind int

const (
	eventReady eventKind = iota
	eventExited
	eventReadyTimeout
	eventGraceExpired
	eventKillExpired
	eventRespawnDue
)

type event struct {
	kind       eventKind
	instanceID string
	slot       int
	err        error
}

type worker struct {
	slot       int
	generation int
	instanceID string
	proc       Process
	status     WorkerStatus
	startedAt  time.Time

	readyTimer *time.Timer
	stopTimer  *time.Timer
}

func (w *worker) stopTimers() {
	if w.readyTimer != nil {
		w.readyTimer.Stop()
		w.readyTimer = nil
	}
	if w.stopTimer != nil {
		w.stopTimer.Stop()
		w.stopTimer = nil
	}
}

type pendingRespawn struct {
	timer *time.Timer
	delay time.Duration
}

// supervisor state below the channels is owned by the control loop goroutine.
// Other goroutines only post events or read the published view.
type supervisor struct {
	ctx     context.Context
	unit    service.Unit
	size    int
	spawner Spawner
	opts    Options
	logger  logging.Logger
	metrics MetricsCollector

	events       chan event
	restartCh    chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	workers        map[string]*worker
	slots          []*worker
	respawnPending map[int]pendingRespawn
	backoff        *respawnBackoff
	generation     int
	restartPending bool
	shuttingDown   bool

	viewMu  sync.RWMutex
	view    []WorkerProcess
	running int
}

// Handle controls a launched worker pool
type Handle struct {
	s *supervisor
}

// Launch starts count workers of unit and returns once every process has
// started. A spawn failure here is fatal: started workers are killed and a
// spawn error is returned. The pool stops when ctx is cancelled or
// Shutdown is called.
func Launch(ctx context.Context, unit service.Unit, count int, spawner Spawner, opts Options) (*Handle, error) {
	if count < 1 {
		return nil, errors.NewValidationError("worker count must be at least 1", nil).WithContext("count", count)
	}
	if err := unit.Validate(); err != nil {
		return nil, err
	}
	if spawner == nil {
		return nil, errors.NewValidationError("spawner is required", nil)
	}
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}
	opts.setDefaults()

	s := &supervisor{
		ctx:            ctx,
		unit:           unit,
		size:           count,
		spawner:        spawner,
		opts:           opts,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		events:         make(chan event),
		restartCh:      make(chan struct{}, 1),
		shutdownCh:     make(chan struct{}),
		done:           make(chan struct{}),
		workers:        make(map[string]*worker),
		slots:          make([]*worker, count),
		respawnPending: make(map[int]pendingRespawn),
		backoff:        newRespawnBackoff(opts.Respawn),
	}

	s.logger.Infof("Launching worker pool, unit: %s, workers: %d, restart method: %s, order: %s, batch size: %d",
		unit, count, opts.RestartMethod, opts.Order, effectiveBatchSize(opts.BatchSize, count))

	for slot := 0; slot < count; slot++ {
		w, err := s.spawn(slot)
		if err != nil {
			s.logger.Errorf("Initial worker spawn failed, slot: %d, started: %d, error: %v", slot, len(s.workers), err)
			s.abortLaunch()
			return nil, errors.NewSpawnError("failed to spawn initial worker pool", err).
				WithContext("slot", slot).
				WithContext("workers", count)
		}
		s.slots[slot] = w
	}

	go s.run()

	return &Handle{s: s}, nil
}

// abortLaunch kills whatever the failed launch started. The control loop never ran.
func (s *supervisor) abortLaunch() {
	defer close(s.done)

	for _, w := range s.workers {
		w.stopTimers()
		if err := w.proc.Kill(); err != nil {
			s.logger.Warnf("Failed to kill worker during launch abort, slot: %d, pid: %d, error: %v", w.slot, w.proc.Pid(), err)
		}
	}

	timeout := time.NewTimer(s.opts.KillTimeout)
	defer timeout.Stop()
	expired := false
	for _, w := range s.workers {
		if expired {
			break
		}
		select {
		case <-w.proc.Done():
		case <-timeout.C:
			expired = true
			s.logger.Errorf("Workers still alive after kill timeout during launch abort, timeout: %v", s.opts.KillTimeout)
		}
	}
	s.workers = make(map[string]*worker)
	s.publish()
}

func (s *supervisor) run() {
	defer close(s.done)

	s.publish()
	for {
		if s.shuttingDown {
			s.shutdownPool()
			return
		}
		if s.restartPending {
			s.restartPending = false
			s.restart()
			continue
		}
		s.step()
	}
}

// step blocks for one input of the control loop and applies it
func (s *supervisor) step() {
	var ctxDone <-chan struct{}
	var shutdownCh <-chan struct{}
	if !s.shuttingDown {
		ctxDone = s.ctx.Done()
		shutdownCh = s.shutdownCh
	}

	select {
	case ev := <-s.events:
		s.handle(ev)
	case <-s.restartCh:
		if s.shuttingDown {
			s.logger.Infof("Ignoring restart request during shutdown, unit: %s", s.unit)
			return
		}
		if s.restartPending {
			s.logger.Debugf("Restart already pending, coalescing request, unit: %s", s.unit)
		}
		s.restartPending = true
	case <-shutdownCh:
		s.beginShutdown("shutdown requested")
	case <-ctxDone:
		s.beginShutdown("context cancelled")
	}
}

// waitFor pumps the control loop until cond holds.
// It returns false if a shutdown started first.
func (s *supervisor) waitFor(cond func() bool) bool {
	for !cond() {
		if s.shuttingDown {
			return false
		}
		s.step()
	}
	return true
}

func (s *supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *supervisor) after(d time.Duration, ev event) *time.Timer {
	return time.AfterFunc(d, func() { s.post(ev) })
}

func (s *supervisor) watch(id string, proc Process) {
	select {
	case <-proc.Ready():
		s.post(event{kind: eventReady, instanceID: id})
	case <-proc.Done():
	}
	<-proc.Done()
	s.post(event{kind: eventExited, instanceID: id, err: proc.ExitErr()})
}

func (s *supervisor) spawn(slot int) (*worker, error) {
	spec := SpawnSpec{
		Unit:       s.unit,
		Slot:       slot,
		Generation: s.generation,
		InstanceID: uuid.NewString(),
	}

	proc, err := s.spawner.Spawn(s.ctx, spec)
	if err != nil {
		return nil, err
	}

	w := &worker{
		slot:       slot,
		generation: spec.Generation,
		instanceID: spec.InstanceID,
		proc:       proc,
		status:     StatusStarting,
		startedAt:  time.Now(),
	}
	s.workers[w.instanceID] = w

	if s.opts.ReadyTimeout > 0 {
		w.readyTimer = s.after(s.opts.ReadyTimeout, event{kind: eventReadyTimeout, instanceID: w.instanceID})
	}
	go s.watch(w.instanceID, proc)

	s.logger.Infof("Worker started, slot: %d, pid: %d, generation: %d, instance: %s",
		slot, proc.Pid(), w.generation, w.instanceID)
	s.publish()
	return w, nil
}

func (s *supervisor) handle(ev event) {
	if ev.kind == eventRespawnDue {
		s.respawnDue(ev.slot)
		return
	}

	w, ok := s.workers[ev.instanceID]
	if !ok {
		s.logger.Debugf("Ignoring event for departed worker, instance: %s, event: %d", ev.instanceID, ev.kind)
		return
	}

	switch ev.kind {
	case eventReady:
		s.onReady(w)
	case eventExited:
		s.onExit(w, ev.err)
	case eventReadyTimeout:
		s.onReadyTimeout(w)
	case eventGraceExpired:
		s.onGraceExpired(w)
	case eventKillExpired:
		s.onKillExpired(w)
	}
}

func (s *supervisor) transition(w *worker, to WorkerStatus) bool {
	from := w.status
	if !canTransition(from, to) {
		s.logger.Errorf("Invalid worker state transition, slot: %d, instance: %s, from: %s, to: %s",
			w.slot, w.instanceID, from, to)
		return false
	}
	w.status = to
	s.logger.Debugf("Worker state transition, slot: %d, pid: %d, %s -> %s", w.slot, w.proc.Pid(), from, to)
	s.metrics.WorkerTransition(s.unit.Name, from, to)
	s.publish()
	return true
}

func (s *supervisor) remove(w *worker) {
	w.stopTimers()
	delete(s.workers, w.instanceID)
	s.publish()
}

func (s *supervisor) onReady(w *worker) {
	if w.status != StatusStarting {
		s.logger.Debugf("Ignoring readiness of worker no longer starting, slot: %d, status: %s", w.slot, w.status)
		return
	}
	if w.readyTimer != nil {
		w.readyTimer.Stop()
		w.readyTimer = nil
	}
	if s.transition(w, StatusRunning) {
		s.logger.Infof("Worker running, slot: %d, pid: %d, startup: %v", w.slot, w.proc.Pid(), time.Since(w.startedAt))
	}
}

func (s *supervisor) onExit(w *worker, exitErr error) {
	switch w.status {
	case StatusStopping:
		s.transition(w, StatusStopped)
		s.logger.Infof("Worker stopped, slot: %d, pid: %d, exit: %v", w.slot, w.proc.Pid(), exitErr)
		s.remove(w)

	case StatusStarting, StatusRunning:
		uptime := time.Since(w.startedAt)
		crash := errors.NewCrashError("worker exited unexpectedly", exitErr).
			WithContext("slot", w.slot).
			WithContext("pid", w.proc.Pid())
		s.transition(w, StatusCrashed)
		s.logger.Errorf("Worker crashed, slot: %d, pid: %d, uptime: %v, error: %v", w.slot, w.proc.Pid(), uptime, crash)
		s.metrics.WorkerCrashed(s.unit.Name)
		s.remove(w)

		if s.slots[w.slot] == w {
			s.slots[w.slot] = nil
			if !s.shuttingDown {
				s.scheduleRespawn(w.slot, uptime)
			}
		}

	default:
		s.logger.Errorf("Exit event for worker in terminal state, slot: %d, status: %s", w.slot, w.status)
		s.remove(w)
	}
}

func (s *supervisor) onReadyTimeout(w *worker) {
	w.readyTimer = nil
	if w.status != StatusStarting {
		return
	}
	err := errors.NewTimeoutError("worker did not become ready", nil).WithContext("timeout", s.opts.ReadyTimeout)
	s.logger.Warnf("Worker readiness timeout, killing, slot: %d, pid: %d, error: %v", w.slot, w.proc.Pid(), err)
	if err := w.proc.Kill(); err != nil {
		s.logger.Errorf("Failed to kill unready worker, slot: %d, pid: %d, error: %v", w.slot, w.proc.Pid(), err)
	}
}

// stopWorker begins a graceful stop. Completion arrives as an exit event.
func (s *supervisor) stopWorker(w *worker, reason string) {
	if w.status == StatusStopping || isTerminal(w.status) {
		return
	}
	if !s.transition(w, StatusStopping) {
		return
	}
	w.stopTimers()

	s.logger.Infof("Stopping worker, slot: %d, pid: %d, reason: %s, graceful timeout: %v",
		w.slot, w.proc.Pid(), reason, s.opts.GracefulTimeout)

	if err := w.proc.Terminate(); err != nil {
		s.logger.Warnf("Failed to send termination signal, slot: %d, pid: %d, error: %v", w.slot, w.proc.Pid(), err)
		s.forceKill(w)
		return
	}
	w.stopTimer = s.after(s.opts.GracefulTimeout, event{kind: eventGraceExpired, instanceID: w.instanceID})
}

func (s *supervisor) onGraceExpired(w *worker) {
	w.stopTimer = nil
	if w.status != StatusStopping {
		return
	}
	err := errors.NewTimeoutError("worker did not stop within graceful timeout", nil).
		WithContext("timeout", s.opts.GracefulTimeout)
	s.logger.Warnf("Restart timeout, forcing termination, slot: %d, pid: %d, error: %v", w.slot, w.proc.Pid(), err)
	s.forceKill(w)
}

func (s *supervisor) forceKill(w *worker) {
	s.metrics.WorkerKilled(s.unit.Name)
	if err := w.proc.Kill(); err != nil {
		s.logger.Errorf("Failed to kill worker, slot: %d, pid: %d, error: %v", w.slot, w.proc.Pid(), err)
	}
	w.stopTimer = s.after(s.opts.KillTimeout, event{kind: eventKillExpired, instanceID: w.instanceID})
}

func (s *supervisor) onKillExpired(w *worker) {
	w.stopTimer = nil
	if w.status != StatusStopping {
		return
	}
	s.logger.Errorf("Worker did not exit after kill, abandoning it, slot: %d, pid: %d, kill timeout: %v",
		w.slot, w.proc.Pid(), s.opts.KillTimeout)
	s.transition(w, StatusStopped)
	s.remove(w)
}

func (s *supervisor) scheduleRespawn(slot int, uptime time.Duration) {
	if _, pending := s.respawnPending[slot]; pending {
		return
	}
	delay, attempt := s.backoff.next(slot, uptime)
	s.logger.Warnf("Scheduling worker respawn, slot: %d, attempt: %d, delay: %v", slot, attempt, delay)
	s.respawnPending[slot] = pendingRespawn{
		timer: s.after(delay, event{kind: eventRespawnDue, slot: slot}),
		delay: delay,
	}
}

func (s *supervisor) respawnDue(slot int) {
	pending, ok := s.respawnPending[slot]
	if !ok {
		return
	}
	delete(s.respawnPending, slot)

	if s.shuttingDown || s.slots[slot] != nil {
		return
	}

	w, err := s.spawn(slot)
	if err != nil {
		spawnErr := errors.NewSpawnError("failed to respawn worker", err).WithContext("slot", slot)
		s.logger.Errorf("Worker respawn failed, will retry, slot: %d, error: %v", slot, spawnErr)
		s.scheduleRespawn(slot, 0)
		return
	}
	s.slots[slot] = w
	s.metrics.WorkerRespawned(s.unit.Name, pending.delay)
}

func (s *supervisor) cancelRespawns() {
	for slot, pending := range s.respawnPending {
		pending.timer.Stop()
		delete(s.respawnPending, slot)
	}
}

func (s *supervisor) beginShutdown(reason string) {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.cancelRespawns()
	s.logger.Infof("Worker pool shutting down, unit: %s, reason: %s, workers: %d", s.unit, reason, len(s.workers))
}

func (s *supervisor) shutdownPool() {
	for slot := range s.slots {
		s.slots[slot] = nil
	}
	for _, w := range s.sortedWorkers() {
		s.stopWorker(w, "shutdown")
	}
	for len(s.workers) > 0 {
		s.step()
	}
	s.logger.Infof("Worker pool stopped, unit: %s", s.unit)
}

func (s *supervisor) sortedWorkers() []*worker {
	list := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		list = append(list, w)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].slot != list[j].slot {
			return list[i].slot < list[j].slot
		}
		return list[i].generation < list[j].generation
	})
	return list
}

// publish copies pool state into the view read by Handle
func (s *supervisor) publish() {
	list := s.sortedWorkers()
	view := make([]WorkerProcess, 0, len(list))
	running := 0
	for _, w := range list {
		if w.status == StatusRunning {
			running++
		}
		view = append(view, WorkerProcess{
			Slot:       w.slot,
			InstanceID: w.instanceID,
			Generation: w.generation,
			Pid:        w.proc.Pid(),
			Status:     w.status,
			StartedAt:  w.startedAt,
		})
	}

	s.viewMu.Lock()
	s.view = view
	s.running = running
	s.viewMu.Unlock()

	s.metrics.RunningWorkers(s.unit.Name, running)
}

// Wait blocks until the pool reached its terminal state and every worker is gone.
func (h *Handle) Wait() error {
	<-h.s.done
	return nil
}

// Done is closed when the pool has fully stopped
func (h *Handle) Done() <-chan struct{} {
	return h.s.done
}

// RequestRestart asks for a restart using the configured policy.
// Requests made while one is already queued are coalesced; false is returned
// for a coalesced request or a stopped pool.
func (h *Handle) RequestRestart() bool {
	select {
	case <-h.s.done:
		return false
	default:
	}
	select {
	case h.s.restartCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Shutdown stops every worker and ends the pool. Wait observes completion.
func (h *Handle) Shutdown() {
	h.s.shutdownOnce.Do(func() {
		close(h.s.shutdownCh)
	})
}

func (h *Handle) Snapshot() []WorkerProcess {
	h.s.viewMu.RLock()
	defer h.s.viewMu.RUnlock()
	return append([]WorkerProcess(nil), h.s.view...)
}

func (h *Handle) RunningCount() int {
	h.s.viewMu.RLock()
	defer h.s.viewMu.RUnlock()
	return h.s.running
}

func (h *Handle) Unit() service.Unit {
	return h.s.unit
}

func (h *Handle) Size() int {
	return h.s.size
}
