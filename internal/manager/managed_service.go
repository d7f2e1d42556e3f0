package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/emoconnect/internal/history"
	"github.com/loykin/emoconnect/internal/metrics"
	"github.com/loykin/emoconnect/internal/process"
)

// State Machine:
// Stopped -> Starting -> Running -> Stopping -> Stopped
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var stateNames = []string{"stopped", "starting", "running", "stopping"}

// StopOutcome describes how a successful stop converged.
type StopOutcome int

const (
	OutcomeNotRunning    StopOutcome = iota // no identity was recorded
	OutcomeAlreadyExited                    // the process had exited on its own
	OutcomeTerminated                       // exited after SIGTERM within the grace period
	OutcomeKilled                           // needed SIGKILL
)

func (o StopOutcome) String() string {
	switch o {
	case OutcomeNotRunning:
		return "not_running"
	case OutcomeAlreadyExited:
		return "already_exited"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Identity is the process identity of a running service.
type Identity struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a point-in-time view of one service.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionShutdown
)

type command struct {
	action commandAction
	reply  chan result
}

type result struct {
	id      Identity
	outcome StopOutcome
	err     error
}

// managedService owns one ServiceHandle. Start and stop run on a single
// goroutine fed by cmdChan, so they never interleave for the same name.
// Status reads under mu without going through the actor.
type managedService struct {
	spec     process.Spec
	grace    time.Duration
	killWait time.Duration
	events   history.Sink
	signals  process.Signaler
	logger   *slog.Logger

	mu       sync.RWMutex
	state    State
	proc     *process.Process
	lastExit string

	cmdChan  chan command
	doneChan chan struct{}
}

func newManagedService(spec process.Spec, grace, killWait time.Duration, events history.Sink, signals process.Signaler, logger *slog.Logger) *managedService {
	ms := &managedService{
		spec:     spec,
		grace:    grace,
		killWait: killWait,
		events:   events,
		signals:  signals,
		logger:   logger.With("service", spec.Name),
		state:    StateStopped,
		cmdChan:  make(chan command, 16),
		doneChan: make(chan struct{}),
	}
	go ms.runStateMachine()
	return ms
}

func (ms *managedService) send(a commandAction) (result, error) {
	reply := make(chan result, 1)
	select {
	case ms.cmdChan <- command{action: a, reply: reply}:
	case <-ms.doneChan:
		return result{}, ErrShuttingDown
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ms.doneChan:
		// the actor replies before it exits
		select {
		case r := <-reply:
			return r, nil
		default:
			return result{}, ErrShuttingDown
		}
	}
}

func (ms *managedService) start() (Identity, error) {
	r, err := ms.send(actionStart)
	if err != nil {
		return Identity{}, err
	}
	return r.id, r.err
}

func (ms *managedService) stop() (StopOutcome, error) {
	r, err := ms.send(actionStop)
	if err != nil {
		return OutcomeNotRunning, err
	}
	return r.outcome, r.err
}

func (ms *managedService) shutdown() error {
	r, err := ms.send(actionShutdown)
	if errors.Is(err, ErrShuttingDown) {
		return nil
	}
	return r.err
}

// runStateMachine is the only goroutine that spawns or signals the child.
func (ms *managedService) runStateMachine() {
	defer close(ms.doneChan)
	for cmd := range ms.cmdChan {
		var r result
		switch cmd.action {
		case actionStart:
			r = ms.handleStart()
		case actionStop:
			r = ms.handleStop()
		case actionShutdown:
			r = ms.handleStop()
			cmd.reply <- r
			return
		}
		cmd.reply <- r
	}
}

func (ms *managedService) handleStart() result {
	ms.mu.RLock()
	proc := ms.proc
	ms.mu.RUnlock()

	if proc != nil {
		if proc.Alive() {
			return result{id: identityOf(proc)}
		}
		ms.clearExited(proc)
	}

	ms.setState(StateStarting)
	p, err := process.Launch(ms.spec, process.WithSignaler(ms.signals))
	if err != nil {
		ms.setState(StateStopped)
		reason := "spawn failed"
		if errors.Is(err, process.ErrInvalidTarget) {
			reason = "missing or invalid launch target"
		}
		metrics.IncLaunchFailure(ms.spec.Name)
		ms.record(history.EventLaunchFailed, 0, err.Error())
		ms.logger.Warn("launch failed", "reason", reason, "error", err)
		return result{err: &LaunchError{Name: ms.spec.Name, Reason: reason, Err: err}}
	}

	ms.mu.Lock()
	ms.proc = p
	ms.lastExit = ""
	ms.mu.Unlock()
	ms.setState(StateRunning)

	metrics.IncStart(ms.spec.Name)
	ms.record(history.EventStart, p.PID(), "started")
	ms.logger.Info("service started", "pid", p.PID())
	return result{id: identityOf(p)}
}

// handleStop is best-effort and terminal: it fails only when signalling fails.
func (ms *managedService) handleStop() result {
	ms.mu.RLock()
	proc := ms.proc
	ms.mu.RUnlock()

	if proc == nil {
		return result{outcome: OutcomeNotRunning}
	}
	if !proc.Alive() {
		ms.clearExited(proc)
		metrics.IncStop(ms.spec.Name, OutcomeAlreadyExited.String())
		return result{outcome: OutcomeAlreadyExited}
	}

	ms.setState(StateStopping)
	if err := proc.Terminate(); err != nil {
		ms.setState(StateRunning)
		ms.logger.Error("graceful termination failed", "pid", proc.PID(), "error", err)
		return result{err: &StopError{Name: ms.spec.Name, PID: proc.PID(), Err: err}}
	}

	outcome := OutcomeTerminated
	if !proc.Wait(ms.grace) {
		if err := proc.Kill(); err != nil {
			ms.setState(StateRunning)
			ms.logger.Error("forced kill failed", "pid", proc.PID(), "error", err)
			return result{err: &StopError{Name: ms.spec.Name, PID: proc.PID(), Err: err}}
		}
		outcome = OutcomeKilled
		if !proc.Wait(ms.killWait) {
			ms.logger.Warn("exit not observed after kill", "pid", proc.PID(), "wait", ms.killWait)
		}
	}

	ms.mu.Lock()
	if ms.proc == proc {
		ms.proc = nil
	}
	ms.lastExit = describeExit(proc)
	from := ms.setStateLocked(StateStopped)
	ms.mu.Unlock()
	ms.observe(from, StateStopped)

	metrics.IncStop(ms.spec.Name, outcome.String())
	ms.record(history.EventStop, proc.PID(), outcome.String())
	ms.logger.Info("service stopped", "pid", proc.PID(), "outcome", outcome.String())
	return result{outcome: outcome}
}

// status re-checks liveness. A running service whose child has died is
// moved to stopped here; services mid-transition are left to the actor.
func (ms *managedService) status() Status {
	ms.mu.Lock()
	var cleared *process.Process
	var from State
	if ms.state == StateRunning && ms.proc != nil && !ms.proc.Alive() {
		cleared = ms.proc
		ms.proc = nil
		ms.lastExit = describeExit(cleared)
		from = ms.setStateLocked(StateStopped)
	}
	st := Status{Name: ms.spec.Name, State: ms.state.String(), LastExit: ms.lastExit}
	if ms.proc != nil && ms.proc.Alive() {
		st.Running = true
		st.PID = ms.proc.PID()
		st.StartedAt = ms.proc.StartedAt()
	}
	ms.mu.Unlock()

	if cleared != nil {
		ms.observe(from, StateStopped)
		ms.logger.Info("service exited", "pid", cleared.PID(), "exit", st.LastExit)
		// delivered asynchronously so status never waits on a sink
		go ms.record(history.EventExited, cleared.PID(), st.LastExit)
	}
	return st
}

func (ms *managedService) clearExited(p *process.Process) {
	ms.mu.Lock()
	if ms.proc != p {
		ms.mu.Unlock()
		return
	}
	ms.proc = nil
	ms.lastExit = describeExit(p)
	from := ms.setStateLocked(StateStopped)
	ms.mu.Unlock()
	ms.observe(from, StateStopped)
	ms.record(history.EventExited, p.PID(), ms.lastExitSnapshot())
	ms.logger.Info("service exited", "pid", p.PID())
}

func (ms *managedService) lastExitSnapshot() string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.lastExit
}

func (ms *managedService) setState(s State) {
	ms.mu.Lock()
	from := ms.setStateLocked(s)
	ms.mu.Unlock()
	ms.observe(from, s)
}

func (ms *managedService) setStateLocked(s State) State {
	from := ms.state
	ms.state = s
	return from
}

func (ms *managedService) observe(from, to State) {
	if from == to {
		return
	}
	metrics.RecordStateTransition(ms.spec.Name, from.String(), to.String())
	metrics.SetCurrentState(ms.spec.Name, to.String(), stateNames)
}

func (ms *managedService) runningPID() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.proc != nil && ms.proc.Alive() {
		return ms.proc.PID()
	}
	return 0
}

func (ms *managedService) record(t history.EventType, pid int, msg string) {
	if ms.events == nil {
		return
	}
	e := history.NewEvent(t)
	e.Service = ms.spec.Name
	e.PID = pid
	e.Message = msg
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ms.events.Send(ctx, e); err != nil {
		ms.logger.Debug("history send failed", "event", string(t), "error", err)
	}
}

func identityOf(p *process.Process) Identity {
	return Identity{PID: p.PID(), StartedAt: p.StartedAt()}
}

func describeExit(p *process.Process) string {
	if p.Alive() {
		return ""
	}
	if err := p.ExitErr(); err != nil {
		return err.Error()
	}
	return "exit status 0"
}
