package process

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is one spawned child. Its output is discarded and a reaper goroutine
// owns cmd.Wait, so liveness never races with os/exec internals.
type Process struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	waitDone chan struct{} // closed by reap when cmd.Wait returns
	signals  Signaler

	mu       sync.Mutex
	exitErr  error
	exitedAt time.Time
}

// Signaler delivers stop requests to the process group led by pid.
type Signaler interface {
	Terminate(pid int) error
	Kill(pid int) error
}

// GroupSignaler signals the real process group.
type GroupSignaler struct{}

func (GroupSignaler) Terminate(pid int) error { return terminateGroup(pid) }
func (GroupSignaler) Kill(pid int) error      { return killGroup(pid) }

type LaunchOption func(*Process)

// WithSignaler routes Terminate and Kill through s.
func WithSignaler(s Signaler) LaunchOption {
	return func(p *Process) {
		if s != nil {
			p.signals = s
		}
	}
}

// Launch builds and starts the child described by spec.
// stdin, stdout and stderr are bound to the null device.
func Launch(spec Spec, opts ...LaunchOption) (*Process, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, err
	}
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	cmd.Stdin = null
	cmd.Stdout = null
	cmd.Stderr = null
	if err := cmd.Start(); err != nil {
		_ = null.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	// the child holds its own descriptors now
	_ = null.Close()

	p := &Process{
		name:      spec.Name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		waitDone:  make(chan struct{}),
		signals:   GroupSignaler{},
	}
	for _, o := range opts {
		o(p)
	}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.exitedAt = time.Now()
	p.mu.Unlock()
	close(p.waitDone)
}

func (p *Process) Name() string         { return p.name }
func (p *Process) PID() int             { return p.pid }
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// Alive is a non-blocking liveness check.
func (p *Process) Alive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

// Wait blocks until the child exits or d elapses. It reports whether the child exited.
func (p *Process) Wait(d time.Duration) bool {
	if d <= 0 {
		return !p.Alive()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.waitDone:
		return true
	case <-t.C:
		return false
	}
}

// ExitErr returns the error reported by cmd.Wait, nil while running or on a clean exit.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// ExitedAt returns the zero time while the child is running.
func (p *Process) ExitedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitedAt
}

// Terminate asks the child's process group to exit.
// A group that is already gone is not an error.
func (p *Process) Terminate() error {
	if !p.Alive() {
		return nil
	}
	return p.signals.Terminate(p.pid)
}

// Kill forcefully stops the child's process group.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	return p.signals.Kill(p.pid)
}
