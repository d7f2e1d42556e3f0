package manager

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrShuttingDown   = errors.New("manager shutting down")
)

// LaunchError reports that a service could not be spawned. The service stays stopped.
type LaunchError struct {
	Name   string
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s: %v", e.Name, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// StopError reports that the termination primitive itself failed.
// The process identity is kept and the process may still be running.
type StopError struct {
	Name string
	PID  int
	Err  error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop %s (pid %d): %v", e.Name, e.PID, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
