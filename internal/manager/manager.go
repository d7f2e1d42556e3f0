package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/emoconnect/internal/history"
	"github.com/loykin/emoconnect/internal/process"
)

const (
	DefaultGracePeriod = 800 * time.Millisecond
	DefaultKillWait    = 200 * time.Millisecond
)

// Manager owns every supervised service by name. Operations on one name are
// serialized; different names proceed in parallel.
type Manager struct {
	mu       sync.RWMutex
	specs    map[string]process.Spec
	order    []string
	services map[string]*managedService

	grace    time.Duration
	killWait time.Duration
	events   history.Sink
	signals  process.Signaler
	logger   *slog.Logger
}

type Option func(*Manager)

// WithGracePeriod sets how long stop waits after SIGTERM before SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithKillWait bounds the wait for exit after SIGKILL.
func WithKillWait(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.killWait = d
		}
	}
}

func WithHistory(s history.Sink) Option { return func(m *Manager) { m.events = s } }

// WithSignaler overrides how children are signalled on stop.
func WithSignaler(s process.Signaler) Option { return func(m *Manager) { m.signals = s } }

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(opts ...Option) *Manager {
	m := &Manager{
		specs:    make(map[string]process.Spec),
		services: make(map[string]*managedService),
		grace:    DefaultGracePeriod,
		killWait: DefaultKillWait,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register declares the launch spec for a name. Re-registering an identical
// spec is a no-op; a different spec for a known name is rejected.
func (m *Manager) Register(spec process.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.specs[spec.Name]; ok {
		if old.Equal(spec) {
			return nil
		}
		return fmt.Errorf("service %q already registered with a different spec", spec.Name)
	}
	m.specs[spec.Name] = spec
	m.order = append(m.order, spec.Name)
	return nil
}

// service returns the handle for name, creating it when create is set.
func (m *Manager) service(name string, create bool) (*managedService, error) {
	m.mu.RLock()
	ms, ok := m.services[name]
	_, known := m.specs[name]
	m.mu.RUnlock()
	if ok {
		return ms, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if !create {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ms, ok := m.services[name]; ok {
		return ms, nil
	}
	ms = newManagedService(m.specs[name], m.grace, m.killWait, m.events, m.signals, m.logger)
	m.services[name] = ms
	return ms, nil
}

// Start launches name unless it is already running, in which case the
// existing identity is returned. Launch failures are *LaunchError.
func (m *Manager) Start(name string) (Identity, error) {
	ms, err := m.service(name, true)
	if err != nil {
		return Identity{}, err
	}
	return ms.start()
}

// Stop converges name to stopped. Only a failing termination primitive
// yields an error (*StopError).
func (m *Manager) Stop(name string) (StopOutcome, error) {
	ms, err := m.service(name, false)
	if err != nil {
		return OutcomeNotRunning, err
	}
	if ms == nil {
		return OutcomeNotRunning, nil
	}
	return ms.stop()
}

// Status re-checks liveness for name.
func (m *Manager) Status(name string) (Status, error) {
	ms, err := m.service(name, false)
	if err != nil {
		return Status{}, err
	}
	if ms == nil {
		return Status{Name: name, State: StateStopped.String()}, nil
	}
	return ms.status(), nil
}

// StatusAll returns every registered service in registration order.
func (m *Manager) StatusAll() []Status {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()
	out := make([]Status, 0, len(names))
	for _, n := range names {
		if st, err := m.Status(n); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// RunningPIDs maps running service names to their pids.
func (m *Manager) RunningPIDs() map[string]int {
	m.mu.RLock()
	svcs := make(map[string]*managedService, len(m.services))
	for n, ms := range m.services {
		svcs[n] = ms
	}
	m.mu.RUnlock()
	out := make(map[string]int, len(svcs))
	for n, ms := range svcs {
		if pid := ms.runningPID(); pid > 0 {
			out[n] = pid
		}
	}
	return out
}

// Shutdown stops every service in reverse registration order and retires
// the per-service goroutines. The Manager is unusable afterwards.
func (m *Manager) Shutdown() error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		m.mu.RLock()
		ms := m.services[names[i]]
		m.mu.RUnlock()
		if ms == nil {
			continue
		}
		if err := ms.shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
