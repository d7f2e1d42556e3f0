// Package orchestrator starts and stops the producer/consumer pair in order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/emoconnect/internal/manager"
)

const (
	DefaultStartupTimeout = 30 * time.Second
	DefaultStatusTimeout  = 100 * time.Millisecond
)

// Services is the slice of the manager the orchestrator drives.
type Services interface {
	Start(name string) (manager.Identity, error)
	Stop(name string) (manager.StopOutcome, error)
	Status(name string) (manager.Status, error)
}

type ReadinessProber interface {
	AwaitReady(ctx context.Context, endpoint string, timeout time.Duration) bool
}

type Config struct {
	Producer       string
	Consumer       string
	HealthURL      string
	StartupTimeout time.Duration
	StatusTimeout  time.Duration
}

// ServiceResult is the outcome of one operation on one service. Success is
// carried by OK only; Message is for humans.
type ServiceResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	PID     int    `json:"pid,omitempty"`
}

type StartResult struct {
	Producer      ServiceResult `json:"producer"`
	ProducerReady bool          `json:"producer_ready"`
	Consumer      ServiceResult `json:"consumer"`
}

type StopResult struct {
	Consumer ServiceResult `json:"consumer"`
	Producer ServiceResult `json:"producer"`
}

type StatusResult struct {
	ProducerRunning   bool `json:"producer_running"`
	ConsumerRunning   bool `json:"consumer_running"`
	ProducerPID       *int `json:"producer_pid"`
	ConsumerPID       *int `json:"consumer_pid"`
	ProducerReachable bool `json:"producer_reachable"`
}

// Orchestrator is safe for concurrent use. mu serializes the launch and
// stop steps; readiness waits run outside it and are cancelled by StopAll.
type Orchestrator struct {
	svc    Services
	probe  ReadinessProber
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	pending map[int]context.CancelFunc
}

func New(svc Services, probe ReadinessProber, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{svc: svc, probe: probe, cfg: cfg, logger: logger, pending: make(map[int]context.CancelFunc)}
}

// StartAll starts the producer, waits for its health endpoint and only then
// starts the consumer. A StopAll issued during the wait aborts it, and the
// consumer is only launched while the producer is still running.
func (o *Orchestrator) StartAll(ctx context.Context) StartResult {
	var res StartResult

	o.mu.Lock()
	res.Producer = o.startOne(o.cfg.Producer)
	if !res.Producer.OK {
		o.mu.Unlock()
		res.Consumer = ServiceResult{Message: "producer failed to start; consumer not started"}
		return res
	}
	waitCtx, cancel := context.WithCancel(ctx)
	id := o.nextID
	o.nextID++
	o.pending[id] = cancel
	o.mu.Unlock()

	ready := o.probe.AwaitReady(waitCtx, o.cfg.HealthURL, o.cfg.StartupTimeout)

	o.mu.Lock()
	defer o.mu.Unlock()
	_, stillPending := o.pending[id]
	delete(o.pending, id)
	cancel()

	if !stillPending {
		o.logger.Info("start aborted by stop", "service", o.cfg.Consumer)
		res.Consumer = ServiceResult{Message: "stop requested; consumer not started"}
		return res
	}
	res.ProducerReady = ready
	if !ready {
		o.logger.Warn("producer not ready", "service", o.cfg.Producer, "endpoint", o.cfg.HealthURL, "timeout", o.cfg.StartupTimeout)
		res.Consumer = ServiceResult{Message: "producer did not become ready; consumer not started"}
		return res
	}
	if st, err := o.svc.Status(o.cfg.Producer); err != nil || !st.Running {
		res.ProducerReady = false
		o.logger.Warn("producer exited before consumer start", "service", o.cfg.Producer)
		res.Consumer = ServiceResult{Message: "producer not running; consumer not started"}
		return res
	}

	res.Consumer = o.startOne(o.cfg.Consumer)
	return res
}

// StopAll aborts pending readiness waits, then stops the consumer to
// completion before the producer.
func (o *Orchestrator) StopAll() StopResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, cancel := range o.pending {
		cancel()
		delete(o.pending, id)
	}
	return StopResult{
		Consumer: o.stopOne(o.cfg.Consumer),
		Producer: o.stopOne(o.cfg.Producer),
	}
}

// Status reports liveness of both services and whether the producer's
// health endpoint answers within the status timeout.
func (o *Orchestrator) Status(ctx context.Context) StatusResult {
	var res StatusResult
	if st, err := o.svc.Status(o.cfg.Producer); err == nil && st.Running {
		res.ProducerRunning = true
		res.ProducerPID = &st.PID
	}
	if st, err := o.svc.Status(o.cfg.Consumer); err == nil && st.Running {
		res.ConsumerRunning = true
		res.ConsumerPID = &st.PID
	}
	res.ProducerReachable = o.probe.AwaitReady(ctx, o.cfg.HealthURL, o.cfg.StatusTimeout)
	return res
}

func (o *Orchestrator) startOne(name string) ServiceResult {
	if st, err := o.svc.Status(name); err == nil && st.Running {
		return ServiceResult{OK: true, Message: name + " already running", PID: st.PID}
	}
	id, err := o.svc.Start(name)
	if err != nil {
		o.logger.Error("start failed", "service", name, "error", err)
		var le *manager.LaunchError
		if errors.As(err, &le) {
			return ServiceResult{Message: fmt.Sprintf("Launch failed: %s: %v", le.Reason, le.Err)}
		}
		return ServiceResult{Message: fmt.Sprintf("Launch failed: %v", err)}
	}
	return ServiceResult{OK: true, Message: "Started " + name, PID: id.PID}
}

func (o *Orchestrator) stopOne(name string) ServiceResult {
	out, err := o.svc.Stop(name)
	if err != nil {
		o.logger.Error("stop failed", "service", name, "error", err)
		return ServiceResult{Message: fmt.Sprintf("Stop failed: %v", err)}
	}
	switch out {
	case manager.OutcomeNotRunning:
		return ServiceResult{OK: true, Message: name + " not running"}
	case manager.OutcomeAlreadyExited:
		return ServiceResult{OK: true, Message: name + " already stopped"}
	default:
		return ServiceResult{OK: true, Message: "Stopped " + name}
	}
}
