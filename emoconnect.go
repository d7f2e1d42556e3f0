// Package emoconnect embeds the supervised sampler/companion pair in another
// program: a process manager, the start/stop orchestration and the control
// HTTP surface.
package emoconnect

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/emoconnect/internal/config"
	"github.com/loykin/emoconnect/internal/emotion"
	"github.com/loykin/emoconnect/internal/history"
	"github.com/loykin/emoconnect/internal/manager"
	"github.com/loykin/emoconnect/internal/metrics"
	"github.com/loykin/emoconnect/internal/orchestrator"
	"github.com/loykin/emoconnect/internal/probe"
	"github.com/loykin/emoconnect/internal/process"
	iapi "github.com/loykin/emoconnect/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = manager.Status

type Identity = manager.Identity

type StopOutcome = manager.StopOutcome

type HistorySink = history.Sink

type Label = emotion.Label

type Sample = emotion.Sample

type (
	StartResult  = orchestrator.StartResult
	StopResult   = orchestrator.StopResult
	StatusResult = orchestrator.StatusResult
)

// Manager is a thin facade over internal/manager.Manager.
type Manager struct{ inner *manager.Manager }

func New(grace time.Duration, sink HistorySink) *Manager {
	opts := []manager.Option{manager.WithGracePeriod(grace)}
	if sink != nil {
		opts = append(opts, manager.WithHistory(sink))
	}
	return &Manager{inner: manager.New(opts...)}
}

func (m *Manager) Register(s Spec) error                 { return m.inner.Register(s) }
func (m *Manager) Start(name string) (Identity, error)   { return m.inner.Start(name) }
func (m *Manager) Stop(name string) (StopOutcome, error) { return m.inner.Stop(name) }
func (m *Manager) Status(name string) (Status, error)    { return m.inner.Status(name) }
func (m *Manager) StatusAll() []Status                   { return m.inner.StatusAll() }
func (m *Manager) Shutdown() error                       { return m.inner.Shutdown() }

// Pair starts a producer and its dependent consumer as one unit.
type Pair struct{ inner *orchestrator.Orchestrator }

// NewPair orchestrates producer and consumer, both registered on m. The
// consumer is only started once healthURL answers 200.
func NewPair(m *Manager, producer, consumer, healthURL string, startupTimeout time.Duration, logger *slog.Logger) *Pair {
	if logger == nil {
		logger = slog.Default()
	}
	o := orchestrator.New(m.inner, probe.New(probe.Config{}, probe.WithLogger(logger)), orchestrator.Config{
		Producer:       producer,
		Consumer:       consumer,
		HealthURL:      healthURL,
		StartupTimeout: startupTimeout,
	}, logger)
	return &Pair{inner: o}
}

func (p *Pair) Start(ctx context.Context) StartResult   { return p.inner.StartAll(ctx) }
func (p *Pair) Stop() StopResult                        { return p.inner.StopAll() }
func (p *Pair) Status(ctx context.Context) StatusResult { return p.inner.Status(ctx) }

func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// Handler is the control surface for p, mountable in any mux.
func (p *Pair) Handler(basePath string, m *Manager) http.Handler {
	return iapi.NewRouter(p.inner, basePath, iapi.WithInventory(m.inner)).Handler()
}

// NewHTTPServer serves the control surface for p on addr.
func NewHTTPServer(addr, basePath string, p *Pair, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, p.inner, iapi.WithInventory(m.inner))
}

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics exposes /metrics on addr. It blocks.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
