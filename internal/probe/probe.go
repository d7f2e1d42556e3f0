// Package probe waits for an HTTP health endpoint to come up.
package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/emoconnect/internal/metrics"
)

const (
	DefaultInterval       = 200 * time.Millisecond
	DefaultRequestTimeout = 400 * time.Millisecond
)

// Config controls polling. Zero values select the defaults.
type Config struct {
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Prober polls an endpoint until it answers 2xx.
type Prober struct {
	client         *http.Client
	interval       time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
}

type Option func(*Prober)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) {
		if c != nil {
			p.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(cfg Config, opts ...Option) *Prober {
	p := &Prober{
		client:         &http.Client{},
		interval:       cfg.Interval,
		requestTimeout: cfg.RequestTimeout,
		logger:         slog.Default(),
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.requestTimeout <= 0 {
		p.requestTimeout = DefaultRequestTimeout
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AwaitReady returns true as soon as endpoint answers 2xx and false once timeout
// elapses or ctx is done. Connection errors, request timeouts and non-2xx
// statuses all count as not ready; it never returns an error.
func (p *Prober) AwaitReady(ctx context.Context, endpoint string, timeout time.Duration) bool {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready := false
	defer func() { metrics.ObserveProbeWait(ready, time.Since(start).Seconds()) }()

	t := time.NewTimer(0)
	defer t.Stop()
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			p.logger.Debug("readiness wait ended", "endpoint", endpoint, "attempts", attempt-1, "elapsed", time.Since(start))
			return false
		case <-t.C:
		}
		if p.once(ctx, endpoint) {
			ready = true
			p.logger.Debug("endpoint ready", "endpoint", endpoint, "attempts", attempt, "elapsed", time.Since(start))
			return true
		}
		t.Reset(p.interval)
	}
}

func (p *Prober) once(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		metrics.IncProbeAttempt(false)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.IncProbeAttempt(false)
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.IncProbeAttempt(ok)
	return ok
}
