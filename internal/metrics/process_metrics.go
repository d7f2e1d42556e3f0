package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/emoconnect/internal/process"
)

var (
	serviceRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "memory_rss_bytes",
			Help:      "Resident set size of the supervised service.",
		}, []string{"name"},
	)
	serviceCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised service since it started.",
		}, []string{"name"},
	)
)

// PIDSource returns the currently running services keyed by name.
type PIDSource func() map[string]int

// UsageCollector periodically samples resource usage of supervised children.
type UsageCollector struct {
	interval time.Duration
	source   PIDSource
	logger   *slog.Logger

	mu   sync.RWMutex
	last map[string]process.Usage
}

func NewUsageCollector(interval time.Duration, source PIDSource, logger *slog.Logger) *UsageCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageCollector{interval: interval, source: source, logger: logger, last: map[string]process.Usage{}}
}

// Run collects until ctx is cancelled.
func (c *UsageCollector) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Collect()
		}
	}
}

// Collect takes one reading of every running service.
func (c *UsageCollector) Collect() {
	pids := c.source()
	next := make(map[string]process.Usage, len(pids))
	for name, pid := range pids {
		u, err := process.UsageOf(pid)
		if err != nil {
			c.logger.Debug("usage read failed", "service", name, "pid", pid, "error", err)
			continue
		}
		next[name] = u
		if regOK.Load() {
			serviceRSS.WithLabelValues(name).Set(float64(u.RSSBytes))
			serviceCPU.WithLabelValues(name).Set(u.CPUPercent)
		}
	}

	c.mu.Lock()
	for name := range c.last {
		if _, ok := next[name]; !ok && regOK.Load() {
			serviceRSS.DeleteLabelValues(name)
			serviceCPU.DeleteLabelValues(name)
		}
	}
	c.last = next
	c.mu.Unlock()
}

// Usage returns the last reading for name.
func (c *UsageCollector) Usage(name string) (process.Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.last[name]
	return u, ok
}
