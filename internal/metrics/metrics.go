package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emoconnect"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of services actually spawned.",
		}, []string{"name"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "launch_failures_total",
			Help:      "Number of start requests that failed to spawn.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop requests by outcome.",
		}, []string{"name", "outcome"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current lifecycle state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)

	probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Readiness probe requests by result.",
		}, []string{"result"},
	)
	probeWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "wait_seconds",
			Help:      "Time spent in AwaitReady.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"ready"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "total",
			Help:      "Resolved emotion decisions by label and source.",
		}, []string{"label", "source"},
	)
	oracleFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "oracle_failures_total",
			Help:      "Oracle calls that failed or returned an unusable answer.",
		},
	)
	windowSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "window_samples",
			Help:      "Samples currently held in the window.",
		},
	)
	classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "classifications_total",
			Help:      "Frames classified by resulting label.",
		}, []string{"label"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, launchFailures, serviceStops, stateTransitions, currentStates,
		probeAttempts, probeWait, decisions, oracleFailures, windowSamples, classifications,
		serviceRSS, serviceCPU,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncLaunchFailure(name string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name).Inc()
	}
}

func IncStop(name, outcome string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name, outcome).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

// SetCurrentState marks state as the only active state for name.
func SetCurrentState(name, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(name, s).Set(v)
	}
}

func IncProbeAttempt(ok bool) {
	if regOK.Load() {
		probeAttempts.WithLabelValues(result(ok)).Inc()
	}
}

func ObserveProbeWait(ready bool, seconds float64) {
	if regOK.Load() {
		probeWait.WithLabelValues(boolLabel(ready)).Observe(seconds)
	}
}

func IncDecision(label, source string) {
	if regOK.Load() {
		decisions.WithLabelValues(label, source).Inc()
	}
}

func IncOracleFailure() {
	if regOK.Load() {
		oracleFailures.Inc()
	}
}

func SetWindowSamples(n int) {
	if regOK.Load() {
		windowSamples.Set(float64(n))
	}
}

func IncClassification(label string) {
	if regOK.Load() {
		classifications.WithLabelValues(label).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
