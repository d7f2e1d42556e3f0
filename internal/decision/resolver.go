package decision

import (
	"context"
	"log/slog"

	"github.com/loykin/emoconnect/internal/emotion"
	"github.com/loykin/emoconnect/internal/metrics"
)

// Source says where a resolved label came from.
type Source string

const (
	SourceWindow  Source = "window"
	SourceDefault Source = "default" // empty window
	SourceOracle  Source = "oracle"
)

// Oracle infers an emotion from free text. Any error is recovered by the Resolver.
type Oracle interface {
	InferEmotion(ctx context.Context, text string) (emotion.Label, error)
}

// Outcome is a resolved label together with its provenance.
type Outcome struct {
	Label    emotion.Label
	Source   Source
	Decision Decision
}

// Resolver applies a Policy and consults the Oracle only for all-baseline windows.
type Resolver struct {
	policy Policy
	oracle Oracle
	logger *slog.Logger
}

// NewResolver accepts a nil oracle; all-baseline windows then resolve to the baseline.
func NewResolver(policy Policy, oracle Oracle, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if !policy.Baseline.Valid() {
		policy = DefaultPolicy
	}
	return &Resolver{policy: policy, oracle: oracle, logger: logger}
}

// Resolve never fails. utterance is what the user just said and is only sent to the oracle.
func (r *Resolver) Resolve(ctx context.Context, samples []emotion.Sample, utterance string) Outcome {
	d := r.policy.Decide(samples)
	out := Outcome{Decision: d}
	switch {
	case !d.Uninformative:
		out.Label, out.Source = d.Label, SourceWindow
	case d.Reason == ReasonEmpty:
		out.Label, out.Source = r.policy.Baseline, SourceDefault
	default:
		out.Label, out.Source = r.askOracle(ctx, utterance), SourceOracle
	}
	metrics.IncDecision(out.Label.String(), string(out.Source))
	r.logger.Debug("emotion resolved", "label", out.Label.String(), "source", out.Source, "reason", d.Reason, "samples", len(samples))
	return out
}

func (r *Resolver) askOracle(ctx context.Context, utterance string) emotion.Label {
	if r.oracle == nil {
		return r.policy.Baseline
	}
	l, err := r.oracle.InferEmotion(ctx, utterance)
	if err != nil {
		metrics.IncOracleFailure()
		r.logger.Warn("oracle failed, using baseline", "error", err)
		return r.policy.Baseline
	}
	if !l.Valid() {
		metrics.IncOracleFailure()
		r.logger.Warn("oracle returned invalid label, using baseline", "label", l.String())
		return r.policy.Baseline
	}
	return l
}
