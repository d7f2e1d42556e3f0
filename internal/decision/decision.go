// Package decision turns a window snapshot into one emotion label.
package decision

import "github.com/loykin/emoconnect/internal/emotion"

// Reason records which rule produced a Decision.
type Reason string

const (
	ReasonEmpty         Reason = "empty"
	ReasonAllBaseline   Reason = "all-baseline"
	ReasonSingle        Reason = "single"
	ReasonMaxConfidence Reason = "max-confidence"
)

// Decision is either a label or uninformative. Uninformative decisions carry
// the reason so callers can tell an empty window from an all-baseline one.
type Decision struct {
	Label         emotion.Label
	Uninformative bool
	Reason        Reason
}

// Policy evaluates windows against a baseline label.
type Policy struct {
	Baseline emotion.Label
}

// DefaultPolicy uses neutral as the baseline.
var DefaultPolicy = Policy{Baseline: emotion.Baseline}

// Decide is DefaultPolicy.Decide.
func Decide(samples []emotion.Sample) Decision { return DefaultPolicy.Decide(samples) }

// Decide is a pure function of samples and their order.
//
// Baseline samples are discounted as soon as any other label is present, so a
// single stray baseline sample never sends a window to the oracle. Among several
// non-baseline labels the one with the highest single confidence wins; ties go
// to the label seen first.
func (p Policy) Decide(samples []emotion.Sample) Decision {
	if len(samples) == 0 {
		return Decision{Uninformative: true, Reason: ReasonEmpty}
	}

	// labels in first-seen order, with the max confidence per label
	var order []emotion.Label
	peak := make(map[emotion.Label]float64, len(samples))
	for _, s := range samples {
		c, seen := peak[s.Label]
		if !seen {
			order = append(order, s.Label)
			peak[s.Label] = s.Confidence
			continue
		}
		if s.Confidence > c {
			peak[s.Label] = s.Confidence
		}
	}

	if len(order) == 1 && order[0] == p.Baseline {
		return Decision{Uninformative: true, Reason: ReasonAllBaseline}
	}

	candidates := order[:0:0]
	for _, l := range order {
		if l != p.Baseline {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 1 {
		return Decision{Label: candidates[0], Reason: ReasonSingle}
	}

	best := candidates[0]
	for _, l := range candidates[1:] {
		if peak[l] > peak[best] {
			best = l
		}
	}
	return Decision{Label: best, Reason: ReasonMaxConfidence}
}
