package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/loykin/emoconnect/internal/emotion"
)

func win(pairs ...any) []emotion.Sample {
	var out []emotion.Sample
	ts := time.Unix(1700000000, 0)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, emotion.NewSample(ts.Add(time.Duration(i)*time.Second), pairs[i].(emotion.Label), pairs[i+1].(float64)))
	}
	return out
}

func repeat(n int, l emotion.Label, c float64) []any {
	var out []any
	for i := 0; i < n; i++ {
		out = append(out, l, c)
	}
	return out
}

func TestDecideEmptyIsUninformative(t *testing.T) {
	d := Decide(nil)
	assert.True(t, d.Uninformative)
	assert.Equal(t, ReasonEmpty, d.Reason)
}

func TestDecideSingleNonBaseline(t *testing.T) {
	s := append(repeat(4, emotion.Neutral, 0.9), emotion.Happy, 0.6)
	d := Decide(win(s...))
	assert.False(t, d.Uninformative)
	assert.Equal(t, emotion.Happy, d.Label)
	assert.Equal(t, ReasonSingle, d.Reason)
}

func TestDecideMaxConfidenceWins(t *testing.T) {
	s := append(repeat(2, emotion.Sad, 0.4), emotion.Sad, 0.95)
	s = append(s, repeat(2, emotion.Angry, 0.5)...)
	d := Decide(win(s...))
	assert.Equal(t, emotion.Sad, d.Label)
	assert.Equal(t, ReasonMaxConfidence, d.Reason)
}

func TestDecideMaxNotAverageNorCount(t *testing.T) {
	// angry has more samples and a higher mean, fear has the single highest reading
	s := append(repeat(3, emotion.Angry, 0.8), emotion.Fear, 0.85, emotion.Fear, 0.1)
	assert.Equal(t, emotion.Fear, Decide(win(s...)).Label)
}

func TestDecideTieGoesToFirstSeen(t *testing.T) {
	d := Decide(win(emotion.Surprise, 0.7, emotion.Disgust, 0.7, emotion.Surprise, 0.2))
	assert.Equal(t, emotion.Surprise, d.Label)
	d = Decide(win(emotion.Disgust, 0.7, emotion.Surprise, 0.7))
	assert.Equal(t, emotion.Disgust, d.Label)
}

func TestDecideAllBaseline(t *testing.T) {
	d := Decide(win(repeat(5, emotion.Neutral, 0.99)...))
	assert.True(t, d.Uninformative)
	assert.Equal(t, ReasonAllBaseline, d.Reason)
}

func TestDecideStrayBaselineIsDiscounted(t *testing.T) {
	s := append(repeat(4, emotion.Happy, 0.3), emotion.Neutral, 0.99)
	d := Decide(win(s...))
	assert.Equal(t, emotion.Happy, d.Label)
	assert.Equal(t, ReasonSingle, d.Reason)
}

func TestCustomBaseline(t *testing.T) {
	p := Policy{Baseline: emotion.Happy}
	assert.True(t, p.Decide(win(emotion.Happy, 0.5)).Uninformative)
	assert.Equal(t, emotion.Neutral, p.Decide(win(emotion.Happy, 0.5, emotion.Neutral, 0.2)).Label)
}

func TestDecideProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	labels := emotion.All()
	build := func(n int, idx []int, conf []float64) []emotion.Sample {
		out := make([]emotion.Sample, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, emotion.NewSample(time.Unix(int64(i), 0), labels[idx[i]], conf[i]))
		}
		return out
	}
	genN := gen.IntRange(1, 5)
	genIdx := gen.SliceOfN(5, gen.IntRange(0, len(labels)-1))
	genConf := gen.SliceOfN(5, gen.Float64Range(0, 1))

	properties.Property("result is a non-baseline label present in the window, or uninformative", prop.ForAll(
		func(n int, idx []int, conf []float64) bool {
			ss := build(n, idx, conf)
			d := Decide(ss)
			if d.Uninformative {
				for _, s := range ss {
					if s.Label != emotion.Baseline {
						return false
					}
				}
				return true
			}
			if d.Label == emotion.Baseline {
				return false
			}
			for _, s := range ss {
				if s.Label == d.Label {
					return true
				}
			}
			return false
		},
		genN, genIdx, genConf,
	))

	properties.Property("winner holds the highest non-baseline confidence", prop.ForAll(
		func(n int, idx []int, conf []float64) bool {
			ss := build(n, idx, conf)
			d := Decide(ss)
			if d.Uninformative {
				return true
			}
			var best, winner float64
			for _, s := range ss {
				if s.Label == emotion.Baseline {
					continue
				}
				if s.Confidence > best {
					best = s.Confidence
				}
				if s.Label == d.Label && s.Confidence > winner {
					winner = s.Confidence
				}
			}
			return winner == best
		},
		genN, genIdx, genConf,
	))

	properties.Property("deterministic", prop.ForAll(
		func(n int, idx []int, conf []float64) bool {
			ss := build(n, idx, conf)
			return Decide(ss) == Decide(ss)
		},
		genN, genIdx, genConf,
	))

	properties.TestingRun(t)
}

type fakeOracle struct {
	label emotion.Label
	err   error
	calls int
}

func (f *fakeOracle) InferEmotion(context.Context, string) (emotion.Label, error) {
	f.calls++
	return f.label, f.err
}

func TestResolverSources(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{label: emotion.Sad}
	r := NewResolver(DefaultPolicy, o, nil)

	out := r.Resolve(ctx, nil, "hi")
	assert.Equal(t, emotion.Neutral, out.Label)
	assert.Equal(t, SourceDefault, out.Source)
	assert.Equal(t, 0, o.calls, "empty window never asks the oracle")

	out = r.Resolve(ctx, win(emotion.Angry, 0.4), "hi")
	assert.Equal(t, emotion.Angry, out.Label)
	assert.Equal(t, SourceWindow, out.Source)
	assert.Equal(t, 0, o.calls)

	out = r.Resolve(ctx, win(repeat(5, emotion.Neutral, 0.9)...), "I lost my keys")
	assert.Equal(t, emotion.Sad, out.Label)
	assert.Equal(t, SourceOracle, out.Source)
	assert.Equal(t, 1, o.calls)
}

func TestResolverOracleFailureFallsBackToBaseline(t *testing.T) {
	ctx := context.Background()
	neutral := win(repeat(3, emotion.Neutral, 0.9)...)

	r := NewResolver(DefaultPolicy, &fakeOracle{err: errors.New("quota exceeded")}, nil)
	out := r.Resolve(ctx, neutral, "meh")
	assert.Equal(t, emotion.Neutral, out.Label)
	assert.Equal(t, SourceOracle, out.Source)

	r = NewResolver(DefaultPolicy, &fakeOracle{label: emotion.Label(99)}, nil)
	assert.Equal(t, emotion.Neutral, r.Resolve(ctx, neutral, "meh").Label)

	r = NewResolver(DefaultPolicy, nil, nil)
	assert.Equal(t, emotion.Neutral, r.Resolve(ctx, neutral, "meh").Label)
}
