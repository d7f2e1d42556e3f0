// Package emotion defines the closed label set and the sample type shared by
// the sampler, the decision policy and the companion.
package emotion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrUnknownLabel is returned for any label outside the closed set.
var ErrUnknownLabel = errors.New("unknown emotion label")

// Label is one of a fixed set of emotions. The zero value is not a valid label.
type Label uint8

const (
	Angry Label = iota + 1
	Disgust
	Fear
	Happy
	Neutral
	Sad
	Surprise
)

// Baseline is the no-signal label.
const Baseline = Neutral

var names = [...]string{
	Angry:    "angry",
	Disgust:  "disgust",
	Fear:     "fear",
	Happy:    "happy",
	Neutral:  "neutral",
	Sad:      "sad",
	Surprise: "surprise",
}

// All returns every valid label in declaration order.
func All() []Label {
	return []Label{Angry, Disgust, Fear, Happy, Neutral, Sad, Surprise}
}

// Valid reports whether l belongs to the closed set.
func (l Label) Valid() bool { return l >= Angry && l <= Surprise }

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", uint8(l))
	}
	return names[l]
}

// ParseLabel accepts the lower-case name, ignoring surrounding space and case.
func ParseLabel(s string) (Label, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range All() {
		if names[l] == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, s)
}

func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLabel, uint8(l))
	}
	return []byte(names[l]), nil
}

func (l *Label) UnmarshalText(b []byte) error {
	v, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Sample is one classification observation.
type Sample struct {
	Timestamp  time.Time
	Label      Label
	Confidence float64
}

// NewSample clamps confidence into [0,1].
func NewSample(ts time.Time, l Label, confidence float64) Sample {
	if math.IsNaN(confidence) || confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return Sample{Timestamp: ts, Label: l, Confidence: confidence}
}

type wireSample struct {
	Timestamp  float64 `json:"timestamp"`
	Label      Label   `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// MarshalJSON encodes the timestamp as fractional unix seconds.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSample{
		Timestamp:  float64(s.Timestamp.Unix()) + float64(s.Timestamp.Nanosecond())/1e9,
		Label:      s.Label,
		Confidence: s.Confidence,
	})
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	var w wireSample
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	sec, frac := math.Modf(w.Timestamp)
	*s = NewSample(time.Unix(int64(sec), int64(frac*1e9)), w.Label, w.Confidence)
	return nil
}
