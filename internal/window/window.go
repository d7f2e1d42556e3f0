// Package window holds the bounded, insertion-ordered sample buffer the
// sampler writes and the decision policy reads.
package window

import (
	"sync"

	"github.com/loykin/emoconnect/internal/emotion"
)

// DefaultCapacity matches one decision's worth of 1 Hz history.
const DefaultCapacity = 5

// Window is a fixed-capacity FIFO ring buffer.
// Append and Snapshot are atomic with respect to each other.
type Window struct {
	mu    sync.RWMutex
	buf   []emotion.Sample
	start int // index of the oldest sample
	size  int
}

// New returns an empty window. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]emotion.Sample, capacity)}
}

// Append inserts s, evicting the oldest sample when full.
func (w *Window) Append(s emotion.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = s
		w.size++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// Snapshot returns a copy of the contents, oldest first.
func (w *Window) Snapshot() []emotion.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]emotion.Sample, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *Window) Cap() int { return len(w.buf) }
