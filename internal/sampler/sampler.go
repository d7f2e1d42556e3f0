// Package sampler turns camera frames into a rolling window of 1 Hz emotion
// samples and serves it over HTTP.
package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/emoconnect/internal/emotion"
	"github.com/loykin/emoconnect/internal/metrics"
	"github.com/loykin/emoconnect/internal/window"
)

const readRetryDelay = 50 * time.Millisecond

var ErrSourceClosed = errors.New("frame source closed")

type Config struct {
	Listen            string        `mapstructure:"listen"`
	Capacity          int           `mapstructure:"capacity"`
	Tick              time.Duration `mapstructure:"tick"`
	FrameInterval     time.Duration `mapstructure:"frame_interval"`
	Source            string        `mapstructure:"source"` // webcam | snapshot
	Device            int           `mapstructure:"device"`
	SnapshotURL       string        `mapstructure:"snapshot_url"`
	ClassifierURL     string        `mapstructure:"classifier_url"`
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout"`
	Cascade           string        `mapstructure:"cascade"`
}

func DefaultConfig() Config {
	return Config{
		Listen:            "127.0.0.1:5000",
		Capacity:          window.DefaultCapacity,
		Tick:              time.Second,
		FrameInterval:     10 * time.Millisecond,
		Source:            SourceWebcam,
		SnapshotURL:       "http://127.0.0.1:8080/snapshot.jpg",
		ClassifierURL:     "http://127.0.0.1:5001/classify",
		ClassifierTimeout: 2 * time.Second,
		Cascade:           "haarcascade_frontalface_default.xml",
	}
}

// Frame is one captured image. HasFace is false when face detection found
// nothing, in which case JPEG may be empty.
type Frame struct {
	JPEG       []byte
	HasFace    bool
	CapturedAt time.Time
}

type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Classifier maps a face crop to a label and its confidence.
type Classifier interface {
	Classify(ctx context.Context, jpeg []byte) (emotion.Label, float64, error)
}

// Sampler owns the window. It is its only writer.
type Sampler struct {
	cfg    Config
	src    FrameSource
	cls    Classifier
	win    *window.Window
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	latest     emotion.Sample
	lastAppend time.Time

	subMu sync.Mutex
	subs  map[chan []emotion.Sample]struct{}
}

type Option func(*Sampler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Sampler) { s.now = now } }

func New(cfg Config, src FrameSource, cls Classifier, opts ...Option) *Sampler {
	d := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = d.Tick
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = d.FrameInterval
	}
	s := &Sampler{
		cfg:    cfg,
		src:    src,
		cls:    cls,
		win:    window.New(cfg.Capacity),
		logger: slog.Default(),
		now:    time.Now,
		subs:   make(map[chan []emotion.Sample]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.lastAppend = s.now()
	s.latest = emotion.NewSample(s.lastAppend, emotion.Neutral, 0)
	return s
}

// Run reads frames until ctx is done or the source closes.
func (s *Sampler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.lastAppend = s.now()
	s.mu.Unlock()
	s.logger.Info("sampler loop started", "tick", s.cfg.Tick, "capacity", s.win.Cap())
	defer s.logger.Info("sampler loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := s.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrSourceClosed) {
				return err
			}
			s.logger.Debug("frame read failed", "error", err)
			if !sleep(ctx, readRetryDelay) {
				return nil
			}
			continue
		}
		s.Process(ctx, f)
		if !sleep(ctx, s.cfg.FrameInterval) {
			return nil
		}
	}
}

// Process classifies one frame, updates the latest result and appends it to
// the window when a tick has elapsed since the previous append. It reports
// whether a sample was appended.
func (s *Sampler) Process(ctx context.Context, f Frame) bool {
	label, conf := emotion.Neutral, 0.0
	if f.HasFace {
		l, c, err := s.cls.Classify(ctx, f.JPEG)
		if err != nil {
			s.logger.Warn("classification failed", "error", err)
			return false
		}
		label, conf = l, c
	}
	now := s.now()
	sample := emotion.NewSample(now, label, conf)
	metrics.IncClassification(label.String())

	s.mu.Lock()
	s.latest = sample
	due := now.Sub(s.lastAppend) >= s.cfg.Tick
	if due {
		s.lastAppend = now
	}
	s.mu.Unlock()

	if !due {
		return false
	}
	s.win.Append(sample)
	snap := s.win.Snapshot()
	metrics.SetWindowSamples(len(snap))
	s.broadcast(snap)
	return true
}

func (s *Sampler) Latest() emotion.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Window returns the samples oldest first. Never nil.
func (s *Sampler) Window() []emotion.Sample {
	snap := s.win.Snapshot()
	if snap == nil {
		snap = []emotion.Sample{}
	}
	return snap
}

// Subscribe delivers a snapshot after every append. Slow subscribers only
// see the newest snapshot.
func (s *Sampler) Subscribe() (<-chan []emotion.Sample, func()) {
	ch := make(chan []emotion.Sample, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
		})
	}
}

func (s *Sampler) broadcast(snap []emotion.Sample) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
