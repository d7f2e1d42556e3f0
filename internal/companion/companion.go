// Package companion runs the conversational loop on the robot: greet, ask
// how the user feels, resolve an emotion from the sampler window and run the
// matching flow.
package companion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/emoconnect/internal/decision"
	"github.com/loykin/emoconnect/internal/emotion"
	"github.com/loykin/emoconnect/internal/history"
)

type Config struct {
	SamplerURL    string        `mapstructure:"sampler_url"`
	FurhatURL     string        `mapstructure:"furhat_url"`
	Language      string        `mapstructure:"language"`
	Voice         string        `mapstructure:"voice"`
	Face          string        `mapstructure:"face"`
	Mask          string        `mapstructure:"mask"`
	WindowTimeout time.Duration `mapstructure:"window_timeout"`
	GesturePause  time.Duration `mapstructure:"gesture_pause"`
}

func DefaultConfig() Config {
	return Config{
		SamplerURL:    "http://127.0.0.1:5000",
		FurhatURL:     "http://127.0.0.1:54321",
		Language:      "en-US",
		Voice:         "Joanna",
		Face:          "Isabel",
		Mask:          "Adult",
		WindowTimeout: time.Second,
		GesturePause:  200 * time.Millisecond,
	}
}

// Robot is what the bot needs from the robot driver.
type Robot interface {
	Say(ctx context.Context, text string) error
	Listen(ctx context.Context) (string, error)
	Gesture(ctx context.Context, name string) error
	SetFace(ctx context.Context, character, mask string) error
	SetVoice(ctx context.Context, name string) error
}

// Paraphraser rewords a fixed reply. It must return fixed on failure.
type Paraphraser interface {
	Paraphrase(ctx context.Context, fixed, userInput string) string
}

const (
	DefaultName = "Friend"
	serviceName = "companion"
)

type Bot struct {
	cfg      Config
	robot    Robot
	window   WindowSource
	resolver *decision.Resolver
	para     Paraphraser
	events   history.Sink
	logger   *slog.Logger
	session  string
	pause    func(ctx context.Context, d time.Duration) bool

	name string
}

type Option func(*Bot)

func WithParaphraser(p Paraphraser) Option { return func(b *Bot) { b.para = p } }
func WithHistory(s history.Sink) Option    { return func(b *Bot) { b.events = s } }

func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewBot(cfg Config, robot Robot, window WindowSource, resolver *decision.Resolver, opts ...Option) *Bot {
	d := DefaultConfig()
	if cfg.WindowTimeout <= 0 {
		cfg.WindowTimeout = d.WindowTimeout
	}
	if cfg.GesturePause < 0 {
		cfg.GesturePause = 0
	}
	b := &Bot{
		cfg:      cfg,
		robot:    robot,
		window:   window,
		resolver: resolver,
		logger:   slog.Default(),
		session:  uuid.NewString(),
		pause:    sleep,
		name:     DefaultName,
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With("session", b.session)
	return b
}

// Name is the user's name as understood from the greeting.
func (b *Bot) Name() string { return b.name }

// Run drives one conversation. It returns nil when the user ends the chat or
// ctx is cancelled, and the robot error otherwise.
func (b *Bot) Run(ctx context.Context) error {
	err := b.run(ctx)
	if ctx.Err() != nil {
		b.logger.Info("conversation interrupted")
		return nil
	}
	return err
}

func (b *Bot) run(ctx context.Context) error {
	b.setup(ctx)
	if err := b.greet(ctx); err != nil {
		return err
	}
	for {
		if err := b.robot.Say(ctx, "How are you feeling today?"); err != nil {
			return err
		}
		if heard := b.listen(ctx); heard != "" {
			if _, err := b.Respond(ctx, heard); err != nil {
				return err
			}
		}
		ans, err := b.AskYesNo(ctx, "Would you like to continue the chat?")
		if err != nil {
			return err
		}
		if ans == No {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	b.logger.Info("conversation finished", "name", b.name)
	return b.robot.Say(ctx, fmt.Sprintf("It was nice talking to you, %s. Take care.", b.name))
}

func (b *Bot) setup(ctx context.Context) {
	if err := b.robot.SetFace(ctx, b.cfg.Face, b.cfg.Mask); err != nil {
		b.logger.Debug("set face failed", "error", err)
	}
	if err := b.robot.SetVoice(ctx, b.cfg.Voice); err != nil {
		b.logger.Debug("set voice failed", "error", err)
	}
}

func (b *Bot) greet(ctx context.Context) error {
	b.gesture(ctx, "Smile")
	if err := b.robot.Say(ctx, "Hello! I'm your companion Furhat."); err != nil {
		return err
	}
	if err := b.robot.Say(ctx, "May I know your name?"); err != nil {
		return err
	}
	if heard := b.listen(ctx); heard != "" {
		b.name = ExtractName(heard)
	}
	return b.robot.Say(ctx, fmt.Sprintf("Nice to meet you, %s.", b.name))
}

// Respond resolves the user's emotion, expresses it and runs its flow.
func (b *Bot) Respond(ctx context.Context, utterance string) (emotion.Label, error) {
	wctx, cancel := context.WithTimeout(ctx, b.cfg.WindowTimeout)
	samples, err := b.window.Window(wctx)
	cancel()
	if err != nil {
		b.logger.Warn("window read failed", "error", err)
		samples = nil
	}

	out := b.resolver.Resolve(ctx, samples, utterance)
	b.logger.Info("emotion resolved", "label", out.Label.String(), "source", out.Source)
	b.record(out)

	if err := b.express(ctx, out.Label); err != nil {
		return out.Label, err
	}
	return out.Label, b.runFlow(ctx, out.Label, utterance)
}

// AskYesNo asks question, reprompting once when the answer is unclear.
func (b *Bot) AskYesNo(ctx context.Context, question string) (Answer, error) {
	if err := b.robot.Say(ctx, question); err != nil {
		return Unknown, err
	}
	if ans := Classify(b.listen(ctx)); ans != Unknown {
		return ans, nil
	}
	if err := b.robot.Say(ctx, "Sorry, is that a yes or a no?"); err != nil {
		return Unknown, err
	}
	return Classify(b.listen(ctx)), nil
}

func (b *Bot) express(ctx context.Context, l emotion.Label) error {
	names, err := GesturesFor(l)
	if err != nil {
		return err
	}
	for _, g := range names {
		b.gesture(ctx, g)
		if !b.pause(ctx, b.cfg.GesturePause) {
			return ctx.Err()
		}
	}
	return nil
}

func (b *Bot) runFlow(ctx context.Context, l emotion.Label, utterance string) error {
	f, err := FlowFor(l)
	if err != nil {
		return err
	}
	if f.Offer == "" {
		return b.robot.Say(ctx, f.Reply)
	}

	b.gesture(ctx, f.Before...)
	offer := f.Offer
	if b.para != nil {
		offer = b.para.Paraphrase(ctx, f.Offer, utterance)
	}
	ans, err := b.AskYesNo(ctx, offer)
	if err != nil {
		return err
	}
	b.gesture(ctx, f.After...)

	b.gesture(ctx, "Nod")
	if ans != Yes {
		return b.robot.Say(ctx, "I understand. I will be here for you.")
	}
	b.gesture(ctx, f.OnYes...)
	return b.perform(ctx, f.Activity)
}

func (b *Bot) perform(ctx context.Context, steps []Step) error {
	for _, s := range steps {
		switch {
		case s.Say != "":
			if err := b.robot.Say(ctx, s.Say); err != nil {
				return err
			}
		case s.Pause > 0:
			if !b.pause(ctx, s.Pause) {
				return ctx.Err()
			}
		case s.Listen:
			b.listen(ctx)
		}
	}
	return nil
}

// gesture is best effort.
func (b *Bot) gesture(ctx context.Context, names ...string) {
	for _, n := range names {
		if n == "" {
			continue
		}
		if err := b.robot.Gesture(ctx, n); err != nil {
			b.logger.Debug("gesture failed", "gesture", n, "error", err)
		}
	}
}

// listen treats a failed listen as silence.
func (b *Bot) listen(ctx context.Context) string {
	heard, err := b.robot.Listen(ctx)
	if err != nil {
		b.logger.Warn("listen failed", "error", err)
		return ""
	}
	return heard
}

func (b *Bot) record(out decision.Outcome) {
	if b.events == nil {
		return
	}
	e := history.NewEvent(history.EventDecision)
	e.Service = serviceName
	e.Label = out.Label.String()
	e.Source = string(out.Source)
	e.Message = fmt.Sprintf("session=%s reason=%s", b.session, out.Decision.Reason)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.events.Send(ctx, e); err != nil {
		b.logger.Debug("history send failed", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
