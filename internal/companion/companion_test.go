package companion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/emoconnect/internal/decision"
	"github.com/loykin/emoconnect/internal/emotion"
	"github.com/loykin/emoconnect/internal/history"
)

// fakeRobot replays scripted replies and records what the bot did.
type fakeRobot struct {
	mu       sync.Mutex
	replies  []string
	said     []string
	gestures []string
	cancel   context.CancelFunc // called when replies run out
}

func (r *fakeRobot) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.said = append(r.said, text)
	r.mu.Unlock()
	return nil
}

func (r *fakeRobot) Listen(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		if r.cancel != nil {
			r.cancel()
		}
		return "", errors.New("no more replies")
	}
	next := r.replies[0]
	r.replies = r.replies[1:]
	return next, nil
}

func (r *fakeRobot) Gesture(_ context.Context, name string) error {
	r.mu.Lock()
	r.gestures = append(r.gestures, name)
	r.mu.Unlock()
	return nil
}

func (r *fakeRobot) SetFace(context.Context, string, string) error { return nil }
func (r *fakeRobot) SetVoice(context.Context, string) error        { return nil }

type staticWindow struct {
	samples []emotion.Sample
	err     error
}

func (w staticWindow) Window(context.Context) ([]emotion.Sample, error) { return w.samples, w.err }

type fakeOracle struct {
	label emotion.Label
	err   error
	calls int
}

func (o *fakeOracle) InferEmotion(context.Context, string) (emotion.Label, error) {
	o.calls++
	return o.label, o.err
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func samples(labels ...emotion.Label) []emotion.Sample {
	out := make([]emotion.Sample, 0, len(labels))
	now := time.Now()
	for i, l := range labels {
		out = append(out, emotion.NewSample(now.Add(time.Duration(i)*time.Second), l, 0.9))
	}
	return out
}

func newTestBot(robot *fakeRobot, w WindowSource, o decision.Oracle, opts ...Option) *Bot {
	b := NewBot(DefaultConfig(), robot, w, decision.NewResolver(decision.DefaultPolicy, o, nil), opts...)
	b.pause = func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }
	return b
}

func TestExtractName(t *testing.T) {
	cases := map[string]string{
		"my name is ada":     "Ada",
		"I'm bob.":           "Bob",
		"call me Charlie!":   "Charlie",
		"dana":               "Dana",
		"my name is":         DefaultName,
		"":                   DefaultName,
		"  im   eve  smith ": "Eve",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractName(in), in)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Answer{
		"yes please":       Yes,
		"Okay":             Yes,
		"let's do it":      Yes,
		"the first one":    Yes,
		"no thanks":        No,
		"Nope":             No,
		"I don't think so": No,
		"maybe later":      Unknown,
		"":                 Unknown,
		// yes keywords win
		"yes, not now": Yes,
	}
	for in, want := range cases {
		assert.Equal(t, want, Classify(in), in)
	}
	assert.Equal(t, "yes", Yes.String())
	assert.Equal(t, "unknown", Unknown.String())
}

func TestMappingsAreExhaustive(t *testing.T) {
	for _, l := range emotion.All() {
		g, err := GesturesFor(l)
		require.NoError(t, err, l.String())
		assert.NotEmpty(t, g, l.String())

		f, err := FlowFor(l)
		require.NoError(t, err, l.String())
		if l == emotion.Neutral {
			assert.Empty(t, f.Offer)
			assert.NotEmpty(t, f.Reply)
			continue
		}
		assert.NotEmpty(t, f.Offer, l.String())
		assert.NotEmpty(t, f.Activity, l.String())
	}

	_, err := GesturesFor(emotion.Label(0))
	assert.ErrorIs(t, err, emotion.ErrUnknownLabel)
	_, err = FlowFor(emotion.Label(42))
	assert.ErrorIs(t, err, emotion.ErrUnknownLabel)
}

func TestAskYesNoReprompts(t *testing.T) {
	r := &fakeRobot{replies: []string{"hmm", "sure"}}
	b := newTestBot(r, staticWindow{}, nil)

	ans, err := b.AskYesNo(context.Background(), "Ready?")
	require.NoError(t, err)
	assert.Equal(t, Yes, ans)
	assert.Equal(t, []string{"Ready?", "Sorry, is that a yes or a no?"}, r.said)

	r = &fakeRobot{replies: []string{"hmm", "what"}}
	b = newTestBot(r, staticWindow{}, nil)
	ans, err = b.AskYesNo(context.Background(), "Ready?")
	require.NoError(t, err)
	assert.Equal(t, Unknown, ans, "only one reprompt")
}

func TestRespondHappyYesRunsJournal(t *testing.T) {
	r := &fakeRobot{replies: []string{"yes", "my birthday"}}
	b := newTestBot(r, staticWindow{samples: samples(emotion.Happy, emotion.Happy, emotion.Neutral)}, nil)

	l, err := b.Respond(context.Background(), "great")
	require.NoError(t, err)
	assert.Equal(t, emotion.Happy, l)
	assert.Equal(t, []string{"BigSmile", "Nod", "Nod", "BigSmile"}, r.gestures)
	assert.Contains(t, r.said, "What is one detail you want to remember from today?")
	assert.Equal(t, "That sounds meaningful. Writing it down can help you remember this moment.", r.said[len(r.said)-1])
}

func TestRespondNoSaysUnderstand(t *testing.T) {
	r := &fakeRobot{replies: []string{"no"}}
	b := newTestBot(r, staticWindow{samples: samples(emotion.Sad)}, nil)

	l, err := b.Respond(context.Background(), "meh")
	require.NoError(t, err)
	assert.Equal(t, emotion.Sad, l)
	assert.Equal(t, []string{"Thoughtful", "LookDown", "Tilt", "Nod"}, r.gestures)
	assert.Equal(t, "I understand. I will be here for you.", r.said[len(r.said)-1])
}

func TestRespondNeutralFromEmptyWindow(t *testing.T) {
	oracle := &fakeOracle{label: emotion.Angry}
	r := &fakeRobot{}
	b := newTestBot(r, staticWindow{err: errors.New("sampler down")}, oracle)

	l, err := b.Respond(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, emotion.Neutral, l)
	assert.Zero(t, oracle.calls, "empty window never consults the oracle")
	assert.Equal(t, []string{"I'm here with you. Tell me what's on your mind."}, r.said)
	assert.Equal(t, []string{"Smile"}, r.gestures)
}

func TestRespondOracleFallbackRecorded(t *testing.T) {
	oracle := &fakeOracle{label: emotion.Fear}
	sink := &memSink{}
	r := &fakeRobot{replies: []string{"no"}}
	b := newTestBot(r, staticWindow{samples: samples(emotion.Neutral, emotion.Neutral)}, oracle, WithHistory(sink))

	l, err := b.Respond(context.Background(), "I am scared of tomorrow")
	require.NoError(t, err)
	assert.Equal(t, emotion.Fear, l)
	assert.Equal(t, 1, oracle.calls)
	assert.Equal(t, "ExpressSad", r.gestures[2], "fear gestures, then ExpressSad before the offer")

	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, history.EventDecision, e.Type)
	assert.Equal(t, "fear", e.Label)
	assert.Equal(t, "oracle", e.Source)
	assert.Contains(t, e.Message, "reason=all-baseline")
}

type upper struct{}

func (upper) Paraphrase(_ context.Context, fixed, _ string) string { return strings.ToUpper(fixed) }

func TestRespondUsesParaphraser(t *testing.T) {
	r := &fakeRobot{replies: []string{"no"}}
	b := newTestBot(r, staticWindow{samples: samples(emotion.Angry)}, nil, WithParaphraser(upper{}))

	_, err := b.Respond(context.Background(), "ugh")
	require.NoError(t, err)
	assert.Equal(t, "IT SEEMS YOU'RE UPSET. WOULD YOU LIKE A QUICK RESET, LIKE A CALMING BREATH?", r.said[0])
}

func TestRunConversation(t *testing.T) {
	r := &fakeRobot{replies: []string{
		"my name is ada",
		"not great",
		"yes",
		"yes", // continue
		"fine",
		"no", // offer declined
		"no", // end chat
	}}
	w := staticWindow{samples: samples(emotion.Disgust)}
	b := newTestBot(r, w, nil)

	require.NoError(t, b.Run(context.Background()))
	assert.Equal(t, "Ada", b.Name())
	assert.Equal(t, "Hello! I'm your companion Furhat.", r.said[0])
	assert.Contains(t, r.said, "Nice to meet you, Ada.")
	assert.Contains(t, r.said, "Breathe out... one... two... three... four...")
	assert.Equal(t, "It was nice talking to you, Ada. Take care.", r.said[len(r.said)-1])
	assert.Equal(t, "Smile", r.gestures[0])
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeRobot{replies: []string{"ada"}, cancel: cancel}
	b := newTestBot(r, staticWindow{}, nil)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHTTPWindowSource(t *testing.T) {
	want := samples(emotion.Happy, emotion.Sad)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emotion" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"window_size": len(want), "data": want})
	}))
	defer srv.Close()

	got, err := NewHTTPWindowSource(srv.URL + "/").Window(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, emotion.Happy, got[0].Label)
	assert.Equal(t, emotion.Sad, got[1].Label)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	_, err = NewHTTPWindowSource(bad.URL).Window(context.Background())
	assert.Error(t, err)
}
