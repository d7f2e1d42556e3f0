package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/emoconnect/internal/emotion"
)

// Generator produces text from a system instruction and a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

const persona = `You are Furhat, an elder companion robot.
Your task is to paraphrase a given response in a warm, gentle, calm, and respectful manner
that is easy for an elderly listener to understand.

Use simple, clear language with short to medium-length sentences.
Avoid slang, technical terms, or fast-paced phrasing.
Maintain a patient, reassuring, and compassionate tone.

You MUST preserve the original meaning, intent, and emotional stance exactly.
You MUST NOT add, remove, or reinterpret information.

You MAY reference concrete facts or reasons explicitly stated by the user
(such as a specific event, or a situation mentioned by the user)
to make the paraphrase feel more personal and grounded.

You MUST NOT invent new details, causes, advice, questions, or emotional guidance.
You MUST NOT introduce new actions, suggestions, or interpretations.

Only rephrase the original response using the user's stated context while making sure the question at the end is not rephrased.`

// Oracle implements decision.Oracle and the companion's paraphraser on top
// of a Generator.
type Oracle struct {
	gen    Generator
	logger *slog.Logger
}

func New(gen Generator, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{gen: gen, logger: logger}
}

// inferable lists every answer the oracle may give; the baseline is excluded.
var inferable = []emotion.Label{emotion.Happy, emotion.Sad, emotion.Angry, emotion.Fear, emotion.Disgust, emotion.Surprise}

func emotionPrompt(text string) string {
	names := make([]string, 0, 6)
	for _, l := range inferable {
		names = append(names, l.String())
	}
	return "Based on the user's message, choose the ONE most likely emotion.\n" +
		"Only return ONE word from this list:\n" +
		strings.Join(names, ", ") + "\n\n" +
		fmt.Sprintf("User message: '%s'", text)
}

// InferEmotion answers one of happy, sad, angry, fear, disgust or surprise.
// Anything else is an error.
func (o *Oracle) InferEmotion(ctx context.Context, text string) (emotion.Label, error) {
	answer, err := o.gen.Generate(ctx, persona, emotionPrompt(text))
	if err != nil {
		return 0, err
	}
	word := strings.Trim(strings.ToLower(strings.TrimSpace(answer)), ".!\"'")
	l, err := emotion.ParseLabel(word)
	if err != nil {
		return 0, err
	}
	if l == emotion.Baseline {
		return 0, fmt.Errorf("%w: baseline %q is not an inferable answer", emotion.ErrUnknownLabel, word)
	}
	return l, nil
}

// Paraphrase rewords fixed for an elderly listener, falling back to fixed on
// any failure.
func (o *Oracle) Paraphrase(ctx context.Context, fixed, userInput string) string {
	prompt := fmt.Sprintf("User said: '%s'\nOriginal response: '%s'\nParaphrase warmly for an elderly listener.", userInput, fixed)
	out, err := o.gen.Generate(ctx, persona, prompt)
	if err != nil || out == "" {
		o.logger.Warn("paraphrase failed, using fixed reply", "error", err)
		return fixed
	}
	return out
}
