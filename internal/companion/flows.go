package companion

import (
	"fmt"
	"time"

	"github.com/loykin/emoconnect/internal/emotion"
)

// Step is one action of an activity: say a line, pause, or listen and
// ignore the answer.
type Step struct {
	Say    string
	Pause  time.Duration
	Listen bool
}

func say(s string) Step          { return Step{Say: s} }
func pause(d time.Duration) Step { return Step{Pause: d} }
func listenStep() Step           { return Step{Listen: true} }

var (
	oneBreath = []Step{
		say("Okay. Let's do one slow breath together."),
		say("Breathe in... one... two... three..."),
		pause(300 * time.Millisecond),
		say("Hold... one... two..."),
		pause(300 * time.Millisecond),
		say("Breathe out... one... two... three... four..."),
	}
	grounding = []Step{
		say("Okay. Let's do a quick grounding exercise."),
		say("Name one thing you can see, one thing you can hear, and one thing you can feel."),
		listenStep(),
		say("Good job. Let's take one slow breath together."),
		say("Breathe in... and breathe out slowly."),
	}
	musicReco = []Step{
		say("Okay. Here are a few options: soft piano, calm lo-fi, or peaceful nature sounds."),
		say("Would you like something more relaxing, or something more uplifting?"),
		listenStep(),
		say("Alright. Try listening for a minute and notice how your body feels."),
	}
	journalPrompt = []Step{
		say("Okay. You can start by writing what happened and how you felt."),
		say("What is one detail you want to remember from today?"),
		listenStep(),
		say("That sounds meaningful. Writing it down can help you remember this moment."),
	}
)

// Flow is the scripted response to one label. A flow without an Offer just
// says Reply.
type Flow struct {
	Label    emotion.Label
	Offer    string
	Reply    string
	Before   []string // gestures before the offer
	After    []string // gestures once answered
	OnYes    []string // gestures before the activity
	Activity []Step
}

// GesturesFor returns the gestures that express l.
func GesturesFor(l emotion.Label) ([]string, error) {
	switch l {
	case emotion.Happy:
		return []string{"BigSmile", "Nod"}, nil
	case emotion.Sad:
		return []string{"Thoughtful", "LookDown"}, nil
	case emotion.Angry:
		return []string{"ShakeHead"}, nil
	case emotion.Fear:
		return []string{"GazeAway", "Thoughtful"}, nil
	case emotion.Surprise:
		return []string{"Surprised", "RaiseBrows"}, nil
	case emotion.Disgust:
		return []string{"ShakeHead", "LookAway"}, nil
	case emotion.Neutral:
		return []string{"Smile"}, nil
	default:
		return nil, fmt.Errorf("%w: %d", emotion.ErrUnknownLabel, uint8(l))
	}
}

// FlowFor returns the conversation flow for l.
func FlowFor(l emotion.Label) (Flow, error) {
	switch l {
	case emotion.Sad:
		return Flow{
			Label:    l,
			Offer:    "I'm sorry that you're feeling sad and it is completely okay to feel this way. Would you like some music recommendations to help you feel a bit better?",
			After:    []string{"Tilt"},
			Activity: musicReco,
		}, nil
	case emotion.Angry:
		return Flow{
			Label:    l,
			Offer:    "It seems you're upset. Would you like a quick reset, like a calming breath?",
			Activity: oneBreath,
		}, nil
	case emotion.Fear:
		return Flow{
			Label:    l,
			Offer:    "You look worried. Would you like a quick grounding exercise to feel better?",
			Before:   []string{"ExpressSad"},
			Activity: grounding,
		}, nil
	case emotion.Happy:
		return Flow{
			Label:    l,
			Offer:    "Oh, how wonderful! I am glad that you are happy! Would you like to pen down your thoughts to remember this eventful day?",
			OnYes:    []string{"BigSmile"},
			Activity: journalPrompt,
		}, nil
	case emotion.Surprise:
		return Flow{
			Label:    l,
			Offer:    "Oh my, that is so surprising! I understand you got a shock, would you like to calm down with a slow breath?",
			Before:   []string{"Tilt"},
			Activity: oneBreath,
		}, nil
	case emotion.Disgust:
		return Flow{
			Label:    l,
			Offer:    "That seems really unpleasant, it is fine to feel unsettled. Would you like to take a moment to reset with a calming breath?",
			Activity: oneBreath,
		}, nil
	case emotion.Neutral:
		return Flow{Label: l, Reply: "I'm here with you. Tell me what's on your mind."}, nil
	default:
		return Flow{}, fmt.Errorf("%w: %d", emotion.ErrUnknownLabel, uint8(l))
	}
}
