package companion

import "strings"

// Answer is the outcome of a yes/no question.
type Answer int

const (
	Unknown Answer = iota
	Yes
	No
)

func (a Answer) String() string {
	switch a {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// Keywords match as substrings of the lower-cased reply, yes first.
var (
	yesWords = []string{
		"yes", "yeah", "yep", "sure", "ok", "okay", "please",
		"alright", "i want", "i would", "i'd like", "lets", "let's",
		"go ahead", "1", "first",
	}
	noWords = []string{
		"no", "nah", "nope", "not", "don't", "do not", "dont",
		"stop", "2", "second",
	}
)

func IsYes(text string) bool { return containsAny(text, yesWords) }
func IsNo(text string) bool  { return containsAny(text, noWords) }

// Classify checks the yes keywords before the no keywords.
func Classify(text string) Answer {
	switch {
	case text == "":
		return Unknown
	case IsYes(text):
		return Yes
	case IsNo(text):
		return No
	default:
		return Unknown
	}
}

func containsAny(text string, words []string) bool {
	t := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}
