package companion

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var nameFillers = map[string]bool{
	"my": true, "name": true, "is": true, "i'm": true, "im": true, "call": true, "me": true,
}

// ExtractName picks the first word of a reply like "my name is ada" that is
// not a filler, capitalised. It falls back to DefaultName.
func ExtractName(text string) string {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"")
		if w == "" || nameFillers[w] {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		return string(unicode.ToUpper(r)) + w[size:]
	}
	return DefaultName
}
