// Package keyword extracts the trigger keyword from inbound message text.
package keyword

import (
	"strings"
	"unicode"
)

// Resolve returns the first word of text, lower-cased. Words are runs of
// Unicode letters, marks, digits and underscores; everything else separates
// them. It reports false when text holds no word.
func Resolve(text string) (string, bool) {
	words := strings.FieldsFunc(text, func(r rune) bool { return !isWordRune(r) })
	if len(words) == 0 {
		return "", false
	}
	return strings.ToLower(words[0]), true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
