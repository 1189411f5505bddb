package pattern

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultContextWords is the number of preceding tokens used as the anchor phrase.
	DefaultContextWords = 3
	// MinValueLength is the shortest value (in characters) that can anchor a rule.
	MinValueLength = 2
	// ContextWindow is how many characters before the value are searched for anchor tokens.
	ContextWindow = 50
)

// Capture group shapes, chosen from the value's character class.
const (
	captureDigits  = `(\d+)`
	captureNumeric = `([\d.,]+)`
	captureLine    = `(.+)`
)

// space matches every rune strings.Fields splits on. RE2's \s alone is
// ASCII-only and misses NBSP, \v and U+0085 common in OCR output.
const (
	space     = `[\s\p{Z}\v\x85]`
	joiner    = space + `+`
	separator = space + `*[:.\-]?` + space + `*`
)

var (
	allDigits = regexp.MustCompile(`^\d+$`)
	numeric   = regexp.MustCompile(`^\d+(?:[.,]\d+)+$`)
)

// Synthesize builds a case-insensitive rule that recovers value from the
// tokens preceding its first literal occurrence in text. It returns false
// when the value is too short, absent, or has no preceding tokens.
// The result depends only on its arguments.
func Synthesize(text, value string, contextWords int) (string, bool) {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) < MinValueLength {
		return "", false
	}
	if contextWords <= 0 {
		contextWords = DefaultContextWords
	}

	idx := strings.Index(text, value)
	if idx < 0 {
		return "", false
	}

	tokens := strings.Fields(precedingWindow(text[:idx], ContextWindow))
	if len(tokens) == 0 {
		return "", false
	}
	if len(tokens) > contextWords {
		tokens = tokens[len(tokens)-contextWords:]
	}

	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = regexp.QuoteMeta(tok)
	}
	anchor := strings.Join(quoted, joiner)

	return "(?i)" + anchor + separator + captureFor(value), true
}

// precedingWindow returns at most n characters from the end of s.
func precedingWindow(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}

func captureFor(value string) string {
	switch {
	case allDigits.MatchString(value):
		return captureDigits
	case numeric.MatchString(value):
		return captureNumeric
	default:
		return captureLine
	}
}
