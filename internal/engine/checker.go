package engine

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Checker decides whether input answers item correctly.
type Checker func(item Item, input string) bool

// NormalizeAnswer folds s into the form answers are compared in: NFKC,
// case-folded, with all whitespace removed.
func NormalizeAnswer(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// CheckAnswer is the default [Checker]. It accepts input when its normalised
// form equals that of Correct or of any alternative. Blank input is never
// correct.
func CheckAnswer(item Item, input string) bool {
	got := NormalizeAnswer(input)
	if got == "" {
		return false
	}
	if item.Correct != "" && NormalizeAnswer(item.Correct) == got {
		return true
	}
	for _, alt := range item.Alternatives {
		if NormalizeAnswer(alt) == got {
			return true
		}
	}
	return false
}
