package triage

import (
	"strings"
	"unicode"
)

var apostropheReplacer = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// normalize lowercases text and folds typographic apostrophes so "can’t" matches "can't".
func normalize(text string) string {
	return apostropheReplacer.Replace(strings.ToLower(text))
}

// firstSubstring returns the first term (in table order) contained in text.
func firstSubstring(text string, terms []string) (string, bool) {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return term, true
		}
	}
	return "", false
}

func countSubstrings(text string, terms []string) int {
	n := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}

// containsWord reports whether term occurs in text bounded by non-word characters
// on both sides. Multi-word terms are matched as phrases.
func containsWord(text, term string) bool {
	if term == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if isBoundary(text, start-1) && isBoundary(text, end) {
			return true
		}
		offset = start + 1
		if offset >= len(text) {
			return false
		}
	}
}

// anyWord matches whole words so short greetings like "hi" do not fire inside "think".
func anyWord(text string, terms []string) bool {
	for _, term := range terms {
		if containsWord(text, term) {
			return true
		}
	}
	return false
}

func isBoundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := rune(text[i])
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
}
