package service

import (
	"strings"
	"unicode"
)

// stopwords are never learned as vocabulary.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"being": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "not": true,
	"no": true, "and": true, "or": true, "but": true, "if": true,
	"then": true, "than": true, "so": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "into": true,
	"of": true, "on": true, "to": true, "with": true, "about": true,
	"up": true, "out": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "you": true, "me": true,
	"i": true, "my": true, "your": true, "we": true, "they": true,
	"he": true, "she": true, "her": true, "him": true, "us": true,
	"them": true, "just": true, "there": true, "here": true, "some": true,
	"any": true, "all": true, "very": true, "too": true, "also": true,
	"im": true, "ive": true, "dont": true, "our": true, "am": true,
}

// normalizeTerm lowercases and trims a vocabulary term.
func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// normalizeMessage lowercases a message and folds typographic apostrophes.
func normalizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "’", "'")
	msg = strings.ReplaceAll(msg, "‘", "'")
	return strings.ToLower(strings.TrimSpace(msg))
}

// tokenize splits text on word boundaries into unique lowercase tokens,
// dropping stopwords and tokens shorter than two characters.
func tokenize(text string) []string {
	words := strings.FieldsFunc(normalizeMessage(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range words {
		if len([]rune(w)) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\''
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments must already be lowercase.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], phrase)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(phrase)

		leftOK := start == 0 || !isWordRune(lastRune(text[:start])) || !isWordRune(firstRune(phrase))
		rightOK := end == len(text) || !isWordRune(firstRune(text[end:])) || !isWordRune(lastRune(phrase))
		if leftOK && rightOK {
			return true
		}
		offset = start + 1
		if offset >= len(text) {
			return false
		}
	}
}

func countPhrases(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if containsPhrase(text, p) {
			n++
		}
	}
	return n
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}
