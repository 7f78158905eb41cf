package textproc

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopwords are dropped from keyword queries. Search engine default lists
// are English only; page text here is mostly French.
var stopwords = map[string]struct{}{
	"au": {}, "aux": {}, "ce": {}, "ces": {}, "dans": {}, "de": {}, "des": {},
	"du": {}, "en": {}, "est": {}, "et": {}, "il": {}, "la": {}, "le": {},
	"les": {}, "leur": {}, "ou": {}, "par": {}, "pas": {}, "pour": {}, "qui": {},
	"sa": {}, "se": {}, "son": {}, "sur": {}, "un": {}, "une": {},
	"an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "with": {},
}

// IsStopword reports whether the lowercased word w carries no search value.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// QueryTerms splits a free-text query on anything but letters and digits,
// lowercases the pieces and drops single characters, stopwords and repeats.
// Every keyword backend builds its query from these terms.
func QueryTerms(q string) []string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 || IsStopword(w) {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}
