package index

import (
	"strings"
	"unicode"
)

// stopwords are excluded from indexing and queries. Rankings are relative,
// so the exact list matters less than applying it consistently on both
// sides.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "can": {}, "did": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "he": {},
	"her": {}, "his": {}, "i": {}, "if": {}, "in": {}, "is": {}, "it": {},
	"its": {}, "me": {}, "my": {}, "no": {}, "not": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "she": {}, "so": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "will": {}, "with": {}, "you": {},
	"your": {},
}

// Tokenize splits text into lower-cased, stop-word-filtered, stemmed terms.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		f = stem(f)
		if f == "" {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// stem applies light suffix stripping. Any consistent stemmer satisfies the
// ranking contract; this one trades linguistic accuracy for zero surprise.
func stem(term string) string {
	for _, suffix := range []string{"ings", "ing", "edly", "ed", "ies", "es", "ly", "s"} {
		if strings.HasSuffix(term, suffix) && len(term)-len(suffix) >= 3 {
			return term[:len(term)-len(suffix)]
		}
	}
	return term
}
