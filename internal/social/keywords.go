package social

import (
	"strings"
	"unicode"
)

// Common words that carry no search value in market questions.
var stopWords = map[string]struct{}{
	"will": {}, "the": {}, "be": {}, "in": {}, "to": {}, "of": {},
	"and": {}, "or": {}, "a": {}, "an": {}, "by": {}, "on": {},
	"at": {}, "for": {}, "with": {}, "from": {}, "have": {}, "has": {},
	"this": {}, "that": {}, "what": {}, "when": {}, "before": {},
	"after": {}, "than": {}, "more": {}, "over": {}, "under": {},
}

const maxKeywords = 5

// ExtractKeywords derives search keywords from a market question. Tokens
// shorter than four characters and stop words are dropped; capitalized
// tokens (likely proper nouns) are ordered first. At most five keywords
// are returned.
func ExtractKeywords(question string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '?' || r == ',' || r == '"' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, question)

	var proper, rest []string
	seen := make(map[string]struct{})

	for _, tok := range strings.Fields(cleaned) {
		lower := strings.ToLower(tok)
		if len(lower) <= 3 {
			continue
		}
		if _, stop := stopWords[lower]; stop {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		if isCapitalized(tok) {
			proper = append(proper, lower)
		} else {
			rest = append(rest, lower)
		}
	}

	keywords := append(proper, rest...)
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

func isCapitalized(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}
