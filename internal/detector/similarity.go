package detector

import (
	"strings"

	"github.com/cfmarsh/gapscan/internal/competitor"
)

// minLexicalSimilarity is the overlap floor below which a competitor
// market is not even proposed to the match model.
const minLexicalSimilarity = 0.3

// bestLexicalMatch picks the candidate market whose question shares the
// most words with the local question. It only proposes; confirmation is
// the match model's call.
func bestLexicalMatch(question string, markets []competitor.Market) *competitor.Market {
	local := tokenSet(question)
	if len(local) == 0 {
		return nil
	}

	var best *competitor.Market
	bestScore := 0.0
	for i := range markets {
		score := overlap(local, tokenSet(markets[i].Question))
		if score >= minLexicalSimilarity && score > bestScore {
			best = &markets[i]
			bestScore = score
		}
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	cleaned := strings.Map(func(r rune) rune {
		if r == '?' || r == ',' || r == '.' || r == '"' {
			return -1
		}
		return r
	}, strings.ToLower(s))
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// overlap is the share of the smaller set's tokens present in the other.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
