// Package sentiment scores social posts against market contracts and
// aggregates the results per contract.
package sentiment

import "context"

// Result is the sentiment of a single post. Score runs from -1 (bearish)
// to +1 (bullish).
type Result struct {
	Score      float64
	Label      string // positive, negative, neutral
	Confidence float64
	Topics     []string
}

// MatchResult is the judgment on whether two market questions from
// different venues refer to the same real-world event.
type MatchResult struct {
	Confirmed       bool
	MatchConfidence float64
}

// Analyzer scores post text and confirms cross-venue market matches.
//
// AnalyzeBatch returns one entry per input text; an entry is nil when that
// text could not be scored. The error is reserved for total failure of the
// backing model.
//
// ConfirmMatch only judges a candidate pairing proposed by the caller. It
// never proposes matches itself.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, texts []string) ([]*Result, error)
	ConfirmMatch(ctx context.Context, localQuestion, candidateQuestion string) (MatchResult, error)
}
