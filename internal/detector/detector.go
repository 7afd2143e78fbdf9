// Package detector runs the four gap detectors over ingested data and
// produces confidence-scored gap candidates.
package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/competitor"
	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/sentiment"
	"github.com/cfmarsh/gapscan/internal/storage"
)

// Candidate is a detected gap before the dedup gate.
type Candidate struct {
	ContractID         string
	GapType            string
	ConfidenceScore    int
	Explanation        string
	Evidence           storage.JSONMap
	MarketProbability  float64
	ImpliedProbability *float64
	EdgePercentage     float64
}

// Engine holds the detectors. Each detector is pure over its inputs except
// the arbitrage detector, which queries competitor venues and the match
// confirmation model.
type Engine struct {
	cfg      *config.Config
	analyzer sentiment.Analyzer
	venues   []competitor.Venue
	log      *logrus.Logger
}

// New creates a detection engine
func New(cfg *config.Config, analyzer sentiment.Analyzer, venues []competitor.Venue, log *logrus.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		analyzer: analyzer,
		venues:   venues,
		log:      log,
	}
}

// DetectAll runs every detector for one contract. A detector with
// insufficient data abstains; it never contributes a guessed result. The
// returned slice holds zero to four candidates, at most one per gap type.
func (e *Engine) DetectAll(ctx context.Context, contract *storage.Contract, summary *sentiment.Summary, history []storage.HistoricalOddsPoint) []Candidate {
	var candidates []Candidate

	if c := e.DetectSentimentMismatch(contract, summary); c != nil {
		candidates = append(candidates, *c)
	}
	if c := e.DetectInfoAsymmetry(contract, summary, history, time.Now()); c != nil {
		candidates = append(candidates, *c)
	}
	if c := e.DetectPatternDeviation(contract, history); c != nil {
		candidates = append(candidates, *c)
	}
	if c := e.DetectArbitrage(ctx, contract); c != nil {
		candidates = append(candidates, *c)
	}

	return candidates
}

// DetectSentimentMismatch compares the market yes-probability against the
// probability implied by aggregate social sentiment.
func (e *Engine) DetectSentimentMismatch(contract *storage.Contract, summary *sentiment.Summary) *Candidate {
	if summary == nil || summary.AnalyzedPosts < e.cfg.MinPostsForSentiment {
		return nil
	}

	implied := clamp(0.5+summary.MeanScore*e.cfg.SentimentScale, 0, 1)
	market := contract.YesProbability
	gap := math.Abs(implied - market)
	if gap < e.cfg.GapThreshold {
		return nil
	}

	direction := "bearish"
	if implied > market {
		direction = "bullish"
	}

	// Confidence from gap size, evidence volume, and label consistency.
	gapFactor := math.Min(gap/0.3, 1.0) * 40
	volumeFactor := math.Min(float64(summary.AnalyzedPosts)/50, 1.0) * 30
	consistencyFactor := math.Abs(summary.PositiveRatio-0.5) * 2 * 30
	confidence := clampConfidence(int(gapFactor + volumeFactor + consistencyFactor))

	explanation := fmt.Sprintf(
		"Social sentiment across %d posts averages %+.2f, implying a %.0f%% yes probability against the market's %.0f%%. The %.2f gap is a %s signal.",
		summary.AnalyzedPosts, summary.MeanScore, implied*100, market*100, gap, direction)

	return &Candidate{
		ContractID:         contract.ExternalID,
		GapType:            storage.GapSentimentMismatch,
		ConfidenceScore:    confidence,
		Explanation:        explanation,
		MarketProbability:  market,
		ImpliedProbability: &implied,
		EdgePercentage:     round2(gap * 100),
		Evidence: storage.JSONMap{
			"avg_sentiment":  round3(summary.MeanScore),
			"positive_ratio": round3(summary.PositiveRatio),
			"total_posts":    summary.AnalyzedPosts,
			"direction":      direction,
			"gap_size":       round3(gap),
		},
	}
}

// DetectInfoAsymmetry flags a recent sentiment shift that market odds have
// not followed. The baseline odds point must be at least one recent-window
// old, so the comparison covers the same period as the sentiment split.
func (e *Engine) DetectInfoAsymmetry(contract *storage.Contract, summary *sentiment.Summary, history []storage.HistoricalOddsPoint, now time.Time) *Candidate {
	if summary == nil {
		return nil
	}
	if summary.RecentCount < e.cfg.MinPostsForSentiment || summary.OlderCount < e.cfg.MinPostsForSentiment {
		return nil
	}

	shift := summary.RecentMean - summary.OlderMean
	if math.Abs(shift) < e.cfg.ShiftThreshold {
		return nil
	}

	baseline := latestPointBefore(history, now.Add(-time.Duration(e.cfg.RecentWindowHours)*time.Hour).Unix())
	if baseline == nil {
		return nil
	}

	current := contract.YesProbability
	movement := current - baseline.YesProbability

	// If the odds already moved with the sentiment, there is no asymmetry.
	sameDirection := (shift > 0 && movement > 0) || (shift < 0 && movement < 0)
	if sameDirection && math.Abs(movement) > 0.05 {
		return nil
	}

	confidence := clampConfidence(int(math.Min(math.Abs(shift)/0.5, 1.0)*60 + 20))

	explanation := fmt.Sprintf(
		"Sentiment shifted %+.2f (from %+.2f to %+.2f across %d recent posts) while market odds moved only %+.3f. Price has not caught up with the signal.",
		shift, summary.OlderMean, summary.RecentMean, summary.RecentCount, movement)

	return &Candidate{
		ContractID:        contract.ExternalID,
		GapType:           storage.GapInfoAsymmetry,
		ConfidenceScore:   confidence,
		Explanation:       explanation,
		MarketProbability: current,
		EdgePercentage:    round2(math.Abs(shift) * 50),
		Evidence: storage.JSONMap{
			"sentiment_shift":      round3(shift),
			"recent_avg_sentiment": round3(summary.RecentMean),
			"older_avg_sentiment":  round3(summary.OlderMean),
			"recent_posts":         summary.RecentCount,
			"odds_movement":        round4(movement),
		},
	}
}

// DetectPatternDeviation measures how far the newest odds point sits from
// the contract's own prior odds distribution. The sample statistics are
// computed over the series excluding the current point.
func (e *Engine) DetectPatternDeviation(contract *storage.Contract, history []storage.HistoricalOddsPoint) *Candidate {
	if !e.cfg.EnableHistoricalAnalysis {
		return nil
	}
	if len(history) <= e.cfg.MinHistoryPoints {
		return nil
	}

	prior := history[:len(history)-1]
	current := history[len(history)-1].YesProbability

	var sum float64
	for _, p := range prior {
		sum += p.YesProbability
	}
	mean := sum / float64(len(prior))

	var variance float64
	for _, p := range prior {
		variance += (p.YesProbability - mean) * (p.YesProbability - mean)
	}
	variance /= float64(len(prior))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return nil
	}

	z := (current - mean) / stdDev
	if math.Abs(z) < e.cfg.ZScoreThreshold {
		return nil
	}

	// Small samples shrink confidence toward the floor.
	base := math.Min(math.Abs(z)/3.0, 1.0)*70 + 10
	sampleFactor := math.Min(float64(len(prior))/float64(2*e.cfg.MinHistoryPoints), 1.0)
	confidence := clampConfidence(int(base * sampleFactor))

	explanation := fmt.Sprintf(
		"Current odds of %.0f%% sit %.1f standard deviations from the contract's own mean of %.0f%% (stddev %.3f over %d points).",
		current*100, z, mean*100, stdDev, len(prior))

	meanCopy := round4(mean)
	return &Candidate{
		ContractID:         contract.ExternalID,
		GapType:            storage.GapPatternDeviation,
		ConfidenceScore:    confidence,
		Explanation:        explanation,
		MarketProbability:  current,
		ImpliedProbability: &meanCopy,
		EdgePercentage:     round2(math.Abs(current-mean) * 100),
		Evidence: storage.JSONMap{
			"z_score":           round2(z),
			"std_dev":           round4(stdDev),
			"avg_odds":          round4(mean),
			"historical_points": len(prior),
		},
	}
}

// DetectArbitrage searches competitor venues for an equivalent market,
// confirms the best lexical candidate through the match model, and flags a
// price divergence above the minimum edge. The model only judges pairings
// proposed here; it never proposes its own. Of all confirmed venues, the
// largest edge wins.
func (e *Engine) DetectArbitrage(ctx context.Context, contract *storage.Contract) *Candidate {
	if !e.cfg.EnableArbitrage {
		return nil
	}

	var best *Candidate
	for _, venue := range e.venues {
		if !venue.Enabled() {
			continue
		}

		markets, err := venue.SearchMarkets(ctx, contract.Question, 5)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"venue":       venue.Name(),
				"contract_id": contract.ExternalID,
			}).Warn("Competitor search failed, skipping venue")
			continue
		}

		candidate := bestLexicalMatch(contract.Question, markets)
		if candidate == nil {
			continue
		}

		match, err := e.analyzer.ConfirmMatch(ctx, contract.Question, candidate.Question)
		if err != nil {
			e.log.WithError(err).WithField("venue", venue.Name()).Warn("Match confirmation failed, skipping venue")
			continue
		}
		if !match.Confirmed {
			continue
		}

		edge := math.Abs(candidate.YesProbability - contract.YesProbability)
		if edge < e.cfg.ArbitrageMinEdge {
			continue
		}

		c := e.arbitrageCandidate(contract, candidate, match, edge)
		if best == nil || c.EdgePercentage > best.EdgePercentage {
			best = c
		}
	}
	return best
}

func (e *Engine) arbitrageCandidate(contract *storage.Contract, m *competitor.Market, match sentiment.MatchResult, edge float64) *Candidate {
	edgeFactor := math.Min(edge/0.3, 1.0) * 50
	matchFactor := match.MatchConfidence * 50
	confidence := int(edgeFactor + matchFactor)
	// A shaky match never produces a high-confidence gap, no matter how
	// wide the price difference is.
	if match.MatchConfidence < 0.75 && confidence > 70 {
		confidence = 70
	}
	confidence = clampConfidence(confidence)

	explanation := fmt.Sprintf(
		"%s prices the equivalent market at %.0f%% against the local %.0f%%, a %.0f point spread (match confidence %.2f).",
		m.Venue, m.YesProbability*100, contract.YesProbability*100, edge*100, match.MatchConfidence)

	implied := m.YesProbability
	return &Candidate{
		ContractID:         contract.ExternalID,
		GapType:            storage.GapArbitrage,
		ConfidenceScore:    confidence,
		Explanation:        explanation,
		MarketProbability:  contract.YesProbability,
		ImpliedProbability: &implied,
		EdgePercentage:     round2(edge * 100),
		Evidence: storage.JSONMap{
			"venue":                  m.Venue,
			"competitor_url":         m.URL,
			"competitor_question":    m.Question,
			"competitor_probability": round4(m.YesProbability),
			"match_confidence":       round3(match.MatchConfidence),
		},
	}
}

func latestPointBefore(history []storage.HistoricalOddsPoint, cutoffTS int64) *storage.HistoricalOddsPoint {
	var latest *storage.HistoricalOddsPoint
	for i := range history {
		p := &history[i]
		if p.RecordedTS > cutoffTS {
			continue
		}
		if latest == nil || p.RecordedTS > latest.RecordedTS {
			latest = p
		}
	}
	return latest
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
