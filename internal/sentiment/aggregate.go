package sentiment

import (
	"sort"
	"time"

	"github.com/cfmarsh/gapscan/internal/storage"
)

// Summary is the per-contract sentiment aggregate consumed by the gap
// detectors. The recent/older split feeds the information-asymmetry
// detector: recent covers the last window, older the window before it.
type Summary struct {
	TotalPosts    int
	AnalyzedPosts int

	MeanScore     float64
	PositiveCount int
	NegativeCount int
	NeutralCount  int
	PositiveRatio float64

	RecentMean  float64
	RecentCount int
	OlderMean   float64
	OlderCount  int

	TopTopics []string
}

// Aggregator folds sentiment records into a Summary.
type Aggregator struct {
	recentWindow time.Duration
}

// NewAggregator creates an aggregator with the given recent-window size
func NewAggregator(recentWindow time.Duration) *Aggregator {
	return &Aggregator{recentWindow: recentWindow}
}

// Aggregate summarizes a contract's sentiment records. It returns nil when
// the contract has no posts or no records, so callers exclude the contract
// from detection instead of acting on a fabricated neutral summary.
func (a *Aggregator) Aggregate(records []storage.SentimentRecord, totalPosts int, now time.Time) *Summary {
	if totalPosts == 0 || len(records) == 0 {
		return nil
	}

	s := &Summary{
		TotalPosts:    totalPosts,
		AnalyzedPosts: len(records),
	}

	recentCutoff := now.Add(-a.recentWindow).Unix()
	olderCutoff := now.Add(-2 * a.recentWindow).Unix()

	var sum, recentSum, olderSum float64
	topicCounts := make(map[string]int)

	for _, r := range records {
		sum += r.Score

		switch r.Label {
		case "positive":
			s.PositiveCount++
		case "negative":
			s.NegativeCount++
		default:
			s.NeutralCount++
		}

		switch {
		case r.AnalyzedTS >= recentCutoff:
			recentSum += r.Score
			s.RecentCount++
		case r.AnalyzedTS >= olderCutoff:
			olderSum += r.Score
			s.OlderCount++
		}

		for _, topic := range r.Topics {
			topicCounts[topic]++
		}
	}

	s.MeanScore = sum / float64(len(records))
	s.PositiveRatio = float64(s.PositiveCount) / float64(len(records))
	if s.RecentCount > 0 {
		s.RecentMean = recentSum / float64(s.RecentCount)
	}
	if s.OlderCount > 0 {
		s.OlderMean = olderSum / float64(s.OlderCount)
	}
	s.TopTopics = topTopics(topicCounts, 5)

	return s
}

func topTopics(counts map[string]int, n int) []string {
	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > n {
		topics = topics[:n]
	}
	return topics
}
