package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/collector"
	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/detector"
	"github.com/cfmarsh/gapscan/internal/fetch"
	"github.com/cfmarsh/gapscan/internal/gate"
	"github.com/cfmarsh/gapscan/internal/market"
	"github.com/cfmarsh/gapscan/internal/report"
	"github.com/cfmarsh/gapscan/internal/sentiment"
	"github.com/cfmarsh/gapscan/internal/social"
	"github.com/cfmarsh/gapscan/internal/storage"
)

// fakeStore backs every stage of the cycle in memory.
type fakeStore struct {
	contracts  map[string]*storage.Contract
	oddsPoints []storage.HistoricalOddsPoint
	posts      map[string]*storage.SocialPost
	links      map[string][]string // contractID -> post hashes
	sentiments []storage.SentimentRecord
	gaps       []storage.DetectedGap
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contracts: make(map[string]*storage.Contract),
		posts:     make(map[string]*storage.SocialPost),
		links:     make(map[string][]string),
	}
}

func (s *fakeStore) GetContract(_ context.Context, externalID string) (*storage.Contract, error) {
	return s.contracts[externalID], nil
}

func (s *fakeStore) UpsertContract(_ context.Context, contract *storage.Contract) error {
	cp := *contract
	s.contracts[contract.ExternalID] = &cp
	return nil
}

func (s *fakeStore) AppendOddsPoint(_ context.Context, point *storage.HistoricalOddsPoint) error {
	s.oddsPoints = append(s.oddsPoints, *point)
	return nil
}

func (s *fakeStore) HasPost(_ context.Context, contentHash string) (bool, error) {
	_, ok := s.posts[contentHash]
	return ok, nil
}

func (s *fakeStore) InsertPost(_ context.Context, post *storage.SocialPost) error {
	cp := *post
	s.posts[post.ContentHash] = &cp
	return nil
}

func (s *fakeStore) LinkPostContract(_ context.Context, postHash, contractID string) error {
	for _, h := range s.links[contractID] {
		if h == postHash {
			return nil
		}
	}
	s.links[contractID] = append(s.links[contractID], postHash)
	return nil
}

func (s *fakeStore) GetPostsForContract(_ context.Context, contractID string, limit int) ([]storage.SocialPost, error) {
	var posts []storage.SocialPost
	for _, hash := range s.links[contractID] {
		if p, ok := s.posts[hash]; ok {
			posts = append(posts, *p)
		}
		if limit > 0 && len(posts) >= limit {
			break
		}
	}
	return posts, nil
}

func (s *fakeStore) HasSentiment(_ context.Context, postHash, contractID string) (bool, error) {
	for _, r := range s.sentiments {
		if r.PostHash == postHash && r.ContractID == contractID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) InsertSentiment(_ context.Context, record *storage.SentimentRecord) error {
	s.sentiments = append(s.sentiments, *record)
	return nil
}

func (s *fakeStore) CountPostsForContract(_ context.Context, contractID string) (int64, error) {
	return int64(len(s.links[contractID])), nil
}

func (s *fakeStore) GetSentimentsForContract(_ context.Context, contractID string) ([]storage.SentimentRecord, error) {
	var records []storage.SentimentRecord
	for _, r := range s.sentiments {
		if r.ContractID == contractID {
			records = append(records, r)
		}
	}
	return records, nil
}

func (s *fakeStore) GetOddsHistory(_ context.Context, contractID string, _ int) ([]storage.HistoricalOddsPoint, error) {
	var points []storage.HistoricalOddsPoint
	for _, p := range s.oddsPoints {
		if p.ContractID == contractID {
			points = append(points, p)
		}
	}
	return points, nil
}

func (s *fakeStore) RecentGapExists(_ context.Context, contractID, gapType string, sinceTS int64) (bool, error) {
	for _, g := range s.gaps {
		if g.ContractID == contractID && g.GapType == gapType && g.DetectedTS >= sinceTS {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) DeleteRecentGaps(_ context.Context, contractID, gapType string, sinceTS int64) error {
	var kept []storage.DetectedGap
	for _, g := range s.gaps {
		if g.ContractID == contractID && g.GapType == gapType && g.DetectedTS >= sinceTS {
			continue
		}
		kept = append(kept, g)
	}
	s.gaps = kept
	return nil
}

func (s *fakeStore) InsertGap(_ context.Context, gap *storage.DetectedGap) error {
	s.gaps = append(s.gaps, *gap)
	return nil
}

func (s *fakeStore) TopGapsSince(_ context.Context, sinceTS int64, limit int) ([]storage.DetectedGap, error) {
	var gaps []storage.DetectedGap
	for _, g := range s.gaps {
		if g.DetectedTS >= sinceTS && !g.Resolved {
			gaps = append(gaps, g)
		}
		if limit > 0 && len(gaps) >= limit {
			break
		}
	}
	return gaps, nil
}

type fakeMarketSource struct {
	records []market.ContractRecord
}

func (s *fakeMarketSource) Name() string { return "fake" }

func (s *fakeMarketSource) ListContracts(_ context.Context, offset, _ int) ([]market.ContractRecord, error) {
	if offset > 0 {
		return nil, nil
	}
	return s.records, nil
}

type fakeSocialSource struct {
	posts []social.Post
}

func (s *fakeSocialSource) Name() string  { return "fake_social" }
func (s *fakeSocialSource) Enabled() bool { return true }

func (s *fakeSocialSource) Search(_ context.Context, _ []string, _ time.Time, _ int) ([]social.Post, error) {
	return s.posts, nil
}

type fakeAnalyzer struct {
	score float64
	label string
}

func (a *fakeAnalyzer) AnalyzeBatch(_ context.Context, texts []string) ([]*sentiment.Result, error) {
	results := make([]*sentiment.Result, len(texts))
	for i := range texts {
		results[i] = &sentiment.Result{Score: a.score, Label: a.label, Confidence: 0.9}
	}
	return results, nil
}

func (a *fakeAnalyzer) ConfirmMatch(_ context.Context, _, _ string) (sentiment.MatchResult, error) {
	return sentiment.MatchResult{}, nil
}

type fakeSender struct {
	reports []*report.CycleReport
}

func (s *fakeSender) Send(_ context.Context, r *report.CycleReport) error {
	s.reports = append(s.reports, r)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:              "test",
		MaxContractsPerCycle:     2,
		OverfetchMultiplier:      1,
		SocialContractCap:        5,
		SocialPostsPerSource:     10,
		LookbackHours:            6,
		SentimentBatchSize:       50,
		MinPostsForSentiment:     5,
		GapThreshold:             0.15,
		SentimentScale:           0.4,
		ShiftThreshold:           0.3,
		RecentWindowHours:        3,
		ZScoreThreshold:          2.0,
		MinHistoryPoints:         10,
		ArbitrageMinEdge:         0.10,
		MinConfidenceScore:       60,
		GapDedupeWindow:          24 * time.Hour,
		GapDedupePolicy:          config.DedupeFirstWins,
		EnableHistoricalAnalysis: true,
		RetryMaxAttempts:         3,
		RetryBaseDelay:           time.Millisecond,
		RetryMaxDelay:            2 * time.Millisecond,
		ReportTopN:               10,
	}
}

func newTestPipeline(cfg *config.Config, st *fakeStore, ms market.Source, ss []social.Source, analyzer sentiment.Analyzer, sender report.Sender) *Pipeline {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	retrier := fetch.NewRetrier(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay, log)
	col := collector.New(cfg, st, ms, ss, retrier, log)
	aggregator := sentiment.NewAggregator(time.Duration(cfg.RecentWindowHours) * time.Hour)
	engine := detector.New(cfg, analyzer, nil, log)
	g := gate.New(cfg, st, log)
	return New(cfg, st, col, analyzer, aggregator, engine, g, sender, log)
}

func TestRunCycleStoresSentimentGap(t *testing.T) {
	now := time.Now()
	ms := &fakeMarketSource{
		records: []market.ContractRecord{{
			ExternalID:     "mkt-1",
			Question:       "Will Bitcoin reach $100k by March?",
			YesProbability: 0.30,
			NoProbability:  0.70,
			Active:         true,
			EndTime:        now.Add(48 * time.Hour),
		}},
	}

	var posts []social.Post
	for i := 0; i < 5; i++ {
		posts = append(posts, social.Post{
			Platform: "fake_social",
			Author:   "alice",
			Content:  "Bitcoin is absolutely going to make it",
			URL:      "https://example.com/post/" + string(rune('a'+i)),
			PostedAt: now.Add(-time.Hour),
		})
	}

	st := newFakeStore()
	sender := &fakeSender{}
	pipe := newTestPipeline(testConfig(), st, ms, []social.Source{&fakeSocialSource{posts: posts}}, &fakeAnalyzer{score: 0.8, label: "positive"}, sender)

	if err := pipe.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() returned %v, want nil", err)
	}

	if len(st.sentiments) != 5 {
		t.Errorf("stored %d sentiment records, want 5", len(st.sentiments))
	}

	// Strong positive sentiment against a 30% market crosses the gap
	// threshold; the other detectors abstain with one odds point and no
	// older sentiment window.
	if len(st.gaps) != 1 {
		t.Fatalf("stored %d gaps, want 1", len(st.gaps))
	}
	gap := st.gaps[0]
	if gap.GapType != storage.GapSentimentMismatch {
		t.Errorf("gap type = %q, want %q", gap.GapType, storage.GapSentimentMismatch)
	}
	if gap.ConfidenceScore < 60 {
		t.Errorf("confidence = %d, want at least the floor of 60", gap.ConfidenceScore)
	}

	if len(sender.reports) != 1 {
		t.Fatalf("sent %d reports, want 1", len(sender.reports))
	}
	r := sender.reports[0]
	if r.ContractsAnalyzed != 1 {
		t.Errorf("ContractsAnalyzed = %d, want 1", r.ContractsAnalyzed)
	}
	if r.PostsCollected != 5 {
		t.Errorf("PostsCollected = %d, want 5", r.PostsCollected)
	}
	if r.GapsStored != 1 {
		t.Errorf("GapsStored = %d, want 1", r.GapsStored)
	}
	if len(r.TopGaps) != 1 {
		t.Fatalf("report carries %d gaps, want 1", len(r.TopGaps))
	}
	if r.TopGaps[0].Question != "Will Bitcoin reach $100k by March?" {
		t.Errorf("report gap question = %q, want the contract question", r.TopGaps[0].Question)
	}
}

func TestRunCycleSecondPassSuppressesDuplicate(t *testing.T) {
	now := time.Now()
	ms := &fakeMarketSource{
		records: []market.ContractRecord{{
			ExternalID:     "mkt-1",
			Question:       "Will Bitcoin reach $100k by March?",
			YesProbability: 0.30,
			NoProbability:  0.70,
			Active:         true,
			EndTime:        now.Add(48 * time.Hour),
		}},
	}
	posts := []social.Post{}
	for i := 0; i < 5; i++ {
		posts = append(posts, social.Post{
			Platform: "fake_social",
			Author:   "alice",
			Content:  "Bitcoin is absolutely going to make it",
			URL:      "https://example.com/post/" + string(rune('a'+i)),
			PostedAt: now.Add(-time.Hour),
		})
	}

	st := newFakeStore()
	sender := &fakeSender{}
	pipe := newTestPipeline(testConfig(), st, ms, []social.Source{&fakeSocialSource{posts: posts}}, &fakeAnalyzer{score: 0.8, label: "positive"}, sender)

	ctx := context.Background()
	if err := pipe.RunCycle(ctx); err != nil {
		t.Fatalf("first RunCycle() returned %v, want nil", err)
	}
	if err := pipe.RunCycle(ctx); err != nil {
		t.Fatalf("second RunCycle() returned %v, want nil", err)
	}

	if len(st.gaps) != 1 {
		t.Errorf("stored %d gaps after two cycles, want 1 under first_wins", len(st.gaps))
	}
	if len(st.sentiments) != 5 {
		t.Errorf("stored %d sentiment records after two cycles, want 5", len(st.sentiments))
	}
	if got := sender.reports[1].GapsStored; got != 0 {
		t.Errorf("second cycle GapsStored = %d, want 0", got)
	}
}

func TestRunCycleNoContracts(t *testing.T) {
	st := newFakeStore()
	sender := &fakeSender{}
	pipe := newTestPipeline(testConfig(), st, &fakeMarketSource{}, nil, &fakeAnalyzer{}, sender)

	if err := pipe.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() returned %v, want nil", err)
	}
	if len(sender.reports) != 0 {
		t.Errorf("sent %d reports for an empty cycle, want 0", len(sender.reports))
	}
}
