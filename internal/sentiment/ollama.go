package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/metrics"
)

const sentimentPrompt = `Analyze the sentiment of this social media post in the context of prediction markets.

Post: %q

Provide a JSON response with:
1. sentiment_score: A number from -1.0 (very negative/bearish) to +1.0 (very positive/bullish)
2. sentiment_label: One of "positive", "negative", or "neutral"
3. confidence: Your confidence in this analysis (0.0 to 1.0)
4. topics: A list of 2-3 key topics or themes mentioned (e.g., ["bitcoin", "regulation"])

Consider:
- Bullish signals: optimism, positive predictions, supportive language
- Bearish signals: pessimism, negative predictions, critical language
- Neutral: factual statements, questions, unclear sentiment

Respond with ONLY valid JSON, no additional text.`

const matchPrompt = `Two prediction markets on different platforms may be about the same real-world question.

Market A: %q
Market B: %q

Decide whether they resolve on the same underlying event with the same resolution criteria. Do not guess: if the questions differ in subject, timeframe, or threshold, they are not the same market.

Respond with ONLY valid JSON:
{"same_market": true or false, "match_confidence": a number from 0.0 to 1.0}`

// OllamaAnalyzer scores text through a local Ollama instance using the
// /api/generate endpoint in non-streaming JSON mode.
type OllamaAnalyzer struct {
	baseURL    string
	model      string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewOllamaAnalyzer creates an Ollama-backed analyzer
func NewOllamaAnalyzer(cfg *config.Config, log *logrus.Logger) *OllamaAnalyzer {
	return &OllamaAnalyzer{
		baseURL: cfg.OllamaBaseURL,
		model:   cfg.OllamaModel,
		// Local model inference is slow on first load
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log,
	}
}

// AnalyzeBatch scores each text independently. A text whose response fails
// to parse yields a nil entry; the rest of the batch still completes.
func (a *OllamaAnalyzer) AnalyzeBatch(ctx context.Context, texts []string) ([]*Result, error) {
	results := make([]*Result, len(texts))
	start := time.Now()
	defer func() {
		metrics.SentimentAnalysisDuration.Observe(time.Since(start).Seconds())
	}()

	for i, text := range texts {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		res, err := a.analyzeOne(ctx, text)
		if err != nil {
			metrics.SentimentAnalyses.WithLabelValues("error").Inc()
			a.log.WithError(err).Debug("Sentiment analysis failed for post, skipping")
			continue
		}
		metrics.SentimentAnalyses.WithLabelValues("success").Inc()
		results[i] = res
	}
	return results, nil
}

func (a *OllamaAnalyzer) analyzeOne(ctx context.Context, text string) (*Result, error) {
	raw, err := a.generate(ctx, fmt.Sprintf(sentimentPrompt, text))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		SentimentScore float64  `json:"sentiment_score"`
		SentimentLabel string   `json:"sentiment_label"`
		Confidence     float64  `json:"confidence"`
		Topics         []string `json:"topics"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(parsed.SentimentLabel))
	switch label {
	case "positive", "negative", "neutral":
	default:
		return nil, fmt.Errorf("unexpected sentiment label %q", parsed.SentimentLabel)
	}

	topics := parsed.Topics
	if len(topics) > 5 {
		topics = topics[:5]
	}

	return &Result{
		Score:      clamp(parsed.SentimentScore, -1, 1),
		Label:      label,
		Confidence: clamp(parsed.Confidence, 0, 1),
		Topics:     topics,
	}, nil
}

// ConfirmMatch asks the model whether two markets resolve on the same
// event. Unparseable responses are treated as unconfirmed rather than
// errors, since an unconfirmed match is simply dropped.
func (a *OllamaAnalyzer) ConfirmMatch(ctx context.Context, localQuestion, candidateQuestion string) (MatchResult, error) {
	raw, err := a.generate(ctx, fmt.Sprintf(matchPrompt, localQuestion, candidateQuestion))
	if err != nil {
		return MatchResult{}, err
	}

	var parsed struct {
		SameMarket      bool    `json:"same_market"`
		MatchConfidence float64 `json:"match_confidence"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		a.log.WithError(err).Debug("Unparseable match confirmation, treating as unconfirmed")
		return MatchResult{}, nil
	}

	return MatchResult{
		Confirmed:       parsed.SameMarket,
		MatchConfidence: clamp(parsed.MatchConfidence, 0, 1),
	}, nil
}

func (a *OllamaAnalyzer) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  a.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	metrics.RecordAPIRequest("ollama", "/api/generate", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(result.Response), nil
}

// stripCodeFence removes a markdown code block wrapper that smaller models
// sometimes add despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
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
