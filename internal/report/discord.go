package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cfmarsh/gapscan/internal/metrics"
)

// DiscordSender sends cycle reports to Discord via webhook
type DiscordSender struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscordSender creates a new Discord sender
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the report as a single embed
func (s *DiscordSender) Send(ctx context.Context, r *CycleReport) error {
	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{s.buildEmbed(r)},
	}

	body, err := json.Marshal(webhookPayload)
	if err != nil {
		metrics.RecordReport("error", "discord")
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(body))
	if err != nil {
		metrics.RecordReport("error", "discord")
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.RecordReport("error", "discord")
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		metrics.RecordReport("error", "discord")
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	metrics.RecordReport("success", "discord")
	return nil
}

func (s *DiscordSender) buildEmbed(r *CycleReport) map[string]interface{} {
	title := "📊 Gap scan cycle complete"
	color := 0x0099FF // Blue
	if r.GapsStored > 0 {
		title = fmt.Sprintf("🔍 %d new pricing gaps found", r.GapsStored)
		color = 0xFFA500 // Orange
	}

	description := fmt.Sprintf("Analyzed **%d** contracts, collected **%d** posts in %s.",
		r.ContractsAnalyzed, r.PostsCollected, r.Duration.Round(time.Second))

	fields := make([]map[string]interface{}, 0, len(r.TopGaps))
	for i, gap := range r.TopGaps {
		fields = append(fields, map[string]interface{}{
			"name": fmt.Sprintf("%d. %s (%d/100)", i+1, formatGapType(gap.GapType), gap.ConfidenceScore),
			"value": truncate(fmt.Sprintf("%s\nEdge: **%.1f%%**\n%s",
				gap.Question, gap.EdgePercentage, gap.Explanation), 1000),
			"inline": false,
		})
	}

	return map[string]interface{}{
		"title":       title,
		"description": description,
		"color":       color,
		"fields":      fields,
		"footer": map[string]interface{}{
			"text": fmt.Sprintf("gapscan • %s • cycle %s", r.Environment, r.CycleID),
		},
		"timestamp": r.GeneratedAt.Format(time.RFC3339),
	}
}

func formatGapType(gapType string) string {
	words := strings.Split(gapType, "_")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
