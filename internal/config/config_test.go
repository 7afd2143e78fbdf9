package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		DatabaseDSN:          "user:pass@tcp(localhost:3306)/gapscan",
		MaxContractsPerCycle: 20,
		SocialContractCap:    10,
		OverfetchMultiplier:  3,
		GapThreshold:         0.15,
		ArbitrageMinEdge:     0.10,
		MinConfidenceScore:   60,
		RetryMaxAttempts:     5,
		GapDedupeWindow:      24 * time.Hour,
		GapDedupePolicy:      DedupeFirstWins,
		ReportMode:           "log",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing DSN",
			mutate:  func(c *Config) { c.DatabaseDSN = "" },
			wantErr: "DATABASE_DSN",
		},
		{
			name:    "zero contracts per cycle",
			mutate:  func(c *Config) { c.MaxContractsPerCycle = 0 },
			wantErr: "MAX_CONTRACTS_PER_CYCLE",
		},
		{
			name:    "gap threshold above one",
			mutate:  func(c *Config) { c.GapThreshold = 1.5 },
			wantErr: "GAP_THRESHOLD",
		},
		{
			name:    "negative arbitrage edge",
			mutate:  func(c *Config) { c.ArbitrageMinEdge = -0.1 },
			wantErr: "ARBITRAGE_MIN_EDGE",
		},
		{
			name:    "confidence floor out of range",
			mutate:  func(c *Config) { c.MinConfidenceScore = 101 },
			wantErr: "MIN_CONFIDENCE_SCORE",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.RetryMaxAttempts = 0 },
			wantErr: "RETRY_MAX_ATTEMPTS",
		},
		{
			name:    "unknown dedupe policy",
			mutate:  func(c *Config) { c.GapDedupePolicy = "newest" },
			wantErr: "GAP_DEDUPE_POLICY",
		},
		{
			name:   "latest wins policy accepted",
			mutate: func(c *Config) { c.GapDedupePolicy = DedupeLatestWins },
		},
		{
			name:    "unknown report mode",
			mutate:  func(c *Config) { c.ReportMode = "log,slack" },
			wantErr: "REPORT_MODE",
		},
		{
			name:    "discord mode without webhook",
			mutate:  func(c *Config) { c.ReportMode = "log,discord" },
			wantErr: "DISCORD_WEBHOOK_URL",
		},
		{
			name: "discord mode with webhook",
			mutate: func(c *Config) {
				c.ReportMode = "discord"
				c.DiscordWebhookURL = "https://discord.com/api/webhooks/1/abc"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() returned %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() returned nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisablesBlueskyWithoutCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.EnableBluesky = true
	cfg.BlueskyHandle = "scanner.bsky.social"
	cfg.BlueskyAppPassword = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned %v, want nil", err)
	}
	if cfg.EnableBluesky {
		t.Error("EnableBluesky = true after Validate, want it disabled without credentials")
	}
}

func TestParseFeedList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "two feeds",
			input: "bbc=http://feeds.bbci.co.uk/news/rss.xml,cnn=http://rss.cnn.com/rss/cnn_topstories.rss",
			want: map[string]string{
				"bbc": "http://feeds.bbci.co.uk/news/rss.xml",
				"cnn": "http://rss.cnn.com/rss/cnn_topstories.rss",
			},
		},
		{
			name:  "whitespace trimmed",
			input: " bbc = http://example.com/rss , ",
			want:  map[string]string{"bbc": "http://example.com/rss"},
		},
		{
			name:  "malformed entries skipped",
			input: "noequals,=nourl,name=,ok=http://example.com/feed",
			want:  map[string]string{"ok": "http://example.com/feed"},
		},
		{
			name:  "empty input",
			input: "",
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseFeedList(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("parseFeedList(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for name, url := range tt.want {
				if got[name] != url {
					t.Errorf("parseFeedList(%q)[%q] = %q, want %q", tt.input, name, got[name], url)
				}
			}
		})
	}
}
