package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cfmarsh/gapscan/internal/secrets"
)

// DedupePolicy controls what happens when a gap candidate collides with a
// recently stored gap of the same (contract, gap_type).
type DedupePolicy string

const (
	// DedupeFirstWins keeps the stored record and discards the candidate.
	DedupeFirstWins DedupePolicy = "first_wins"
	// DedupeLatestWins replaces the stored record with the candidate.
	DedupeLatestWins DedupePolicy = "latest_wins"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Market data (Polymarket)
	GammaAPIBaseURL string
	CLOBAPIBaseURL  string
	MarketsRPS      float64

	// Social sources
	RSSFeeds           map[string]string // source name -> feed URL
	BlueskyBaseURL     string
	BlueskyHandle      string
	BlueskyAppPassword string
	SocialRPS          float64

	// Competitor venues
	KalshiAPIBaseURL   string
	ManifoldAPIBaseURL string
	CompetitorRPS      float64

	// Sentiment model
	OllamaBaseURL      string
	OllamaModel        string
	SentimentBatchSize int

	// Ingestion
	MaxContractsPerCycle int
	SocialContractCap    int
	SocialPostsPerSource int
	LookbackHours        int
	OverfetchMultiplier  int

	// Detection thresholds
	MinPostsForSentiment int
	GapThreshold         float64
	SentimentScale       float64
	ShiftThreshold       float64
	RecentWindowHours    int
	ZScoreThreshold      float64
	MinHistoryPoints     int
	ArbitrageMinEdge     float64
	MinConfidenceScore   int

	// Dedup gate
	GapDedupeWindow time.Duration
	GapDedupePolicy DedupePolicy

	// Feature flags
	EnableRSS                bool
	EnableBluesky            bool
	EnableKalshi             bool
	EnableManifold           bool
	EnableHistoricalAnalysis bool
	EnableArbitrage          bool

	// Retry
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Polling
	PollIntervalSec int

	// Reporting
	ReportMode        string // log, discord (comma-separated)
	DiscordWebhookURL string
	ReportTopN        int

	// Metrics/Health
	MetricsPort int
	HealthPort  int

	// Logging
	LogLevel string
	LogFile  string // rotating file output when set
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "production"),
		DatabaseDSN:         getEnv("DATABASE_DSN", "gapscan:gapscan@tcp(mysql:3306)/gapscan?parseTime=true"),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime: time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,

		GammaAPIBaseURL: getEnv("GAMMA_API_BASE_URL", "https://gamma-api.polymarket.com"),
		CLOBAPIBaseURL:  getEnv("CLOB_API_BASE_URL", "https://clob.polymarket.com"),
		MarketsRPS:      getEnvFloat("MARKETS_RPS", 5.0),

		// The XRPC prefix is part of the base; clients append bare method names.
		BlueskyBaseURL:     getEnv("BLUESKY_BASE_URL", "https://bsky.social/xrpc"),
		BlueskyHandle:      getEnv("BLUESKY_HANDLE", ""),
		BlueskyAppPassword: secrets.ResolveOptional("BLUESKY_APP_PASSWORD", ""),
		SocialRPS:          getEnvFloat("SOCIAL_RPS", 0.5),

		KalshiAPIBaseURL:   getEnv("KALSHI_API_BASE_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		ManifoldAPIBaseURL: getEnv("MANIFOLD_API_BASE_URL", "https://api.manifold.markets"),
		CompetitorRPS:      getEnvFloat("COMPETITOR_RPS", 0.5),

		OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:        getEnv("OLLAMA_MODEL", "llama3.1:8b"),
		SentimentBatchSize: getEnvInt("SENTIMENT_BATCH_SIZE", 50),

		MaxContractsPerCycle: getEnvInt("MAX_CONTRACTS_PER_CYCLE", 20),
		SocialContractCap:    getEnvInt("SOCIAL_CONTRACT_CAP", 10),
		SocialPostsPerSource: getEnvInt("SOCIAL_POSTS_PER_SOURCE", 20),
		LookbackHours:        getEnvInt("LOOKBACK_HOURS", 6),
		OverfetchMultiplier:  getEnvInt("OVERFETCH_MULTIPLIER", 3),

		MinPostsForSentiment: getEnvInt("MIN_POSTS_FOR_SENTIMENT", 5),
		GapThreshold:         getEnvFloat("GAP_THRESHOLD", 0.15),
		SentimentScale:       getEnvFloat("SENTIMENT_SCALE", 0.4),
		ShiftThreshold:       getEnvFloat("SHIFT_THRESHOLD", 0.3),
		RecentWindowHours:    getEnvInt("RECENT_WINDOW_HOURS", 3),
		ZScoreThreshold:      getEnvFloat("Z_SCORE_THRESHOLD", 2.0),
		MinHistoryPoints:     getEnvInt("MIN_HISTORY_POINTS", 10),
		ArbitrageMinEdge:     getEnvFloat("ARBITRAGE_MIN_EDGE", 0.10),
		MinConfidenceScore:   getEnvInt("MIN_CONFIDENCE_SCORE", 60),

		GapDedupeWindow: time.Duration(getEnvInt("GAP_DEDUPE_WINDOW_HOURS", 24)) * time.Hour,
		GapDedupePolicy: DedupePolicy(getEnv("GAP_DEDUPE_POLICY", string(DedupeFirstWins))),

		EnableRSS:                getEnvBool("ENABLE_RSS", true),
		EnableBluesky:            getEnvBool("ENABLE_BLUESKY", true),
		EnableKalshi:             getEnvBool("ENABLE_KALSHI", true),
		EnableManifold:           getEnvBool("ENABLE_MANIFOLD", true),
		EnableHistoricalAnalysis: getEnvBool("ENABLE_HISTORICAL_ANALYSIS", true),
		EnableArbitrage:          getEnvBool("ENABLE_ARBITRAGE", true),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		RetryMaxDelay:    time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 15000)) * time.Millisecond,

		PollIntervalSec: getEnvInt("POLL_INTERVAL_SEC", 300),

		ReportMode:        getEnv("REPORT_MODE", "log"),
		DiscordWebhookURL: secrets.ResolveOptional("DISCORD_WEBHOOK_URL", ""),
		ReportTopN:        getEnvInt("REPORT_TOP_N", 10),

		MetricsPort: getEnvInt("METRICS_PORT", 9090),
		HealthPort:  getEnvInt("HEALTH_PORT", 8080),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	cfg.RSSFeeds = parseFeedList(getEnv("RSS_FEEDS", defaultRSSFeeds))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultRSSFeeds lists public feeds from major news outlets. No API keys needed.
const defaultRSSFeeds = "bbc=http://feeds.bbci.co.uk/news/rss.xml," +
	"cnn=http://rss.cnn.com/rss/cnn_topstories.rss," +
	"google_news=https://news.google.com/rss"

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}

	if c.MaxContractsPerCycle < 1 {
		return fmt.Errorf("MAX_CONTRACTS_PER_CYCLE must be at least 1")
	}
	if c.SocialContractCap < 1 {
		return fmt.Errorf("SOCIAL_CONTRACT_CAP must be at least 1")
	}
	if c.OverfetchMultiplier < 1 {
		return fmt.Errorf("OVERFETCH_MULTIPLIER must be at least 1")
	}
	if c.GapThreshold < 0 || c.GapThreshold > 1 {
		return fmt.Errorf("GAP_THRESHOLD must be within [0,1]")
	}
	if c.ArbitrageMinEdge < 0 || c.ArbitrageMinEdge > 1 {
		return fmt.Errorf("ARBITRAGE_MIN_EDGE must be within [0,1]")
	}
	if c.MinConfidenceScore < 0 || c.MinConfidenceScore > 100 {
		return fmt.Errorf("MIN_CONFIDENCE_SCORE must be within [0,100]")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	switch c.GapDedupePolicy {
	case DedupeFirstWins, DedupeLatestWins:
	default:
		return fmt.Errorf("invalid GAP_DEDUPE_POLICY: %s (must be first_wins or latest_wins)", c.GapDedupePolicy)
	}

	// Bluesky needs credentials; disable rather than fail, matching the
	// behaviour of the other per-source failure paths.
	if c.EnableBluesky && (c.BlueskyHandle == "" || c.BlueskyAppPassword == "") {
		c.EnableBluesky = false
	}

	for _, mode := range strings.Split(c.ReportMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log", "discord":
		default:
			return fmt.Errorf("invalid REPORT_MODE value: %s (valid values: log, discord)", mode)
		}
	}
	if strings.Contains(c.ReportMode, "discord") && c.DiscordWebhookURL == "" {
		return fmt.Errorf("DISCORD_WEBHOOK_URL is required when discord is in REPORT_MODE")
	}

	return nil
}

// parseFeedList parses "name=url,name=url" into a map
func parseFeedList(s string) map[string]string {
	feeds := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		if !ok || name == "" || url == "" {
			continue
		}
		feeds[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return feeds
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
