package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cfmarsh/gapscan/internal/collector"
	"github.com/cfmarsh/gapscan/internal/competitor"
	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/detector"
	"github.com/cfmarsh/gapscan/internal/fetch"
	"github.com/cfmarsh/gapscan/internal/gate"
	"github.com/cfmarsh/gapscan/internal/market"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/pipeline"
	"github.com/cfmarsh/gapscan/internal/report"
	"github.com/cfmarsh/gapscan/internal/sentiment"
	"github.com/cfmarsh/gapscan/internal/social"
	"github.com/cfmarsh/gapscan/internal/storage"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting gapscan service...")

	// .env is optional; environment variables win either way
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	configureLogging(cfg, log)

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"max_contracts":     cfg.MaxContractsPerCycle,
		"poll_interval_sec": cfg.PollIntervalSec,
		"dedupe_policy":     cfg.GapDedupePolicy,
		"report_mode":       cfg.ReportMode,
	}).Info("Configuration loaded")

	// Initialize database
	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	log.Info("Database connected")

	// Run auto-migration
	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}

	log.Info("Database migrations complete")

	// Initialize data sources
	marketSource := market.NewPolymarketClient(cfg)

	var socialSources []social.Source
	if cfg.EnableRSS {
		socialSources = append(socialSources, social.NewRSSSource(cfg, log))
	}
	if cfg.EnableBluesky {
		socialSources = append(socialSources, social.NewBlueskySource(cfg, log))
	}

	var venues []competitor.Venue
	if cfg.EnableKalshi {
		venues = append(venues, competitor.NewKalshiClient(cfg))
	}
	if cfg.EnableManifold {
		venues = append(venues, competitor.NewManifoldClient(cfg))
	}

	log.WithFields(logrus.Fields{
		"social_sources":    len(socialSources),
		"competitor_venues": len(venues),
	}).Info("Data sources initialized")

	// Initialize pipeline stages
	analyzer := sentiment.NewOllamaAnalyzer(cfg, log)
	aggregator := sentiment.NewAggregator(time.Duration(cfg.RecentWindowHours) * time.Hour)
	retrier := fetch.NewRetrier(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay, log)
	col := collector.New(cfg, db, marketSource, socialSources, retrier, log)
	engine := detector.New(cfg, analyzer, venues, log)
	g := gate.New(cfg, db, log)
	sender := createReportSender(cfg, log)

	pipe := pipeline.New(cfg, db, col, analyzer, aggregator, engine, g, sender, log)

	// Start HTTP servers
	go startHealthServer(cfg.HealthPort, log)
	go startMetricsServer(cfg.MetricsPort, log)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start polling loop
	ticker := time.NewTicker(time.Duration(cfg.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	log.Info("Starting gap detection loop")

	// Run immediately on startup
	if err := pipe.RunCycle(ctx); err != nil {
		log.WithError(err).Error("Cycle failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := pipe.RunCycle(ctx); err != nil {
				log.WithError(err).Error("Cycle failed")
			}
		case sig := <-sigChan:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
			log.Info("Graceful shutdown complete")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, shutting down")
			return
		}
	}
}

func configureLogging(cfg *config.Config, log *logrus.Logger) {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}
}

func createReportSender(cfg *config.Config, log *logrus.Logger) report.Sender {
	var senders []report.Sender
	for _, mode := range strings.Split(cfg.ReportMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
			senders = append(senders, report.NewLogSender(log))
		case "discord":
			senders = append(senders, report.NewDiscordSender(cfg.DiscordWebhookURL))
		default:
			log.WithField("mode", mode).Warn("Unknown report mode, skipping")
		}
	}

	if len(senders) == 0 {
		log.Warn("No valid report senders configured, using log")
		return report.NewLogSender(log)
	}
	if len(senders) == 1 {
		return senders[0]
	}
	return report.NewMultiSender(senders...)
}

func startHealthServer(port int, log *logrus.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy"}`)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready"}`)
	})

	log.WithField("port", port).Info("Starting health server")
	serveHTTP(mux, port, log)
}

func startMetricsServer(port int, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.WithField("port", port).Info("Starting metrics server")
	serveHTTP(mux, port, log)
}

func serveHTTP(mux *http.ServeMux, port int, log *logrus.Logger) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("HTTP server failed")
	}
}
