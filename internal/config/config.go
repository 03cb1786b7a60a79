// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the search service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Web search credentials; both empty means the aggregator serves
	// flagged sample results instead of live data.
	SearchAPIKey   string
	SearchEngineID string
	SearchRPS      float64

	// OAuth client used to refresh users' mail tokens.
	OAuthClientID     string
	OAuthClientSecret string

	SMTPHost     string
	SMTPPort     int
	MailFrom     string
	MailFromName string

	ScanInterval   time.Duration // executor due-check tick
	RunTimeout     time.Duration // upper bound for one configuration's run
	SearchWorkers  int
	RecentLinksTTL time.Duration
}

// Load reads an optional .env file, then environment variables, and returns
// a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("SEARCH_SERVICE_PORT")
	if port == "" {
		port = "8083"
	}

	mailFrom := os.Getenv("MAIL_FROM")
	if mailFrom == "" {
		return nil, fmt.Errorf("MAIL_FROM is required")
	}

	cfg := &Config{
		Port:              port,
		DatabaseURL:       dbURL,
		RedisURL:          redisURL,
		SearchAPIKey:      os.Getenv("SEARCH_API_KEY"),
		SearchEngineID:    os.Getenv("SEARCH_ENGINE_ID"),
		SearchRPS:         5,
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		SMTPHost:          envDefault("SMTP_HOST", "smtp.gmail.com"),
		MailFrom:          mailFrom,
		MailFromName:      envDefault("MAIL_FROM_NAME", "Job Search"),
		ScanInterval:      time.Minute,
		RunTimeout:        5 * time.Minute,
		SearchWorkers:     4,
		RecentLinksTTL:    7 * 24 * time.Hour,
	}

	smtpPort := 587
	if s := os.Getenv("SMTP_PORT"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("SMTP_PORT must be a positive integer, got %q", s)
		}
		smtpPort = v
	}
	cfg.SMTPPort = smtpPort

	if s := os.Getenv("SEARCH_RPS"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("SEARCH_RPS must be a positive number, got %q", s)
		}
		cfg.SearchRPS = v
	}

	if s := os.Getenv("SCAN_INTERVAL_SECONDS"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("SCAN_INTERVAL_SECONDS must be a positive integer, got %q", s)
		}
		cfg.ScanInterval = time.Duration(v) * time.Second
	}

	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
