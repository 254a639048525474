package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	Port string

	// Database
	DatabasePath string

	// Aggregation
	WorkerCount       int
	DefaultDailyLimit int
	ContentAgeMonths  int

	// Outbound HTTP
	FetchTimeout   time.Duration
	RetryCount     int
	RetryBaseDelay time.Duration
	CacheSize      int
	CacheTTL       time.Duration

	// Headless browser
	BrowserPoolSize int

	// Upstream credentials (resolved through internal/secrets when
	// GOOGLE_CLOUD_PROJECT is set)
	YouTubeAPIKey      string
	RedditClientID     string
	RedditClientSecret string

	// Auth
	TokenLifetime time.Duration
}

var globalConfig *Config

// ResetForTesting resets the global config - used only in tests
func ResetForTesting() {
	globalConfig = nil
}

// Load loads configuration from environment variables
func Load() *Config {
	if globalConfig != nil {
		return globalConfig
	}

	globalConfig = &Config{
		Port:         getEnvOrDefault("PORT", "8080"),
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "./aggreader.db"),

		WorkerCount:       parseInt(os.Getenv("AGGREGATION_WORKERS"), 4),
		DefaultDailyLimit: parseInt(os.Getenv("DEFAULT_DAILY_LIMIT"), 10),
		ContentAgeMonths:  parseInt(os.Getenv("CONTENT_AGE_MONTHS"), 2),

		FetchTimeout:   parseDuration(os.Getenv("FETCH_TIMEOUT"), 30*time.Second),
		RetryCount:     parseInt(os.Getenv("FETCH_RETRIES"), 3),
		RetryBaseDelay: parseDuration(os.Getenv("FETCH_RETRY_BASE_DELAY"), time.Second),
		CacheSize:      parseInt(os.Getenv("URL_CACHE_SIZE"), 1000),
		CacheTTL:       parseDuration(os.Getenv("URL_CACHE_TTL"), time.Hour),

		BrowserPoolSize: parseInt(os.Getenv("BROWSER_POOL_SIZE"), 2),

		YouTubeAPIKey:      os.Getenv("YOUTUBE_API_KEY"),
		RedditClientID:     os.Getenv("REDDIT_CLIENT_ID"),
		RedditClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),

		TokenLifetime: parseDuration(os.Getenv("AUTH_TOKEN_LIFETIME"), 7*24*time.Hour),
	}

	return globalConfig
}

// Get returns the current configuration
func Get() *Config {
	if globalConfig == nil {
		return Load()
	}
	return globalConfig
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt parses an integer from string with a default value
func parseInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseDuration parses a duration from string with a default value.
// Accepts Go duration syntax ("45s", "2m") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
