// Package config loads runtime configuration for the federation core from
// environment variables.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	BaseURL           string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RSAPrivateKeyPath string
	RSAPublicKeyPath  string

	DeliveryWorkers       int
	DeliveryRetrySchedule []time.Duration
	DeliveryMaxAttempts   int
	AutoAcceptFollowers   bool
	TrendingDefaultWindow int // days
	TrendingDefaultLimit  int
	TrendingMaxLimit      int
	ProcessedActivityTTL  time.Duration
	RemindersTickInterval time.Duration
	ActorFetchTimeout     time.Duration
	ActivityPOSTTimeout   time.Duration
	WebAdminPassword      string
}

// defaultRetrySchedule is the delivery backoff ladder: 30s, 2m, 10m, 1h, 6h.
var defaultRetrySchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

// Load reads configuration from environment variables, applying the same
// defaults for every recognized environment variable.
func Load() *Config {
	return &Config{
		BaseURL:           getEnv("BASE_URL", "http://localhost:8000"),
		Port:              getEnv("PORT", "8000"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DatabaseURL:       getEnv("DATABASE_URL", "gathernet.db"),
		RSAPrivateKeyPath: getEnv("RSA_PRIVATE_KEY_PATH", "private.pem"),
		RSAPublicKeyPath:  getEnv("RSA_PUBLIC_KEY_PATH", "public.pem"),

		DeliveryWorkers:       parseInt(os.Getenv("DELIVERY_WORKERS"), 16),
		DeliveryRetrySchedule: parseRetrySchedule(os.Getenv("DELIVERY_RETRY_SCHEDULE"), defaultRetrySchedule),
		DeliveryMaxAttempts:   parseInt(os.Getenv("DELIVERY_MAX_ATTEMPTS"), 6),
		AutoAcceptFollowers:   getEnv("AUTO_ACCEPT_FOLLOWERS", "true") != "false",
		TrendingDefaultWindow: parseInt(os.Getenv("TRENDING_DEFAULT_WINDOW_DAYS"), 7),
		TrendingDefaultLimit:  parseInt(os.Getenv("TRENDING_DEFAULT_LIMIT"), 10),
		TrendingMaxLimit:      parseInt(os.Getenv("TRENDING_MAX_LIMIT"), 50),
		ProcessedActivityTTL:  parseDuration(os.Getenv("PROCESSED_ACTIVITY_TTL"), 30*24*time.Hour),
		RemindersTickInterval: parseDuration(os.Getenv("REMINDERS_TICK_INTERVAL"), time.Second),
		ActorFetchTimeout:     parseDuration(os.Getenv("ACTOR_FETCH_TIMEOUT"), 5*time.Second),
		ActivityPOSTTimeout:   parseDuration(os.Getenv("ACTIVITY_POST_TIMEOUT"), 15*time.Second),
		WebAdminPassword:      os.Getenv("WEB_ADMIN"),
	}
}

// URL returns the parsed base URL.
func (c *Config) URL() *url.URL {
	u, _ := url.Parse(c.BaseURL)
	return u
}

// Path constructs an absolute URL from a path rooted at BaseURL.
func (c *Config) Path(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}

// parseRetrySchedule parses a comma-separated list of durations
// (e.g. "30s,2m,10m,1h,6h"); returns fallback on empty input or any parse error.
func parseRetrySchedule(s string, fallback []time.Duration) []time.Duration {
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		out = append(out, d)
	}
	return out
}
