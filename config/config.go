package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Market data provider credentials
	FeedRootURL    string
	FeedWSURL      string
	FeedAPIKey     string
	FeedClientCode string
	FeedPassword   string
	FeedTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	JournalPath   string
	BarArchive    string
	MetricsAddr   string
	APIAddr       string

	// Subscription (comma-separated symbols, e.g. "ACME,GLOBEX")
	WatchSymbols string

	// Bar aggregation interval in seconds
	BarIntervalSec int

	// Order policy
	AllowFractional bool
	SlippageBps     int64

	// Notifications (optional)
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FeedRootURL:    mustEnv("FEED_ROOT_URL"),
		FeedWSURL:      mustEnv("FEED_WS_URL"),
		FeedAPIKey:     mustEnv("FEED_API_KEY"),
		FeedClientCode: mustEnv("FEED_CLIENT_CODE"),
		FeedPassword:   mustEnv("FEED_PASSWORD"),
		FeedTOTPSecret: mustEnv("FEED_TOTP_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JournalPath:   getEnv("JOURNAL_PATH", "data/orders.db"),
		BarArchive:    getEnv("BAR_ARCHIVE_PATH", "data/bars.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		WatchSymbols: getEnv("WATCH_SYMBOLS", "ACME"),

		BarIntervalSec: getInt("BAR_INTERVAL_SEC", 60),

		AllowFractional: getBool("ALLOW_FRACTIONAL", false),
		SlippageBps:     int64(getInt("SLIPPAGE_BPS", 5)),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
	}
}

// ParseSymbols splits WatchSymbols into a deduplicated, upper-cased slice.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.WatchSymbols, ",")
	seen := make(map[string]bool, len(parts))
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.ToUpper(strings.TrimSpace(p))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
