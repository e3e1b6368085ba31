package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Listeners
	HTTPAddr    string
	MetricsAddr string

	// Infrastructure. An empty RedisAddr runs without cache and pub/sub.
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration
	SQLitePath    string

	// Indicators
	PresetsPath       string // optional YAML file of named indicator presets
	DefaultIndicators string // indicator list, e.g. "sma20,rsi,macd"
	DefaultBarLimit   int
	MaxBarLimit       int

	// Signal alerts. The watcher runs when at least one sink is set.
	AlertIndicators  string // indicator list to watch
	AlertLog         bool
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	c := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CacheTTL:      time.Duration(getEnvInt("CACHE_TTL_SEC", 60)) * time.Second,
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),

		PresetsPath:       getEnv("PRESETS_PATH", ""),
		DefaultIndicators: getEnv("DEFAULT_INDICATORS", "sma20,rsi,macd"),
		DefaultBarLimit:   getEnvInt("DEFAULT_BAR_LIMIT", 500),
		MaxBarLimit:       getEnvInt("MAX_BAR_LIMIT", 5000),

		AlertIndicators:  getEnv("ALERT_INDICATORS", "rsi,macd"),
		AlertLog:         getEnv("ALERT_LOG", "") == "true",
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if _, set := os.LookupEnv("REDIS_ADDR"); !set {
		c.RedisAddr = "localhost:6379"
	}
	if c.DefaultBarLimit > c.MaxBarLimit {
		log.Printf("[config] DEFAULT_BAR_LIMIT %d exceeds MAX_BAR_LIMIT %d, clamping", c.DefaultBarLimit, c.MaxBarLimit)
		c.DefaultBarLimit = c.MaxBarLimit
	}
	return c
}

// AlertsEnabled reports whether any alert sink is configured.
func (c *Config) AlertsEnabled() bool {
	return c.AlertLog || c.AlertWebhookURL != "" || (c.TelegramBotToken != "" && c.TelegramChatID != "")
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
