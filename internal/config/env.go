// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Store
	RedisURL string

	// Fetching
	BridgeEndpoint   string
	FetchTimeout     time.Duration
	FetchConcurrency int
	MaxLand          int

	// Proxy
	ProxyEnabled         bool
	WebshareToken        string
	ProxyFile            string
	ProxyRefreshSchedule string

	// API
	APIPort         int
	APIMaxConns     int
	StreamQueueSize int

	// Fetch log
	FetchLogDir            string
	FetchLogQueueSize      int
	FetchLogFlushBatchSize int
	FetchLogFlushInterval  time.Duration
	FetchLogDBMaxMB        int
	FetchLogDBRetainCount  int

	// Discord
	DiscordBotToken            string
	DiscordGuildID             string
	DiscordTreesChannelID      string
	DiscordIndustriesChannelID string
}

// FetchLogEnabled reports whether fetch attempt logging is configured.
func (c *EnvConfig) FetchLogEnabled() bool {
	return c.FetchLogDir != ""
}

// BotEnabled reports whether the Discord bot is configured.
func (c *EnvConfig) BotEnabled() bool {
	return c.DiscordBotToken != ""
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Store ---
	cfg.RedisURL = strings.TrimSpace(envStr("REDIS_URL", ""))

	// --- Fetching ---
	cfg.BridgeEndpoint = strings.TrimSpace(envStr("PW_WS_ENDPOINT", ""))
	cfg.FetchTimeout = time.Duration(envInt("PW_DEFAULT_TIMEOUT", 60000, &errs)) * time.Millisecond
	cfg.FetchConcurrency = envInt("CONCURRENCY", 1, &errs)
	cfg.MaxLand = envInt("MAX_LAND", 5000, &errs)

	// --- Proxy ---
	cfg.ProxyEnabled = envBool("PW_PROXY_ENABLED", false, &errs)
	cfg.WebshareToken = strings.TrimSpace(envStr("WEBSHARE_TOKEN", ""))
	cfg.ProxyFile = strings.TrimSpace(envStr("PROXY_FILE", ""))
	cfg.ProxyRefreshSchedule = envStr("PROXY_REFRESH_SCHEDULE", "@every 10m")

	// --- API ---
	cfg.APIPort = envInt("API_PORT", 9000, &errs)
	cfg.APIMaxConns = envInt("API_MAX_CONNS", 0, &errs)
	cfg.StreamQueueSize = envInt("STREAM_QUEUE", 256, &errs)

	// --- Fetch log ---
	cfg.FetchLogDir = strings.TrimSpace(envStr("FETCH_LOG_DIR", ""))
	cfg.FetchLogQueueSize = envInt("FETCH_LOG_QUEUE_SIZE", 8192, &errs)
	cfg.FetchLogFlushBatchSize = envInt("FETCH_LOG_FLUSH_BATCH_SIZE", 512, &errs)
	cfg.FetchLogFlushInterval = envDuration("FETCH_LOG_FLUSH_INTERVAL", 30*time.Second, &errs)
	cfg.FetchLogDBMaxMB = envInt("FETCH_LOG_DB_MAX_MB", 256, &errs)
	cfg.FetchLogDBRetainCount = envInt("FETCH_LOG_DB_RETAIN_COUNT", 5, &errs)

	// --- Discord ---
	cfg.DiscordBotToken = strings.TrimSpace(envStr("DISCORD_BOT_TOKEN", ""))
	cfg.DiscordGuildID = strings.TrimSpace(envStr("DISCORD_GUILD_ID", ""))
	cfg.DiscordTreesChannelID = strings.TrimSpace(envStr("DISCORD_TREES_CHANNEL_ID", ""))
	cfg.DiscordIndustriesChannelID = strings.TrimSpace(envStr("DISCORD_INDUSTRIES_CHANNEL_ID", ""))

	// --- Validation ---
	if cfg.RedisURL == "" {
		errs = append(errs, "REDIS_URL must be defined")
	} else if _, err := redis.ParseURL(cfg.RedisURL); err != nil {
		errs = append(errs, fmt.Sprintf("REDIS_URL: %v", err))
	}
	if cfg.BridgeEndpoint == "" {
		errs = append(errs, "PW_WS_ENDPOINT must be defined")
	} else if u, err := url.Parse(cfg.BridgeEndpoint); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Sprintf("PW_WS_ENDPOINT: must be a ws:// or wss:// URL, got %q", cfg.BridgeEndpoint))
	}
	if cfg.FetchTimeout <= 0 {
		errs = append(errs, "PW_DEFAULT_TIMEOUT must be positive")
	}
	validatePositive("CONCURRENCY", cfg.FetchConcurrency, &errs)
	validatePositive("MAX_LAND", cfg.MaxLand, &errs)

	if cfg.ProxyEnabled && cfg.WebshareToken == "" && cfg.ProxyFile == "" {
		errs = append(errs, "WEBSHARE_TOKEN must be defined when PW_PROXY_ENABLED is true and PROXY_FILE is unset")
	}
	if _, err := cron.ParseStandard(cfg.ProxyRefreshSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("PROXY_REFRESH_SCHEDULE: invalid cron expression %q: %v", cfg.ProxyRefreshSchedule, err))
	}

	validatePort("API_PORT", cfg.APIPort, &errs)
	if cfg.APIMaxConns < 0 {
		errs = append(errs, fmt.Sprintf("API_MAX_CONNS: must not be negative, got %d", cfg.APIMaxConns))
	}
	validatePositive("STREAM_QUEUE", cfg.StreamQueueSize, &errs)

	validatePositive("FETCH_LOG_QUEUE_SIZE", cfg.FetchLogQueueSize, &errs)
	validatePositive("FETCH_LOG_FLUSH_BATCH_SIZE", cfg.FetchLogFlushBatchSize, &errs)
	validatePositive("FETCH_LOG_DB_MAX_MB", cfg.FetchLogDBMaxMB, &errs)
	validatePositive("FETCH_LOG_DB_RETAIN_COUNT", cfg.FetchLogDBRetainCount, &errs)
	if cfg.FetchLogFlushInterval <= 0 {
		errs = append(errs, "FETCH_LOG_FLUSH_INTERVAL must be positive")
	}

	// Queue size must be >= 2x batch size
	if cfg.FetchLogQueueSize < 2*cfg.FetchLogFlushBatchSize {
		errs = append(errs, "FETCH_LOG_QUEUE_SIZE must be at least 2x FETCH_LOG_FLUSH_BATCH_SIZE")
	}

	if cfg.BotEnabled() {
		if cfg.DiscordGuildID == "" {
			errs = append(errs, "DISCORD_GUILD_ID must be defined when DISCORD_BOT_TOKEN is set")
		}
		if cfg.DiscordTreesChannelID == "" {
			errs = append(errs, "DISCORD_TREES_CHANNEL_ID must be defined when DISCORD_BOT_TOKEN is set")
		}
		if cfg.DiscordIndustriesChannelID == "" {
			errs = append(errs, "DISCORD_INDUSTRIES_CHANNEL_ID must be defined when DISCORD_BOT_TOKEN is set")
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
