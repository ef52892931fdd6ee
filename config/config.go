package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"whaleTracker/internal/adapters/logger" // Import the logger package for LogLevel
)

// Store backends for the rolling trade window.
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	// Lighter feed
	LighterAccountID int64
	LighterAuthToken string
	LighterWSURL     string

	// Broadcast channel (Telegram)
	TelegramBotToken  string
	TelegramChannelID string
	TelegramAPIURL    string

	// Push notifications (Pushover)
	PushoverAppToken string
	PushoverAPIURL   string
	BinancePairURL   string // Link attached to push alerts, optional

	// Windows and cooldown
	ReportInterval time.Duration
	SellCooldown   time.Duration
	TradeRetention time.Duration

	// Connection Settings
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	SubscribeTimeout   time.Duration
	HeartbeatTimeout   time.Duration
	MaxConnectionAge   time.Duration

	// Delivery
	DeliveryAttempts int
	PushConcurrency  int
	AlertQueueSize   int
	ShutdownGrace    time.Duration

	// Trade store
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Database
	DBPath string

	// Status surface, empty disables it
	StatusAddr string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Reference prices (Binance futures)
	ReferenceSymbols  map[string]string // Lighter market -> futures symbol
	BinanceUseTestnet bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Lighter feed
	accountStr := getEnv("LIGHTER_ACCOUNT_ID", "")
	if accountStr == "" {
		errs = append(errs, "LIGHTER_ACCOUNT_ID must be set")
	} else if cfg.LighterAccountID, err = strconv.ParseInt(accountStr, 10, 64); err != nil || cfg.LighterAccountID < 0 {
		errs = append(errs, fmt.Sprintf("invalid LIGHTER_ACCOUNT_ID '%s'", accountStr))
	}
	cfg.LighterAuthToken = getEnv("LIGHTER_AUTH_TOKEN", "")
	if cfg.LighterAuthToken == "" {
		errs = append(errs, "LIGHTER_AUTH_TOKEN must be set")
	}
	cfg.LighterWSURL = getEnv("LIGHTER_WS_URL", "wss://mainnet.zklighter.elliot.ai/stream")
	if err := validateURL(cfg.LighterWSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Sprintf("invalid LIGHTER_WS_URL: %v", err))
	}

	// Telegram
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	if cfg.TelegramBotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN must be set")
	}
	cfg.TelegramChannelID = getEnv("TELEGRAM_CHANNEL_ID", "")
	if cfg.TelegramChannelID == "" {
		errs = append(errs, "TELEGRAM_CHANNEL_ID must be set")
	}
	cfg.TelegramAPIURL = getEnv("TELEGRAM_API_URL", "https://api.telegram.org")
	if err := validateURL(cfg.TelegramAPIURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Sprintf("invalid TELEGRAM_API_URL: %v", err))
	}

	// Pushover
	cfg.PushoverAppToken = getEnv("PUSHOVER_APP_TOKEN", "")
	if cfg.PushoverAppToken == "" {
		errs = append(errs, "PUSHOVER_APP_TOKEN must be set")
	}
	cfg.PushoverAPIURL = getEnv("PUSHOVER_API_URL", "https://api.pushover.net")
	if err := validateURL(cfg.PushoverAPIURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Sprintf("invalid PUSHOVER_API_URL: %v", err))
	}
	cfg.BinancePairURL = getEnv("BINANCE_PAIR_URL", "")

	// Windows and cooldown
	intervalMinutes, err := getEnvAsIntRequired("REPORT_INTERVAL_MINUTES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REPORT_INTERVAL_MINUTES: %v", err))
	} else if intervalMinutes <= 0 {
		errs = append(errs, "REPORT_INTERVAL_MINUTES must be positive")
	}
	cfg.ReportInterval = time.Duration(intervalMinutes) * time.Minute

	cooldownMinutes, err := getEnvAsIntRequired("SELL_NOTIFY_COOLDOWN_MINUTES", 120)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SELL_NOTIFY_COOLDOWN_MINUTES: %v", err))
	} else if cooldownMinutes <= 0 {
		errs = append(errs, "SELL_NOTIFY_COOLDOWN_MINUTES must be positive")
	}
	cfg.SellCooldown = time.Duration(cooldownMinutes) * time.Minute

	retentionMinutes, err := getEnvAsIntRequired("TRADE_RETENTION_MINUTES", 2*intervalMinutes+1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_RETENTION_MINUTES: %v", err))
	} else if retentionMinutes <= intervalMinutes {
		errs = append(errs, "TRADE_RETENTION_MINUTES must be greater than REPORT_INTERVAL_MINUTES")
	}
	cfg.TradeRetention = time.Duration(retentionMinutes) * time.Minute

	// Connection Settings
	baseDelay := getEnvAsInt("RECONNECT_BASE_DELAY_SECONDS", 2)
	maxDelay := getEnvAsInt("RECONNECT_MAX_DELAY_SECONDS", 60)
	if baseDelay <= 0 || maxDelay <= 0 {
		errs = append(errs, "RECONNECT_BASE_DELAY_SECONDS and RECONNECT_MAX_DELAY_SECONDS must be positive")
	} else if baseDelay > maxDelay {
		errs = append(errs, "RECONNECT_BASE_DELAY_SECONDS cannot exceed RECONNECT_MAX_DELAY_SECONDS")
	}
	cfg.ReconnectBaseDelay = time.Duration(baseDelay) * time.Second
	cfg.ReconnectMaxDelay = time.Duration(maxDelay) * time.Second

	subscribeTimeout := getEnvAsInt("SUBSCRIBE_TIMEOUT_SECONDS", 10)
	if subscribeTimeout <= 0 {
		errs = append(errs, "SUBSCRIBE_TIMEOUT_SECONDS must be positive")
	}
	cfg.SubscribeTimeout = time.Duration(subscribeTimeout) * time.Second

	heartbeatTimeout := getEnvAsInt("HEARTBEAT_TIMEOUT_SECONDS", 90)
	if heartbeatTimeout <= 0 {
		errs = append(errs, "HEARTBEAT_TIMEOUT_SECONDS must be positive")
	}
	cfg.HeartbeatTimeout = time.Duration(heartbeatTimeout) * time.Second

	maxAge := getEnvAsInt("MAX_CONNECTION_AGE_MINUTES", 1410)
	if maxAge <= 0 {
		errs = append(errs, "MAX_CONNECTION_AGE_MINUTES must be positive")
	}
	cfg.MaxConnectionAge = time.Duration(maxAge) * time.Minute

	// Delivery
	cfg.DeliveryAttempts, err = getEnvAsIntRequired("DELIVERY_ATTEMPTS", 2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DELIVERY_ATTEMPTS: %v", err))
	} else if cfg.DeliveryAttempts < 1 || cfg.DeliveryAttempts > 5 {
		errs = append(errs, "DELIVERY_ATTEMPTS must be between 1 and 5")
	}
	cfg.PushConcurrency = getEnvAsInt("PUSH_CONCURRENCY", 4)
	if cfg.PushConcurrency <= 0 {
		errs = append(errs, "PUSH_CONCURRENCY must be positive")
	}
	cfg.AlertQueueSize = getEnvAsInt("ALERT_QUEUE_SIZE", 256)
	if cfg.AlertQueueSize <= 0 {
		errs = append(errs, "ALERT_QUEUE_SIZE must be positive")
	}
	grace := getEnvAsInt("SHUTDOWN_GRACE_SECONDS", 5)
	if grace < 0 {
		errs = append(errs, "SHUTDOWN_GRACE_SECONDS cannot be negative")
	}
	cfg.ShutdownGrace = time.Duration(grace) * time.Second

	// Trade store
	cfg.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", StoreBackendMemory))
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	switch cfg.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR must be set when STORE_BACKEND=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown STORE_BACKEND '%s' (expected memory or redis)", cfg.StoreBackend))
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/whale_tracker.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.StatusAddr = os.Getenv("STATUS_ADDR")
	if _, set := os.LookupEnv("STATUS_ADDR"); !set {
		cfg.StatusAddr = ":8080"
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Reference prices
	cfg.ReferenceSymbols, err = ParseReferenceSymbols(getEnv("REFERENCE_SYMBOLS", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REFERENCE_SYMBOLS: %v", err))
	}
	cfg.BinanceUseTestnet = getEnvAsBool("BINANCE_USE_TESTNET", false)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// ParseReferenceSymbols parses "market:SYMBOL,market:SYMBOL" into a map.
// An empty string yields an empty map.
func ParseReferenceSymbols(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		market, symbol, ok := strings.Cut(pair, ":")
		market, symbol = strings.TrimSpace(market), strings.TrimSpace(symbol)
		if !ok || market == "" || symbol == "" {
			return nil, fmt.Errorf("entry '%s' is not market:SYMBOL", pair)
		}
		if _, dup := out[market]; dup {
			return nil, fmt.Errorf("market '%s' mapped twice", market)
		}
		out[market] = strings.ToUpper(symbol)
	}
	return out, nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in '%s'", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme '%s' not one of %v", u.Scheme, schemes)
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
