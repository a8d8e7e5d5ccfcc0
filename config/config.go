package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Execution mode: "paper" or "live"
	Mode string

	// Angel One credentials (required in live mode only)
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string

	// Shared-store behaviour
	StoreTimeout time.Duration // per-call timeout; miss on expiry, never fatal

	// PnL write-behind buffer
	PnlFlushInterval time.Duration
	PnlFlushBatch    int

	// Reconciliation sweep
	ReconcileInterval time.Duration

	// Trailing-stop calibration
	TrailTiers          string  // "threshold:offset" pairs, e.g. "10:-2.5,15:0,20:4,30:10"
	PeakDrawdownExitPct float64 // exit when profit retraces this many points from peak

	// Traded index, e.g. "NIFTY", "BANKNIFTY", "SENSEX"
	Index string

	// Paper-mode settings
	SimFeedURL       string // JSON tick websocket for paper sessions
	PaperSlippageBps int64  // simulated fill slippage in basis points

	// Feed staleness watchdog
	FeedStaleAfter time.Duration

	// Alert channels (optional; unset channels are skipped)
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// Load reads configuration from a .env file (if present) and environment
// variables with sensible defaults. Live mode fails fast on missing broker
// credentials.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	cfg := &Config{
		Mode: getEnv("MODE", "paper"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/positions.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 500*time.Millisecond),

		PnlFlushInterval: getEnvDuration("PNL_FLUSH_INTERVAL", 3*time.Second),
		PnlFlushBatch:    getEnvInt("PNL_FLUSH_BATCH", 100),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 10*time.Second),

		TrailTiers:          getEnv("TRAIL_TIERS", "10:-2.5,15:0,20:4,30:10"),
		PeakDrawdownExitPct: getEnvFloat("PEAK_DRAWDOWN_EXIT_PCT", 5.0),

		Index: getEnv("INDEX", "NIFTY"),

		SimFeedURL:       getEnv("SIM_FEED_URL", "ws://localhost:9001/ws"),
		PaperSlippageBps: int64(getEnvInt("PAPER_SLIPPAGE_BPS", 5)),

		FeedStaleAfter: getEnvDuration("FEED_STALE_AFTER", 30*time.Second),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
	}

	if cfg.Mode == "live" {
		cfg.AngelAPIKey = mustEnv("ANGEL_API_KEY")
		cfg.AngelClientCode = mustEnv("ANGEL_CLIENT_CODE")
		cfg.AngelPassword = mustEnv("ANGEL_PASSWORD")
		cfg.AngelTOTPSecret = mustEnv("ANGEL_TOTP_SECRET")
	}

	if _, ok := RuleFor(cfg.Index); !ok {
		log.Fatalf("[config] unknown index %q", cfg.Index)
	}

	return cfg
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

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
