package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// Cron
	CronSecret    string
	FetchInterval time.Duration
	RunTimeout    time.Duration

	// Search API
	SearchAPIBaseURL      string
	RedditBaseURL         string
	RedditRSSFallback     bool
	SearchTimeout         time.Duration
	SearchMaxRetries      int
	SearchRetryInterval   time.Duration
	SearchRatePerMinute   int
	SearchMaxResponseSize int64
	ReplyLimit            int

	// Ingestion
	InitialBackfillWindow         time.Duration
	DefaultRefreshIntervalMinutes int

	// SMTP
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
	DigestMaxItems int

	// Rate Limit
	RateLimitGeneral   int
	RateLimitSubscribe int

	// Session
	SessionRetentionDays int

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// LoadDotEnv は指定された.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 5*time.Minute)
	cfg.RunTimeout = getEnvDuration("RUN_TIMEOUT", 4*time.Minute)

	cfg.SearchAPIBaseURL = getEnvString("SEARCH_API_BASE_URL", "https://api.pullpush.io")
	cfg.RedditBaseURL = getEnvString("REDDIT_BASE_URL", "https://www.reddit.com")
	cfg.RedditRSSFallback = getEnvBool("REDDIT_RSS_FALLBACK", false)
	cfg.SearchTimeout = getEnvDuration("SEARCH_TIMEOUT", 15*time.Second)
	cfg.SearchMaxRetries = getEnvInt("SEARCH_MAX_RETRIES", 2)
	cfg.SearchRetryInterval = getEnvDuration("SEARCH_RETRY_INTERVAL", 500*time.Millisecond)
	cfg.SearchRatePerMinute = getEnvInt("SEARCH_RATE_PER_MINUTE", 60)
	cfg.SearchMaxResponseSize = getEnvInt64("SEARCH_MAX_RESPONSE_SIZE", 5242880)
	cfg.ReplyLimit = getEnvInt("REPLY_LIMIT", 50)

	cfg.InitialBackfillWindow = getEnvDuration("INITIAL_BACKFILL_WINDOW", 168*time.Hour)
	cfg.DefaultRefreshIntervalMinutes = getEnvInt("DEFAULT_REFRESH_INTERVAL_MINUTES", 60)

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "subwatch@localhost")
	cfg.DigestMaxItems = getEnvInt("DIGEST_MAX_ITEMS", 20)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSubscribe = getEnvInt("RATE_LIMIT_SUBSCRIBE", 10)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 30)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// SMTPEnabled はSMTP送信が設定されているかを返す。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
