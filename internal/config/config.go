// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultWPBaseURL = "https://www.dansmagazin.net"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxLife  time.Duration

	// WordPress（IdP）
	WPBaseURL     string
	WPJWTTokenURL string

	// WooCommerce（会員作成）
	WooBaseURL        string
	WooConsumerKey    string
	WooConsumerSecret string

	// 外部API呼び出し
	ProviderTimeout         time.Duration
	ProviderMaxResponseSize int64
	ProviderAllowPrivate    bool // trueの場合はSSRFガードを使わない（ローカル開発用）

	// Session
	SessionRememberTTL     time.Duration
	SessionShortTTL        time.Duration
	SessionEnforceExpiry   bool
	SessionRetentionDays   int
	SessionCleanupInterval time.Duration

	// Rate Limit（req/min/IP）
	RateLimitAuth    int
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	WorkerMetricsPort string // workerプロセスの/metrics待ち受けポート
}

// LoadDotEnv はカレントディレクトリの.envを環境変数に読み込む。
// ファイルが無い場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLife = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)

	cfg.WPBaseURL = strings.TrimRight(getEnvString("WP_BASE_URL", defaultWPBaseURL), "/")
	cfg.WPJWTTokenURL = getEnvString("WP_JWT_TOKEN_URL", cfg.WPBaseURL+"/wp-json/jwt-auth/v1/token")
	cfg.WooBaseURL = strings.TrimRight(getEnvString("WOO_BASE_URL", cfg.WPBaseURL), "/")
	cfg.WooConsumerKey = strings.TrimSpace(os.Getenv("WOO_CONSUMER_KEY"))
	cfg.WooConsumerSecret = strings.TrimSpace(os.Getenv("WOO_CONSUMER_SECRET"))

	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ProviderMaxResponseSize = getEnvInt64("PROVIDER_MAX_RESPONSE_SIZE", 1<<20)
	cfg.ProviderAllowPrivate = getEnvBool("PROVIDER_ALLOW_PRIVATE", false)

	cfg.SessionRememberTTL = getEnvDuration("SESSION_REMEMBER_TTL", 30*24*time.Hour)
	cfg.SessionShortTTL = getEnvDuration("SESSION_SHORT_TTL", 24*time.Hour)
	cfg.SessionEnforceExpiry = getEnvBool("SESSION_ENFORCE_EXPIRY", true)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 30)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 24*time.Hour)

	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")

	return cfg, nil
}

// WooConfigured はWooCommerceの認証情報が揃っているかを返す。
func (c *Config) WooConfigured() bool {
	return c.WooBaseURL != "" && c.WooConsumerKey != "" && c.WooConsumerSecret != ""
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
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
