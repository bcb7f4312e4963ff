package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config アプリケーション全体の設定
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	OpenTelemetry OpenTelemetryConfig
	AdminAPI      AdminAPIConfig
	Voucher       VoucherConfig
	RateLimit     RateLimitConfig
	Environment   string
}

// ServerConfig サーバー設定
type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig データベース設定
type DatabaseConfig struct {
	Driver          string // "mysql", "sqlite"
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SQLitePath      string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig Redis設定
// Enabled の場合、ギフトの保存先をRedisにする
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// JWTConfig JWT設定
type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// OpenTelemetryConfig OpenTelemetry設定
type OpenTelemetryConfig struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	Environment     string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceExporter   string // "otlp", "none"
	MetricsExporter string // "otlp", "none"
	LogLevel        string // "debug", "info", "warn", "error"
}

// AdminAPIConfig 管理API設定
type AdminAPIConfig struct {
	Enabled    bool
	APIKey     string
	AllowedIPs []string
}

// AllowsIP 接続元IPが許可リスト（単一IPまたはCIDR）に含まれるか
// 許可リストが空なら全て許可
func (c *AdminAPIConfig) AllowsIP(ip string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	for _, allowed := range c.AllowedIPs {
		if ip == allowed {
			return true
		}
		if parsed == nil || !strings.Contains(allowed, "/") {
			continue
		}
		if _, network, err := net.ParseCIDR(allowed); err == nil && network.Contains(parsed) {
			return true
		}
	}
	return false
}

// VoucherConfig ギフト配布の設定
type VoucherConfig struct {
	SupportedCurrencies string // "ETH:18,USDT:6,GEM:0"
	MaxRetries          int
	RetryBaseDelay      time.Duration
	MaxClaimLimit       int
	ExpirySweepSchedule string
	PayoutRetrySchedule string
	SweepBatchSize      int
	ShareURIScheme      string
	ShareLinkBase       string
}

// RateLimitConfig 受取APIのレート制限設定
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// Load 設定を読み込む
func Load() (*Config, error) {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")
	port := getEnvAsInt("SERVER_PORT", 8080)

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:            port,
			GRPCPort:        getEnvAsInt("GRPC_PORT", port+1),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "mysql")),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 3306),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "gift_db"),
			SQLitePath:      getEnv("DB_SQLITE_PATH", "gift.db"),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Expiration: getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),
			Issuer:     getEnv("JWT_ISSUER", "gift-server"),
		},
		OpenTelemetry: OpenTelemetryConfig{
			Enabled:         getEnvAsBool("OTEL_ENABLED", true),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "gift-server"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Environment:     env,
			OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			OTLPInsecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			TraceExporter:   getEnv("OTEL_TRACES_EXPORTER", "otlp"),
			MetricsExporter: getEnv("OTEL_METRICS_EXPORTER", "otlp"),
			LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
		AdminAPI: AdminAPIConfig{
			Enabled:    getEnvAsBool("ADMIN_API_ENABLED", false),
			APIKey:     getEnv("ADMIN_API_KEY", ""),
			AllowedIPs: getEnvAsList("ADMIN_API_ALLOWED_IPS"),
		},
		Voucher: VoucherConfig{
			SupportedCurrencies: getEnv("SUPPORTED_CURRENCIES", "ETH:18,USDT:6,GEM:0"),
			MaxRetries:          getEnvAsInt("VOUCHER_MAX_RETRIES", 5),
			RetryBaseDelay:      getEnvAsDuration("VOUCHER_RETRY_BASE_DELAY", 10*time.Millisecond),
			MaxClaimLimit:       getEnvAsInt("VOUCHER_MAX_CLAIM_LIMIT", 10000),
			ExpirySweepSchedule: getEnv("VOUCHER_EXPIRY_SWEEP_SCHEDULE", "@every 1m"),
			PayoutRetrySchedule: getEnv("VOUCHER_PAYOUT_RETRY_SCHEDULE", "@every 30s"),
			SweepBatchSize:      getEnvAsInt("VOUCHER_SWEEP_BATCH_SIZE", 100),
			ShareURIScheme:      getEnv("SHARE_URI_SCHEME", "gift"),
			ShareLinkBase:       getEnv("SHARE_LINK_BASE", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvAsBool("CLAIM_RATE_LIMIT_ENABLED", true),
			RPS:     getEnvAsFloat("CLAIM_RATE_LIMIT_RPS", 5),
			Burst:   getEnvAsInt("CLAIM_RATE_LIMIT_BURST", 10),
		},
	}

	// 必須設定の検証
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate 設定の検証
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("DB_SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.Database.Driver)
	}
	switch c.OpenTelemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported LOG_LEVEL: %s", c.OpenTelemetry.LogLevel)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AdminAPI.Enabled && c.AdminAPI.APIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required when ADMIN_API_ENABLED is true")
	}
	if c.Voucher.MaxRetries < 1 {
		return fmt.Errorf("VOUCHER_MAX_RETRIES must be at least 1")
	}
	if c.Voucher.MaxClaimLimit < 1 {
		return fmt.Errorf("VOUCHER_MAX_CLAIM_LIMIT must be at least 1")
	}
	for key, spec := range map[string]string{
		"VOUCHER_EXPIRY_SWEEP_SCHEDULE": c.Voucher.ExpirySweepSchedule,
		"VOUCHER_PAYOUT_RETRY_SCHEDULE": c.Voucher.PayoutRetrySchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s is invalid: %w", key, err)
		}
	}
	return nil
}

// DSN データベース接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address Redis接続アドレスを返す
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv 環境変数を取得（デフォルト値付き）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat 環境変数を浮動小数点数として取得
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool 環境変数を真偽値として取得
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration 環境変数を時間として取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList カンマ区切りの環境変数をスライスとして取得
func getEnvAsList(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
