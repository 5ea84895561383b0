package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// MemoryDatabaseURL はインメモリストアを選択するDATABASE_URLの値。
const MemoryDatabaseURL = "memory://"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `validate:"required"`

	// Auth
	JWTSecret string `validate:"required,min=16"`

	// Forum
	ThreadsPerPage         int `validate:"min=1,max=200"`
	PostsPerPage           int `validate:"min=1,max=200"`
	MinSecondsBetweenPosts int `validate:"min=0,max=86400"`
	OldPostDays            int `validate:"min=0"`
	ConflictMaxRetries     int `validate:"min=0,max=20"`

	// Maintenance
	ThreadGraceDays int    `validate:"min=1"`
	PostGraceDays   int    `validate:"min=1"`
	MaintenanceCron string `validate:"required,cron"`

	// Rate Limit（req/min）
	RateLimitGeneral int `validate:"min=1"`
	RateLimitPosting int `validate:"min=1"`

	// Notification
	RedisURL            string        `validate:"omitempty,url"`
	NotifyWebhookURL    string        `validate:"omitempty,url"`
	NotifyDedupWindow   time.Duration `validate:"gte=0"`
	NotifyMaxConcurrent int           `validate:"min=1,max=256"`

	// Cross-posting
	MicroblogEndpoint string `validate:"omitempty,url"`
	MicroblogToken    string `validate:"required_with=MicroblogEndpoint"`
	MicroblogForums   []string

	// Logging
	LogFile          string
	LogMaxSizeMB     int `validate:"min=1"`
	LogMaxBackups    int `validate:"min=0"`
	LogRetentionDays int `validate:"min=0"`

	// Server
	ServerPort        string `validate:"required,numeric"`
	BaseURL           string `validate:"required,url"`
	TrustProxyHeaders bool

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// UsesMemoryStore はインメモリストアを使うかどうかを返す。
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == MemoryDatabaseURL
}

// MinPostInterval は同一ユーザーの連続投稿の最小間隔を返す。
func (c *Config) MinPostInterval() time.Duration {
	return time.Duration(c.MinSecondsBetweenPosts) * time.Second
}

// OldPostAge はスレッドを「古い」とみなす最終活動からの経過時間を返す。
func (c *Config) OldPostAge() time.Duration {
	return days(c.OldPostDays)
}

// ThreadGrace は論理削除されたスレッドを物理削除するまでの猶予期間を返す。
func (c *Config) ThreadGrace() time.Duration {
	return days(c.ThreadGraceDays)
}

// PostGrace は論理削除された投稿を物理削除するまでの猶予期間を返す。
func (c *Config) PostGrace() time.Duration {
	return days(c.PostGraceDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合、または値が範囲外の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
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
	cfg.ThreadsPerPage = getEnvInt("THREADS_PER_PAGE", 25)
	cfg.PostsPerPage = getEnvInt("POSTS_PER_PAGE", 25)
	cfg.MinSecondsBetweenPosts = getEnvInt("MIN_SECONDS_BETWEEN_POSTS", 30)
	cfg.ThreadGraceDays = getEnvInt("THREAD_GRACE_DAYS", 365)
	cfg.PostGraceDays = getEnvInt("POST_GRACE_DAYS", 365)
	cfg.OldPostDays = getEnvInt("OLD_POST_DAYS", 186)
	cfg.ConflictMaxRetries = getEnvInt("CONFLICT_MAX_RETRIES", 3)
	cfg.MaintenanceCron = getEnvString("MAINTENANCE_CRON", "0 4 * * *")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPosting = getEnvInt("RATE_LIMIT_POSTING", 10)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.NotifyDedupWindow = getEnvDuration("NOTIFY_DEDUP_WINDOW", 10*time.Minute)
	cfg.NotifyMaxConcurrent = getEnvInt("NOTIFY_MAX_CONCURRENT", 8)
	cfg.MicroblogEndpoint = getEnvString("MICROBLOG_ENDPOINT", "")
	cfg.MicroblogToken = getEnvString("MICROBLOG_TOKEN", "")
	cfg.MicroblogForums = getEnvList("MICROBLOG_FORUMS")
	cfg.LogFile = getEnvString("LOG_FILE", "")
	cfg.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", 100)
	cfg.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", 3)
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 14)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %s", describe(err))
	}

	return cfg, nil
}

// newValidator はcronタグ（gronxで検証する5フィールドのcron式）を登録したvalidatorを返す。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return gronx.IsValid(fl.Field().String())
	})
	return v
}

// describe は検証エラーを「項目名(タグ)」の一覧に変換する。
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s(%s=%v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return strings.Join(parts, ", ")
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
