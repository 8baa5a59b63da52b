package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// バックエンドの動作モード
const (
	ModeSupabase = "supabase"
	ModeSelfHost = "selfhost"
	ModeDemo     = "demo"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Supabase
	SupabaseURL     string
	SupabaseAnonKey string
	SupabaseTimeout time.Duration

	// Self-hosted
	DatabaseURL    string
	JWTSecret      string
	AccessTokenTTL time.Duration
	SessionMaxAge  int

	// Client registry
	ClientIdleTimeout time.Duration
	MaxClients        int
	CleanupInterval   time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Observability
	OTLPEndpoint string
	LogLevel     string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須の環境変数はない。Supabase設定がない場合はデモモードで起動する。
// セルフホストモードでJWT_SECRETが未設定の場合のみエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	cfg.SupabaseTimeout = getEnvDuration("SUPABASE_TIMEOUT", 10*time.Second)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", time.Hour)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)

	cfg.ClientIdleTimeout = getEnvDuration("CLIENT_IDLE_TIMEOUT", 30*time.Minute)
	cfg.MaxClients = getEnvInt("MAX_CLIENTS", 10000)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.BackendMode() == ModeSelfHost && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when DATABASE_URL is set without Supabase settings")
	}

	return cfg, nil
}

// BackendMode は設定から決まるバックエンドの動作モードを返す。
// SUPABASE_URL と SUPABASE_ANON_KEY の両方が揃っていればSupabase、
// DATABASE_URL のみであればセルフホスト、それ以外はデモモード。
func (c *Config) BackendMode() string {
	if c.SupabaseURL != "" && c.SupabaseAnonKey != "" {
		return ModeSupabase
	}
	if c.DatabaseURL != "" {
		return ModeSelfHost
	}
	return ModeDemo
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
