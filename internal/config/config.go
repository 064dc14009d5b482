package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/authgate/internal/auth"
)

// データ層の実装
const (
	DataBackendREST     = "rest"
	DataBackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL       string        `env:"BACKEND_URL,required,notEmpty"`
	BackendPublicKey string        `env:"BACKEND_PUBLIC_KEY,required,notEmpty"`
	BackendTimeout   time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`

	// Data
	DataBackend string `env:"DATA_BACKEND" envDefault:"rest"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// Cookie
	CookieDomain               string        `env:"COOKIE_DOMAIN"`
	CookiePath                 string        `env:"COOKIE_PATH" envDefault:"/"`
	CookieAccessTokenHTTPOnly  bool          `env:"COOKIE_ACCESS_TOKEN_HTTP_ONLY" envDefault:"false"`
	CookieRefreshTokenHTTPOnly bool          `env:"COOKIE_REFRESH_TOKEN_HTTP_ONLY" envDefault:"false"`
	RefreshTokenMaxAge         time.Duration `env:"REFRESH_TOKEN_MAX_AGE" envDefault:"720h"`

	// AuthErrorPath は認可コード交換失敗時のリダイレクト先。
	AuthErrorPath string `env:"AUTH_ERROR_PATH" envDefault:"/auth"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:4321"`

	// Rate Limit（1分あたり）
	RateLimitAuth    int    `env:"RATE_LIMIT_AUTH" envDefault:"10"`
	RateLimitGeneral int    `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RedisURL         string `env:"REDIS_URL"`

	// Logging
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は.envファイル（存在すれば）と環境変数からConfigを読み込む。
// 必須環境変数の欠落や不正な値はまとめて1つのエラーとして返す。
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MigrateConfig はmigrateサブコマンドに必要な設定のみを保持する。
type MigrateConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
}

// LoadMigrate はマイグレーション用の設定を読み込む。
// バックエンド関連の環境変数は要求しない。
func LoadMigrate() (*MigrateConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := env.ParseAs[MigrateConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv は.envファイルを読み込む。ファイルが無い場合は何もしない。
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return fmt.Errorf("load .env file: %w", err)
		}
	}
	return nil
}

func (c *Config) sanitize() {
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	c.DataBackend = strings.ToLower(strings.TrimSpace(c.DataBackend))
	c.CookieDomain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.CookieDomain)), ".")
}

// Validate は値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be an absolute URL: %q", c.BackendURL))
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, errors.New("BACKEND_TIMEOUT must be positive"))
	}

	switch c.DataBackend {
	case DataBackendREST:
	case DataBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when DATA_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATA_BACKEND must be %q or %q: %q", DataBackendREST, DataBackendPostgres, c.DataBackend))
	}

	if err := validateCookieDomain(c.CookieDomain); err != nil {
		errs = append(errs, err)
	}
	if !strings.HasPrefix(c.CookiePath, "/") {
		errs = append(errs, fmt.Errorf("COOKIE_PATH must start with '/': %q", c.CookiePath))
	}
	if !strings.HasPrefix(c.AuthErrorPath, "/") || strings.HasPrefix(c.AuthErrorPath, "//") {
		errs = append(errs, fmt.Errorf("AUTH_ERROR_PATH must be a site-relative path: %q", c.AuthErrorPath))
	}
	if c.RefreshTokenMaxAge < 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_MAX_AGE must not be negative"))
	}
	if c.RateLimitAuth <= 0 || c.RateLimitGeneral <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_AUTH and RATE_LIMIT_GENERAL must be positive"))
	}

	return errors.Join(errs...)
}

// validateCookieDomain は公開サフィックスそのもの（co.ukなど）をCookieドメインとして拒否する。
func validateCookieDomain(domain string) error {
	if domain == "" || domain == "localhost" {
		return nil
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(domain); err != nil {
		return fmt.Errorf("COOKIE_DOMAIN %q is a public suffix or invalid: %w", domain, err)
	}
	return nil
}

// CookieConfig はセッションCookieの設定を返す。
func (c *Config) CookieConfig() auth.CookieConfig {
	return auth.CookieConfig{
		Domain:               c.CookieDomain,
		Path:                 c.CookiePath,
		AccessTokenHTTPOnly:  c.CookieAccessTokenHTTPOnly,
		RefreshTokenHTTPOnly: c.CookieRefreshTokenHTTPOnly,
		RefreshTokenMaxAge:   c.RefreshTokenMaxAge,
	}
}
