// Package config は環境変数（および .env）からサーバー設定を読み込みます。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config はサーバー全体の設定です。
type Config struct {
	Port      string
	AppEnv    string
	LogLevel  string
	LogFormat string

	JWTSecret      string
	BypassAuth     bool
	AllowedOrigins []string

	ClearDelay         time.Duration // ラインクリア演出の待ち時間
	InputRatePerSecond float64       // クライアントごとの入力レート上限
	InputBurst         int
	SessionIdleTimeout time.Duration // クライアント不在のセッションを破棄するまでの時間
	JanitorInterval    time.Duration // 0 なら掃除を行わない
}

// Load は .env（本番以外）と環境変数から設定を読み込み、検証して返します。
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env が無いのは問題ない
		_ = godotenv.Load()
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("BYPASS_AUTH", false)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("CLEAR_DELAY_MS", 300)
	v.SetDefault("INPUT_RATE_PER_SEC", 30)
	v.SetDefault("INPUT_BURST", 10)
	v.SetDefault("SESSION_IDLE_TIMEOUT", "10m")
	v.SetDefault("JANITOR_INTERVAL", "1m")
	return v
}

// FromViper は viper の値から Config を組み立てます。テストではここに直接値を設定します。
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:               v.GetString("PORT"),
		AppEnv:             v.GetString("APP_ENV"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:          strings.ToLower(v.GetString("LOG_FORMAT")),
		JWTSecret:          v.GetString("JWT_SECRET"),
		BypassAuth:         v.GetBool("BYPASS_AUTH"),
		AllowedOrigins:     splitOrigins(v.GetString("ALLOWED_ORIGINS")),
		ClearDelay:         time.Duration(v.GetInt("CLEAR_DELAY_MS")) * time.Millisecond,
		InputRatePerSecond: v.GetFloat64("INPUT_RATE_PER_SEC"),
		InputBurst:         v.GetInt("INPUT_BURST"),
		SessionIdleTimeout: v.GetDuration("SESSION_IDLE_TIMEOUT"),
		JanitorInterval:    v.GetDuration("JANITOR_INTERVAL"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate は起動前に設定の矛盾を検出します。
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if !c.BypassAuth && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required unless BYPASS_AUTH=true"))
	}
	if c.ClearDelay <= 0 {
		errs = append(errs, fmt.Errorf("CLEAR_DELAY_MS must be positive, got %s", c.ClearDelay))
	}
	if c.InputRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("INPUT_RATE_PER_SEC must be positive, got %v", c.InputRatePerSecond))
	}
	if c.InputBurst <= 0 {
		errs = append(errs, fmt.Errorf("INPUT_BURST must be positive, got %d", c.InputBurst))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", c.SessionIdleTimeout))
	}
	if c.JanitorInterval < 0 {
		errs = append(errs, fmt.Errorf("JANITOR_INTERVAL must not be negative, got %s", c.JanitorInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction は本番環境かどうかを返します。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
