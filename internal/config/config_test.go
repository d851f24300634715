package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production") // .env を読まない
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.False(t, cfg.BypassAuth)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 300*time.Millisecond, cfg.ClearDelay)
	assert.Equal(t, float64(30), cfg.InputRatePerSecond)
	assert.Equal(t, 10, cfg.InputBurst)
	assert.Equal(t, 10*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, time.Minute, cfg.JanitorInterval)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("BYPASS_AUTH", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("CLEAR_DELAY_MS", "120")
	t.Setenv("SESSION_IDLE_TIMEOUT", "30s")
	t.Setenv("JANITOR_INTERVAL", "0s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.BypassAuth)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 120*time.Millisecond, cfg.ClearDelay)
	assert.Equal(t, 30*time.Second, cfg.SessionIdleTimeout)
	assert.Equal(t, time.Duration(0), cfg.JanitorInterval)
}

func TestFromViper_FailsFast(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
		want string
	}{
		{"missing secret", map[string]any{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"zero clear delay", map[string]any{"CLEAR_DELAY_MS": 0}, "CLEAR_DELAY_MS"},
		{"negative rate", map[string]any{"INPUT_RATE_PER_SEC": -1}, "INPUT_RATE_PER_SEC"},
		{"zero burst", map[string]any{"INPUT_BURST": 0}, "INPUT_BURST"},
		{"zero idle timeout", map[string]any{"SESSION_IDLE_TIMEOUT": "0s"}, "SESSION_IDLE_TIMEOUT"},
		{"negative janitor", map[string]any{"JANITOR_INTERVAL": "-1m"}, "JANITOR_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set("JWT_SECRET", "secret")
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := FromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromViper_BypassWithoutSecret(t *testing.T) {
	v := newViper()
	v.Set("BYPASS_AUTH", true)
	v.Set("JWT_SECRET", "")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.True(t, cfg.BypassAuth)
}
