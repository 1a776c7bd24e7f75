package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ALLOWED_ORIGIN", "ACCESS_TOKEN_TTL", "REPORT_CACHE_TTL", "AUTO_MIGRATE", "LOG_FORMAT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "http://localhost:3000", cfg.AllowedOrigin)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.ReportCacheTTL)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGIN", "https://shop.example.com/")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("AUTH_SECRET", "  0123456789abcdef0123456789abcdef  ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "https://shop.example.com", cfg.AllowedOrigin)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.AuthSecret)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "soon")

	_, err := Load()
	assert.Error(t, err)
}
