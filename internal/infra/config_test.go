package infra

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:1919/static", cfg.StorageBaseURL)
	assert.Equal(t, 10*time.Minute, cfg.StaleAfter)
	assert.Equal(t, 30*time.Minute, cfg.VideoStaleAfter)
	assert.Equal(t, 5*time.Minute, cfg.ReaperInterval)
	assert.Equal(t, time.Minute, cfg.RetrySweepInterval)
	assert.Equal(t, 3, cfg.MaxTaskRetries)
	assert.Equal(t, 10, cfg.MaxCardsPerJob)
	assert.Equal(t, "kling", cfg.VideoProvider)
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/static/")
	t.Setenv("STALE_AFTER", "90s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/static", cfg.StorageBaseURL)
	assert.Equal(t, 90*time.Second, cfg.StaleAfter)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
}

func TestValidateAPIRequiresJWTSecret(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.ValidateAPI())

	cfg.JWTSecret = "secret"
	require.NoError(t, cfg.ValidateAPI())
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := &Config{AppEnv: "production", ServiceName: "cardgen"}
	assert.Equal(t, zerolog.InfoLevel, NewLogger(cfg).GetLevel())

	cfg.AppEnv = "development"
	assert.Equal(t, zerolog.DebugLevel, NewLogger(cfg).GetLevel())

	cfg.LogLevel = "WARN"
	assert.Equal(t, zerolog.WarnLevel, NewLogger(cfg).GetLevel())

	cfg.LogLevel = "chatty"
	assert.Equal(t, zerolog.DebugLevel, NewLogger(cfg).GetLevel())
}
