package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpanel/workflow-engine/pkg/config"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("TRIGGER_ENABLED", "")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "", cfg.RedisAddr)
	assert.True(t, cfg.TriggerEnabled)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("TRIGGER_ENABLED", "false")
	t.Setenv("TASK_POLL_INTERVAL", "2s")
	t.Setenv("REDIS_DB", "3")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.False(t, cfg.TriggerEnabled)
	assert.Equal(t, 2e9, float64(cfg.PollInterval))
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoad_InvalidRedisDBReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := config.Load()
	require.Error(t, err)
}
