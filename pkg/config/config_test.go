package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	assert.Equal(t, 1000, cfg.EventBus.MaxQueueSize)
	assert.Equal(t, 4, cfg.EventBus.WorkerThreads)
	assert.Equal(t, 3, cfg.EventBus.RetryAttempts)

	assert.Equal(t, "embedeverything", cfg.Embedding.Provider)
	assert.Equal(t, "all-MiniLM-L6-v2", cfg.Embedding.Model)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, 1000, cfg.Embedding.IdleWaitMs)
	assert.Equal(t, 5000, cfg.Embedding.ErrorBackoffMs)

	assert.Equal(t, "none", cfg.VectorIndex.Driver)
	assert.Equal(t, "fabric_nodes", cfg.VectorIndex.IndexName)

	assert.False(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, 0.5, cfg.CircuitBreaker.ReadyToTripRatio)
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("event_bus.max_queue_size", 50)
	viper.Set("embedding.provider", "openai")
	viper.Set("circuit_breaker.enabled", true)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.EventBus.MaxQueueSize)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.EventBus.WorkerThreads)
}

func TestEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_MODEL", "text-embedding-3-large")
	t.Setenv("NEO4J_URI", "bolt://localhost:7687")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, "bolt://localhost:7687", cfg.VectorIndex.URI)
}

func TestConfiguredAPIKeyWinsOverEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("OPENAI_API_KEY", "sk-env")
	viper.Set("embedding.api_key", "sk-file")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.Embedding.APIKey)
}
