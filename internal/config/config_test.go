package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	require.Equal(t, "mirador", cfg.MongoDB.Database)
	require.Equal(t, 10*time.Second, cfg.MongoDB.Timeout)
	require.Equal(t, 4, cfg.Sync.Workers)
	require.Equal(t, "mirador:sync", cfg.Redis.QueueKey)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.Index.Path)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("MONGODB_DATABASE", "content")
	t.Setenv("SYNC_WORKERS", "8")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "content", cfg.MongoDB.Database)
	require.Equal(t, 8, cfg.Sync.Workers)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRequiresMongoURI(t *testing.T) {
	t.Setenv("MONGODB_URI", "")

	_, err := LoadConfig()
	require.Error(t, err)
}
