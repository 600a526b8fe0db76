package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-sync-backend/config"
)

// clearEnv blanks every key Config reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "STORE_DRIVER", "MONGODB_URL", "MONGODB_DATABASE", "DATABASE_URL",
		"REDIS_URL", "CACHE_TTL", "AWS_REGION", "PROBE_ENABLED", "PROBE_INTERVAL", "PROBE_TIMEOUT",
		"LOG_LEVEL", "LOG_FORMAT", "ALLOWED_ORIGINS", "WS_SEND_BUFFER", "DEFAULT_CHANNEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, config.DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "videogallery", cfg.MongoDatabase)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.False(t, cfg.ProbeEnabled)
	assert.Equal(t, time.Minute, cfg.ProbeInterval)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, "default", cfg.DefaultChannel)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/gallery?sslmode=disable")
	t.Setenv("PROBE_ENABLED", "true")
	t.Setenv("PROBE_INTERVAL", "15s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("WS_SEND_BUFFER", "0")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, config.DriverPostgres, cfg.StoreDriver)
	assert.True(t, cfg.ProbeEnabled)
	assert.Equal(t, 15*time.Second, cfg.ProbeInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 1, cfg.SendBuffer)
}

func TestLoadValidation(t *testing.T) {
	t.Run("mongo needs a url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_DRIVER", "mongo")
		cfg, err := config.Load()
		assert.ErrorIs(t, err, config.ErrMissingMongoURL)
		assert.Nil(t, cfg)
	})

	t.Run("postgres needs a url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_DRIVER", "postgres")
		_, err := config.Load()
		assert.ErrorIs(t, err, config.ErrMissingDatabaseURL)
	})

	t.Run("unknown driver", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE_DRIVER", "sqlite")
		_, err := config.Load()
		assert.ErrorIs(t, err, config.ErrUnknownDriver)
	})

	t.Run("bad duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CACHE_TTL", "soon")
		_, err := config.Load()
		assert.Error(t, err)
	})
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9999"
store_driver: mongo
mongodb_url: mongodb://localhost:27017
cache_ttl: 5s
allowed_origins:
  - https://tv.example
`), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	// file wins over env
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, config.DriverMongo, cfg.StoreDriver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURL)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)
	assert.Equal(t, []string{"https://tv.example"}, cfg.AllowedOrigins)
	// env still fills what the file leaves out
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "default", cfg.DefaultChannel)

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("listen_addr: [unterminated"), 0o600))
		_, err := config.LoadFromFile(bad)
		assert.Error(t, err)
	})
}
