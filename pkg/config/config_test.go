package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"API_HOST", "API_PORT", "API_PREFIX", "STORAGE_BACKEND", "DATABASE_URL",
	"REDIS_ADDR", "KAFKA_BROKERS", "LOG_LEVEL", "WINDOW_FALLBACK", "CORS_ORIGINS",
}

// clearEnv unsets every variable the loader reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", c.API.Host)
	assert.Equal(t, 9000, c.API.Port)
	assert.Equal(t, "", c.API.Prefix)
	assert.True(t, c.API.CORS)
	assert.Equal(t, 24*time.Hour, c.Window.Fallback)
	assert.Equal(t, "timescale", c.Storage.Backend)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, time.Minute, c.Cache.TTL)
	assert.Equal(t, []string{"ohlcv:live:*"}, c.Live.Redis.Channels)
	assert.Equal(t, 10, c.Live.MaxRPS)
	assert.Empty(t, c.Warnings)
}

func TestYAMLOverridesDefaults(t *testing.T) {
	p := writeFile(t, "config.yaml", `
api:
  port: 9100
  prefix: market/
storage:
  backend: sqlite
  sqlite:
    path: /tmp/test.db
window:
  fallback: 12h
live:
  kafka:
    enabled: true
    topic: candles
kafka:
  brokers: [a:9092, b:9092]
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9100, c.API.Port)
	assert.Equal(t, "/market", c.API.Prefix)
	assert.Equal(t, "sqlite", c.Storage.Backend)
	assert.Equal(t, "/tmp/test.db", c.Storage.SQLite.Path)
	assert.Equal(t, 12*time.Hour, c.Window.Fallback)
	assert.Equal(t, "candles", c.Live.Kafka.Topic)
	assert.Equal(t, "ohlcv-api", c.Live.Kafka.GroupID, "untouched nested defaults survive")
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9500")
	t.Setenv("API_PREFIX", "/v1")
	t.Setenv("STORAGE_BACKEND", "SQLITE")
	t.Setenv("DATABASE_URL", "file:market.db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("WINDOW_FALLBACK", "6h")
	t.Setenv("CORS_ORIGINS", "https://a.io, https://b.io")

	c, err := LoadWithEnv("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9500", c.Addr())
	assert.Equal(t, "/v1", c.API.Prefix)
	assert.Equal(t, "sqlite", c.Storage.Backend)
	assert.Equal(t, "file:market.db", c.Storage.SQLite.Path)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 6*time.Hour, c.Window.Fallback)
	assert.Equal(t, []string{"https://a.io", "https://b.io"}, c.API.CORSOrigins)
	assert.Empty(t, c.Warnings)
}

func TestPortFloor(t *testing.T) {
	for _, v := range []string{"8080", "abc"} {
		clearEnv(t)
		t.Setenv("API_PORT", v)
		c, err := LoadWithEnv("", filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)
		assert.Equal(t, MinAPIPort, c.API.Port, v)
		assert.Len(t, c.Warnings, 1, v)
	}
}

func TestInvalidWindowFallbackKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("WINDOW_FALLBACK", "soon")
	c, err := LoadWithEnv("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, c.Window.Fallback)
	assert.Len(t, c.Warnings, 1)
}

func TestDotenvFile(t *testing.T) {
	clearEnv(t)
	env := writeFile(t, ".env", "API_PREFIX=/from-dotenv\nREDIS_ADDR=localhost:6379\n")

	c, err := LoadWithEnv("", env)
	require.NoError(t, err)
	assert.Equal(t, "/from-dotenv", c.API.Prefix)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
}

func TestEnvSatisfiesFileRequirements(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "config.yaml", "cache:\n  backend: redis\n")

	_, err := Load(p)
	require.Error(t, err, "redis cache needs an address")

	t.Setenv("REDIS_ADDR", "localhost:6379")
	c, err := LoadWithEnv(p, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Cache.Backend)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"backend":   "storage:\n  backend: mongo\n",
		"log level": "log:\n  level: loud\n",
		"kafka":     "live:\n  kafka:\n    enabled: true\n",
		"port":      "api:\n  port: 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	c, err := Load("../../config/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "timescale", c.Storage.Backend)
	assert.Equal(t, []string{"ohlcv:live:*"}, c.Live.Redis.Channels)
	assert.Empty(t, c.Warnings)
}
