package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(256*1024*1024), cfg.Cache.MaxBytes)
	assert.Equal(t, 24*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Warmup.WarmTTL)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)
	assert.Equal(t, 24*time.Hour, cfg.Retry.Retention)
	assert.Equal(t, 0.2, cfg.Monitor.MinHitRate)
	assert.True(t, cfg.Provider.UseStub)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
cache:
  max_bytes: 1048576
  default_ttl: 1h
warmup:
  concurrency: 5
retry:
  base_delay: 2s
  max_delay: 1m
logging:
  level: debug
  format: text
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxBytes)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 5, cfg.Warmup.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.Retry.MaxConcurrent)
	assert.Equal(t, "lex-70b", cfg.Provider.Model)
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	t.Setenv("LEXCACHE_REDIS_ADDR", "redis.internal:6380")
	path := writeConfigFile(t, `
redis:
  enabled: true
  addr: ${LEXCACHE_REDIS_ADDR}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFile_Malformed(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero cache budget", func(c *Config) { c.Cache.MaxBytes = 0 }},
		{"entry ceiling above budget", func(c *Config) {
			c.Cache.MaxBytes = 1024
			c.Cache.MaxEntryBytes = 2048
		}},
		{"zero ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }},
		{"zero warmup concurrency", func(c *Config) { c.Warmup.Concurrency = 0 }},
		{"shrinking backoff", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }},
		{"max delay below base", func(c *Config) {
			c.Retry.BaseDelay = time.Minute
			c.Retry.MaxDelay = time.Second
		}},
		{"hit rate above one", func(c *Config) { c.Monitor.MinHitRate = 1.5 }},
		{"zero event queue", func(c *Config) { c.Invalidation.QueueSize = 0 }},
		{"live provider without endpoint", func(c *Config) {
			c.Provider.UseStub = false
			c.Provider.Endpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
