// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete subsystem configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Cache        CacheConfig        `yaml:"cache"`
	Redis        RedisConfig        `yaml:"redis"`
	Warmup       WarmupConfig       `yaml:"warmup"`
	Retry        RetryConfig        `yaml:"retry"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Provider     ProviderConfig     `yaml:"provider"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings for the management surface.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// CacheConfig contains completion cache store settings.
type CacheConfig struct {
	MaxBytes             int64         `yaml:"max_bytes"`             // Total size budget (stored form)
	MaxEntryBytes        int           `yaml:"max_entry_bytes"`       // Per-entry size ceiling
	DefaultTTL           time.Duration `yaml:"default_ttl"`           // TTL when no override is given
	CompressionThreshold int           `yaml:"compression_threshold"` // Compress payloads above this size
	SweepInterval        time.Duration `yaml:"sweep_interval"`        // Expired-entry sweep period
}

// RedisConfig contains optional durable backing settings.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Namespace    string        `yaml:"namespace"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// WarmupConfig contains warmup scheduler settings.
type WarmupConfig struct {
	DueCheckInterval time.Duration `yaml:"due_check_interval"` // Recurrence evaluation period
	DrainInterval    time.Duration `yaml:"drain_interval"`     // Queue drain period
	Concurrency      int           `yaml:"concurrency"`        // Max jobs in flight
	MaxAttempts      int           `yaml:"max_attempts"`       // Attempts before a job fails
	WarmTTL          time.Duration `yaml:"warm_ttl"`           // TTL for proactively cached entries
}

// RetryConfig contains retry queue settings.
type RetryConfig struct {
	DispatchInterval  time.Duration `yaml:"dispatch_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	CompletedGrace    time.Duration `yaml:"completed_grace"` // Keep completed jobs this long
	Retention         time.Duration `yaml:"retention"`       // Keep failed jobs this long
}

// InvalidationConfig contains invalidation engine settings.
type InvalidationConfig struct {
	QueueSize int `yaml:"queue_size"` // Event queue capacity
}

// ProviderConfig contains AI completion provider settings.
type ProviderConfig struct {
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	RPM         int           `yaml:"rpm"`   // Rate limit for background callers
	Burst       int           `yaml:"burst"` // Rate limiter burst size
	UseStub     bool          `yaml:"use_stub"`  // Serve deterministic completions without an upstream
	Endpoint    string        `yaml:"endpoint"`  // Completion URL, required unless use_stub
	APIKey      string        `yaml:"api_key"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// MonitorConfig contains health scoring thresholds.
type MonitorConfig struct {
	MinHitRate       float64       `yaml:"min_hit_rate"`       // Alert below this hit rate
	MaxFailedJobs    int           `yaml:"max_failed_jobs"`    // Alert above this failed-job count
	MaxPendingJobs   int           `yaml:"max_pending_jobs"`   // Alert above this retry backlog
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`  // Health evaluation period
	MinSampleSize    int           `yaml:"min_sample_size"`    // Lookups required before hit-rate alerts
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Cache: CacheConfig{
			MaxBytes:             256 * 1024 * 1024,
			MaxEntryBytes:        4 * 1024 * 1024,
			DefaultTTL:           24 * time.Hour,
			CompressionThreshold: 1024,
			SweepInterval:        time.Minute,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			Namespace:    "lexcache",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
		Warmup: WarmupConfig{
			DueCheckInterval: time.Minute,
			DrainInterval:    5 * time.Second,
			Concurrency:      3,
			MaxAttempts:      3,
			WarmTTL:          7 * 24 * time.Hour,
		},
		Retry: RetryConfig{
			DispatchInterval:  5 * time.Second,
			CleanupInterval:   10 * time.Minute,
			MaxConcurrent:     3,
			BaseDelay:         time.Second,
			BackoffMultiplier: 2.0,
			MaxDelay:          5 * time.Minute,
			CompletedGrace:    5 * time.Minute,
			Retention:         24 * time.Hour,
		},
		Invalidation: InvalidationConfig{
			QueueSize: 1024,
		},
		Provider: ProviderConfig{
			Model:     "lex-70b",
			Timeout:   60 * time.Second,
			RPM:       60,
			Burst:     5,
			UseStub:   true,
			MaxTokens: 2048,
		},
		Monitor: MonitorConfig{
			MinHitRate:       0.2,
			MaxFailedJobs:    10,
			MaxPendingJobs:   100,
			EvaluateInterval: time.Minute,
			MinSampleSize:    50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "lexcache",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be positive")
	}
	if c.Cache.MaxEntryBytes <= 0 {
		return fmt.Errorf("cache.max_entry_bytes must be positive")
	}
	if int64(c.Cache.MaxEntryBytes) > c.Cache.MaxBytes {
		return fmt.Errorf("cache.max_entry_bytes cannot exceed cache.max_bytes")
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive")
	}

	if c.Warmup.Concurrency <= 0 {
		return fmt.Errorf("warmup.concurrency must be positive")
	}
	if c.Warmup.MaxAttempts <= 0 {
		return fmt.Errorf("warmup.max_attempts must be positive")
	}

	if c.Retry.MaxConcurrent <= 0 {
		return fmt.Errorf("retry.max_concurrent must be positive")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1.0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay cannot be below retry.base_delay")
	}

	if c.Invalidation.QueueSize <= 0 {
		return fmt.Errorf("invalidation.queue_size must be positive")
	}

	if c.Monitor.MinHitRate < 0 || c.Monitor.MinHitRate > 1 {
		return fmt.Errorf("monitor.min_hit_rate must be within [0, 1]")
	}

	if c.Provider.Timeout < 0 {
		return fmt.Errorf("provider.timeout cannot be negative")
	}
	if !c.Provider.UseStub && c.Provider.Endpoint == "" {
		return fmt.Errorf("provider.endpoint is required when provider.use_stub is false")
	}

	return nil
}
