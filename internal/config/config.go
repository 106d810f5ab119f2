package config

import (
	"fmt"
	"time"
)

// Config holds all runtime configuration, grouped by domain.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Pools     []PoolConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Tasks     TaskConfig

	// provenance records, per settable key, which source supplied its value.
	provenance map[string]string
}

// ServerConfig controls the HTTP listener and logging behaviour.
type ServerConfig struct {
	Port    string `yaml:"port"`
	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`
}

// EngineConfig points at the upstream translation service jobs are sent to.
// When the URL is empty, submitted jobs fail with a configuration error.
type EngineConfig struct {
	UpstreamURL string `yaml:"upstream_url"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// Timeout returns the per-job upstream timeout as a duration.
func (e EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSec) * time.Second
}

// PoolConfig describes one named credential pool.
type PoolConfig struct {
	Name              string   `yaml:"name"`
	Keys              []string `yaml:"keys"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

// RateLimitConfig controls the per-caller sliding-window limiter and the
// lightweight global guard in front of it.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	DefaultLimit         int  `yaml:"default_limit"`
	DefaultWindowSec     int  `yaml:"default_window_sec"`
	MaxTrackedIdentities int  `yaml:"max_tracked_identities"`
	GlobalRPS            int  `yaml:"global_rps"`
	GlobalBurst          int  `yaml:"global_burst"`
}

// CacheConfig controls the layered result cache.
type CacheConfig struct {
	MaxMemoryItems     int    `yaml:"max_memory_items"`
	ResultTTLSec       int    `yaml:"result_ttl_sec"`
	CleanupIntervalSec int    `yaml:"cleanup_interval_sec"`
	DurableBackend     string `yaml:"durable_backend"` // "", "redis" or "file"
	RedisAddr          string `yaml:"redis_addr"`
	RedisPassword      string `yaml:"redis_password"`
	RedisDB            int    `yaml:"redis_db"`
	RedisPrefix        string `yaml:"redis_prefix"`
	FileDir            string `yaml:"file_dir"`
}

// TaskConfig controls background task retention.
type TaskConfig struct {
	MaxTasksInMemory int `yaml:"max_tasks_in_memory"`
	RetentionHours   int `yaml:"retention_hours"`
}

// Window returns the default rate-limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.DefaultWindowSec) * time.Second
}

// ResultTTL returns the cache write-through TTL as a duration.
func (c CacheConfig) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSec) * time.Second
}

// Retention returns the task retention horizon as a duration.
func (t TaskConfig) Retention() time.Duration {
	return time.Duration(t.RetentionHours) * time.Hour
}

// Source supplies configuration values. Sources are applied in ascending
// precedence order; each reports the keys it actually set so that the final
// precedence chain stays auditable.
type Source interface {
	Name() string
	Apply(cfg *Config) ([]string, error)
}

// Load builds a Config by consulting the given sources in order. Later
// sources win; DefaultSource should come first so every key has a value.
func Load(sources ...Source) (*Config, error) {
	cfg := &Config{provenance: make(map[string]string)}
	for _, src := range sources {
		keys, err := src.Apply(cfg)
		if err != nil {
			return nil, fmt.Errorf("config source %s: %w", src.Name(), err)
		}
		for _, k := range keys {
			cfg.provenance[k] = src.Name()
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithFile loads defaults, then environment, then the optional YAML file.
func LoadWithFile(path string) (*Config, error) {
	sources := []Source{DefaultSource{}, EnvSource{}}
	if path != "" {
		sources = append(sources, FileSource{Path: path})
	}
	return Load(sources...)
}

// Provenance reports which source supplied the value for key, or "" when the
// key was never set.
func (c *Config) Provenance(key string) string {
	if c.provenance == nil {
		return ""
	}
	return c.provenance[key]
}

func (c *Config) validate() error {
	if c.Engine.TimeoutSec <= 0 {
		return fmt.Errorf("engine timeout_sec must be > 0, got %d", c.Engine.TimeoutSec)
	}
	if c.RateLimit.DefaultLimit < 0 {
		return fmt.Errorf("rate limit default_limit must be >= 0, got %d", c.RateLimit.DefaultLimit)
	}
	if c.RateLimit.DefaultWindowSec <= 0 {
		return fmt.Errorf("rate limit default_window_sec must be > 0, got %d", c.RateLimit.DefaultWindowSec)
	}
	if c.Cache.MaxMemoryItems <= 0 {
		return fmt.Errorf("cache max_memory_items must be > 0, got %d", c.Cache.MaxMemoryItems)
	}
	if c.Tasks.MaxTasksInMemory <= 0 {
		return fmt.Errorf("tasks max_tasks_in_memory must be > 0, got %d", c.Tasks.MaxTasksInMemory)
	}
	switch c.Cache.DurableBackend {
	case "", "redis", "file":
	default:
		return fmt.Errorf("unknown cache durable_backend %q", c.Cache.DurableBackend)
	}
	for _, p := range c.Pools {
		if p.Name == "" {
			return fmt.Errorf("credential pool without a name")
		}
		if p.RequestsPerMinute <= 0 {
			return fmt.Errorf("pool %s: requests_per_minute must be > 0", p.Name)
		}
	}
	return nil
}
