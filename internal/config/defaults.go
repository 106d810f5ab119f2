package config

// DefaultSource seeds every settable key with its built-in default. It is
// always the lowest-precedence source.
type DefaultSource struct{}

func (DefaultSource) Name() string { return "defaults" }

func (DefaultSource) Apply(cfg *Config) ([]string, error) {
	cfg.Server = ServerConfig{
		Port: "8080",
	}
	cfg.Engine = EngineConfig{
		TimeoutSec: 300,
	}
	cfg.RateLimit = RateLimitConfig{
		Enabled:              true,
		DefaultLimit:         10,
		DefaultWindowSec:     3600,
		MaxTrackedIdentities: 10000,
		GlobalRPS:            50,
		GlobalBurst:          100,
	}
	cfg.Cache = CacheConfig{
		MaxMemoryItems:     1000,
		ResultTTLSec:       7200,
		CleanupIntervalSec: 300,
		RedisPrefix:        "pdftrans:",
		FileDir:            "./data/cache",
	}
	cfg.Tasks = TaskConfig{
		MaxTasksInMemory: 1000,
		RetentionHours:   24,
	}
	return []string{
		"server.port", "server.debug", "server.log_file",
		"engine.upstream_url", "engine.timeout_sec",
		"rate_limit.enabled", "rate_limit.default_limit", "rate_limit.default_window_sec",
		"rate_limit.max_tracked_identities", "rate_limit.global_rps", "rate_limit.global_burst",
		"cache.max_memory_items", "cache.result_ttl_sec", "cache.cleanup_interval_sec",
		"cache.durable_backend", "cache.redis_addr", "cache.redis_password",
		"cache.redis_db", "cache.redis_prefix", "cache.file_dir",
		"tasks.max_tasks_in_memory", "tasks.retention_hours",
	}, nil
}
