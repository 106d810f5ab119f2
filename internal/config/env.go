package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvSource loads configuration from environment variables. Only variables
// that are actually present override lower-precedence sources.
type EnvSource struct{}

func (EnvSource) Name() string { return "env" }

func (EnvSource) Apply(cfg *Config) ([]string, error) {
	var set []string
	setStr := func(key, env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = strings.TrimSpace(v)
			set = append(set, key)
		}
	}
	setInt := func(key, env string, dst *int) {
		if v, ok := os.LookupEnv(env); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
				set = append(set, key)
			}
		}
	}
	setBool := func(key, env string, dst *bool) {
		if v, ok := os.LookupEnv(env); ok {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes", "on":
				*dst = true
				set = append(set, key)
			case "0", "false", "no", "off":
				*dst = false
				set = append(set, key)
			}
		}
	}

	setStr("server.port", "PORT", &cfg.Server.Port)
	setBool("server.debug", "DEBUG", &cfg.Server.Debug)
	setStr("server.log_file", "LOG_FILE", &cfg.Server.LogFile)

	setStr("engine.upstream_url", "TRANSLATE_UPSTREAM_URL", &cfg.Engine.UpstreamURL)
	setInt("engine.timeout_sec", "TRANSLATE_TIMEOUT_SEC", &cfg.Engine.TimeoutSec)

	setBool("rate_limit.enabled", "RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("rate_limit.default_limit", "RATE_LIMIT_DEFAULT", &cfg.RateLimit.DefaultLimit)
	setInt("rate_limit.default_window_sec", "RATE_LIMIT_WINDOW_SEC", &cfg.RateLimit.DefaultWindowSec)
	setInt("rate_limit.max_tracked_identities", "RATE_LIMIT_MAX_IDENTITIES", &cfg.RateLimit.MaxTrackedIdentities)
	setInt("rate_limit.global_rps", "RATE_LIMIT_GLOBAL_RPS", &cfg.RateLimit.GlobalRPS)
	setInt("rate_limit.global_burst", "RATE_LIMIT_GLOBAL_BURST", &cfg.RateLimit.GlobalBurst)

	setInt("cache.max_memory_items", "CACHE_MAX_MEMORY_ITEMS", &cfg.Cache.MaxMemoryItems)
	setInt("cache.result_ttl_sec", "CACHE_RESULT_TTL_SEC", &cfg.Cache.ResultTTLSec)
	setInt("cache.cleanup_interval_sec", "CACHE_CLEANUP_INTERVAL_SEC", &cfg.Cache.CleanupIntervalSec)
	setStr("cache.durable_backend", "CACHE_DURABLE_BACKEND", &cfg.Cache.DurableBackend)
	setStr("cache.redis_addr", "REDIS_ADDR", &cfg.Cache.RedisAddr)
	setStr("cache.redis_password", "REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	setInt("cache.redis_db", "REDIS_DB", &cfg.Cache.RedisDB)
	setStr("cache.redis_prefix", "REDIS_PREFIX", &cfg.Cache.RedisPrefix)
	setStr("cache.file_dir", "CACHE_FILE_DIR", &cfg.Cache.FileDir)

	setInt("tasks.max_tasks_in_memory", "TASKS_MAX_IN_MEMORY", &cfg.Tasks.MaxTasksInMemory)
	setInt("tasks.retention_hours", "TASKS_RETENTION_HOURS", &cfg.Tasks.RetentionHours)

	if keys := splitKeyList(os.Getenv("GEMINI_API_KEY_POOL"), os.Getenv("GEMINI_API_KEYS")); len(keys) > 0 {
		upsertPool(cfg, PoolConfig{Name: "gemini", Keys: keys, RequestsPerMinute: 60})
		set = append(set, "pools.gemini")
	}
	if key := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); key != "" {
		upsertPool(cfg, PoolConfig{Name: "openrouter", Keys: []string{key}, RequestsPerMinute: 20})
		set = append(set, "pools.openrouter")
	}

	return set, nil
}

// splitKeyList parses the first non-empty comma-separated value.
func splitKeyList(values ...string) []string {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		var keys []string
		for _, part := range strings.Split(v, ",") {
			if k := strings.TrimSpace(part); k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			return keys
		}
	}
	return nil
}

func upsertPool(cfg *Config, pool PoolConfig) {
	for i, p := range cfg.Pools {
		if p.Name == pool.Name {
			cfg.Pools[i] = pool
			return
		}
	}
	cfg.Pools = append(cfg.Pools, pool)
}
