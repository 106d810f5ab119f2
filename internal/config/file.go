package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML shape. Pointer fields distinguish "absent" from
// zero values so the file only overrides what it actually sets.
type fileConfig struct {
	Server struct {
		Port    *string `yaml:"port"`
		Debug   *bool   `yaml:"debug"`
		LogFile *string `yaml:"log_file"`
	} `yaml:"server"`
	Engine struct {
		UpstreamURL *string `yaml:"upstream_url"`
		TimeoutSec  *int    `yaml:"timeout_sec"`
	} `yaml:"engine"`
	Pools     []PoolConfig `yaml:"pools"`
	RateLimit struct {
		Enabled              *bool `yaml:"enabled"`
		DefaultLimit         *int  `yaml:"default_limit"`
		DefaultWindowSec     *int  `yaml:"default_window_sec"`
		MaxTrackedIdentities *int  `yaml:"max_tracked_identities"`
		GlobalRPS            *int  `yaml:"global_rps"`
		GlobalBurst          *int  `yaml:"global_burst"`
	} `yaml:"rate_limit"`
	Cache struct {
		MaxMemoryItems     *int    `yaml:"max_memory_items"`
		ResultTTLSec       *int    `yaml:"result_ttl_sec"`
		CleanupIntervalSec *int    `yaml:"cleanup_interval_sec"`
		DurableBackend     *string `yaml:"durable_backend"`
		RedisAddr          *string `yaml:"redis_addr"`
		RedisPassword      *string `yaml:"redis_password"`
		RedisDB            *int    `yaml:"redis_db"`
		RedisPrefix        *string `yaml:"redis_prefix"`
		FileDir            *string `yaml:"file_dir"`
	} `yaml:"cache"`
	Tasks struct {
		MaxTasksInMemory *int `yaml:"max_tasks_in_memory"`
		RetentionHours   *int `yaml:"retention_hours"`
	} `yaml:"tasks"`
}

// FileSource loads configuration from a YAML file. A missing file is not an
// error; the source simply sets nothing.
type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return "file:" + f.Path }

func (f FileSource) Apply(cfg *Config) ([]string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}

	var set []string
	applyStr := func(key string, src *string, dst *string) {
		if src != nil {
			*dst = *src
			set = append(set, key)
		}
	}
	applyInt := func(key string, src *int, dst *int) {
		if src != nil {
			*dst = *src
			set = append(set, key)
		}
	}
	applyBool := func(key string, src *bool, dst *bool) {
		if src != nil {
			*dst = *src
			set = append(set, key)
		}
	}

	applyStr("server.port", fc.Server.Port, &cfg.Server.Port)
	applyBool("server.debug", fc.Server.Debug, &cfg.Server.Debug)
	applyStr("server.log_file", fc.Server.LogFile, &cfg.Server.LogFile)

	applyStr("engine.upstream_url", fc.Engine.UpstreamURL, &cfg.Engine.UpstreamURL)
	applyInt("engine.timeout_sec", fc.Engine.TimeoutSec, &cfg.Engine.TimeoutSec)

	applyBool("rate_limit.enabled", fc.RateLimit.Enabled, &cfg.RateLimit.Enabled)
	applyInt("rate_limit.default_limit", fc.RateLimit.DefaultLimit, &cfg.RateLimit.DefaultLimit)
	applyInt("rate_limit.default_window_sec", fc.RateLimit.DefaultWindowSec, &cfg.RateLimit.DefaultWindowSec)
	applyInt("rate_limit.max_tracked_identities", fc.RateLimit.MaxTrackedIdentities, &cfg.RateLimit.MaxTrackedIdentities)
	applyInt("rate_limit.global_rps", fc.RateLimit.GlobalRPS, &cfg.RateLimit.GlobalRPS)
	applyInt("rate_limit.global_burst", fc.RateLimit.GlobalBurst, &cfg.RateLimit.GlobalBurst)

	applyInt("cache.max_memory_items", fc.Cache.MaxMemoryItems, &cfg.Cache.MaxMemoryItems)
	applyInt("cache.result_ttl_sec", fc.Cache.ResultTTLSec, &cfg.Cache.ResultTTLSec)
	applyInt("cache.cleanup_interval_sec", fc.Cache.CleanupIntervalSec, &cfg.Cache.CleanupIntervalSec)
	applyStr("cache.durable_backend", fc.Cache.DurableBackend, &cfg.Cache.DurableBackend)
	applyStr("cache.redis_addr", fc.Cache.RedisAddr, &cfg.Cache.RedisAddr)
	applyStr("cache.redis_password", fc.Cache.RedisPassword, &cfg.Cache.RedisPassword)
	applyInt("cache.redis_db", fc.Cache.RedisDB, &cfg.Cache.RedisDB)
	applyStr("cache.redis_prefix", fc.Cache.RedisPrefix, &cfg.Cache.RedisPrefix)
	applyStr("cache.file_dir", fc.Cache.FileDir, &cfg.Cache.FileDir)

	applyInt("tasks.max_tasks_in_memory", fc.Tasks.MaxTasksInMemory, &cfg.Tasks.MaxTasksInMemory)
	applyInt("tasks.retention_hours", fc.Tasks.RetentionHours, &cfg.Tasks.RetentionHours)

	for _, p := range fc.Pools {
		upsertPool(cfg, p)
		set = append(set, "pools."+p.Name)
	}

	return set, nil
}
