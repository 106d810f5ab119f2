package keypool

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/config"
)

// Registry holds the named pools the process knows about ("gemini",
// "openrouter", ...). Pools are created at startup from configuration and may
// be refreshed wholesale at runtime.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewRegistry builds a registry from the configured pools.
func NewRegistry(configs []config.PoolConfig) *Registry {
	r := &Registry{pools: make(map[string]*Pool)}
	for _, pc := range configs {
		if len(pc.Keys) == 0 {
			continue
		}
		r.pools[pc.Name] = New(pc.Name, pc.Keys, pc.RequestsPerMinute)
		log.Infof("initialized %s key pool with %d keys", pc.Name, len(pc.Keys))
	}
	return r
}

// Get returns the named pool, or nil when it does not exist.
func (r *Registry) Get(name string) *Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[name]
}

// Refresh replaces pool membership from a fresh configuration. Existing pools
// named in the config are replaced in place; new pools are created. Pools
// missing from the config are left untouched.
func (r *Registry) Refresh(configs []config.PoolConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pc := range configs {
		if len(pc.Keys) == 0 {
			continue
		}
		if pool, ok := r.pools[pc.Name]; ok {
			pool.Replace(pc.Keys)
		} else {
			r.pools[pc.Name] = New(pc.Name, pc.Keys, pc.RequestsPerMinute)
			log.Infof("initialized %s key pool with %d keys", pc.Name, len(pc.Keys))
		}
	}
}

// UsageStats aggregates masked usage statistics for every pool.
func (r *Registry) UsageStats() map[string]map[string]KeyUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]map[string]KeyUsage, len(r.pools))
	for name, pool := range r.pools {
		stats[name] = pool.UsageStats()
	}
	return stats
}
