package cache

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/monitoring"
)

// Layered is the two-tier result cache: a bounded in-memory fast tier backed
// by an optional durable store. The fast tier is authoritative for
// availability; durable-tier failures degrade reads and writes to
// memory-only and are never surfaced to the caller.
type Layered struct {
	memory  *memoryTier
	durable DurableStore

	now func() time.Time
}

// Options configure the layered cache.
type Options struct {
	MaxMemoryItems  int
	CleanupInterval time.Duration
	Durable         DurableStore // nil means memory-only
}

// NewLayered creates the cache.
func NewLayered(opts Options) *Layered {
	return &Layered{
		memory:  newMemoryTier(opts.MaxMemoryItems, opts.CleanupInterval),
		durable: opts.Durable,
		now:     time.Now,
	}
}

// Set stores value under key in both tiers with the given TTL. Non-positive
// TTLs store an already-expired entry, which reads treat as absent.
func (c *Layered) Set(ctx context.Context, key string, value Value, ttl time.Duration) {
	now := c.now()
	e := entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.memory.set(key, e, now)

	if c.durable == nil {
		return
	}
	data, err := encodeEnvelope(e.value, e.createdAt, e.expiresAt)
	if err != nil {
		monitoring.CacheDurableErrorsTotal.Inc()
		log.WithError(err).Warnf("failed to encode cache entry %s for durable tier", key)
		return
	}
	if err := c.durable.Set(ctx, key, data, ttl); err != nil {
		monitoring.CacheDurableErrorsTotal.Inc()
		log.WithError(err).Warnf("failed to store cache entry %s in %s tier", key, c.durable.Name())
	}
}

// Get returns the cached value for key, or ok=false when absent or expired.
// Durable-tier hits are promoted into the fast tier.
func (c *Layered) Get(ctx context.Context, key string) (Value, bool) {
	now := c.now()
	if e, ok := c.memory.get(key, now); ok {
		monitoring.CacheHitsTotal.WithLabelValues("memory").Inc()
		return e.value, true
	}

	if c.durable != nil {
		if v, ok := c.getDurable(ctx, key, now); ok {
			monitoring.CacheHitsTotal.WithLabelValues(c.durable.Name()).Inc()
			return v, true
		}
	}

	monitoring.CacheMissesTotal.Inc()
	return Value{}, false
}

func (c *Layered) getDurable(ctx context.Context, key string, now time.Time) (Value, bool) {
	data, err := c.durable.Get(ctx, key)
	if err != nil {
		if _, notFound := err.(*ErrNotFound); !notFound {
			monitoring.CacheDurableErrorsTotal.Inc()
			log.WithError(err).Warnf("failed to read cache entry %s from %s tier", key, c.durable.Name())
		}
		return Value{}, false
	}

	value, createdAt, expiresAt, err := decodeEnvelope(data)
	if err != nil {
		// Corrupted entry: purge it rather than serving garbage forever.
		log.WithError(err).Warnf("purging undecodable cache entry %s", key)
		_ = c.durable.Delete(ctx, key)
		return Value{}, false
	}
	if now.After(expiresAt) {
		if err := c.durable.Delete(ctx, key); err != nil {
			log.WithError(err).Debugf("failed to delete expired cache entry %s", key)
		}
		return Value{}, false
	}

	c.memory.set(key, entry{value: value, createdAt: createdAt, expiresAt: expiresAt}, now)
	return value, true
}

// Delete removes key from both tiers. Returns true when either tier held it.
func (c *Layered) Delete(ctx context.Context, key string) bool {
	deleted := c.memory.delete(key)
	if c.durable != nil {
		if err := c.durable.Delete(ctx, key); err != nil {
			monitoring.CacheDurableErrorsTotal.Inc()
			log.WithError(err).Warnf("failed to delete cache entry %s from %s tier", key, c.durable.Name())
		} else {
			deleted = true
		}
	}
	return deleted
}

// Clear drops the fast tier. Durable entries age out via their own expiry.
func (c *Layered) Clear() {
	c.memory.clear()
}

// Stats summarizes cache population for the monitoring surface.
type Stats struct {
	MemoryItems        int    `json:"memory_cache_size"`
	MemoryExpiredItems int    `json:"memory_expired_items"`
	MaxMemoryItems     int    `json:"max_memory_items"`
	DurableBackend     string `json:"durable_backend,omitempty"`
	DurableAvailable   bool   `json:"durable_available"`
}

// Stats reports the current cache population.
func (c *Layered) Stats(ctx context.Context) Stats {
	count, expired := c.memory.stats(c.now())
	s := Stats{
		MemoryItems:        count,
		MemoryExpiredItems: expired,
		MaxMemoryItems:     c.memory.maxItems,
	}
	if c.durable != nil {
		s.DurableBackend = c.durable.Name()
		s.DurableAvailable = c.durable.Health(ctx) == nil
	}
	return s
}

// HealthCheck round-trips a probe entry through the cache.
func (c *Layered) HealthCheck(ctx context.Context) map[string]any {
	probeKey := "_health_check_" + c.now().Format(time.RFC3339Nano)
	c.Set(ctx, probeKey, String("test"), 10*time.Second)
	got, ok := c.Get(ctx, probeKey)
	c.Delete(ctx, probeKey)

	memoryOK := ok && got.Equal(String("test"))
	status := "healthy"
	if !memoryOK {
		status = "unhealthy"
	}

	result := map[string]any{
		"status":       status,
		"memory_cache": tierState(memoryOK),
	}
	if c.durable != nil {
		result["durable_backend"] = c.durable.Name()
		result["durable_tier"] = tierState(c.durable.Health(ctx) == nil)
	}
	return result
}

func tierState(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
