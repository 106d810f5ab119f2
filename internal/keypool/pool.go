package keypool

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/monitoring"
)

// budgetWindow is the trailing window over which per-key usage is counted.
const budgetWindow = time.Minute

// Pool manages a set of equivalent upstream API keys with round-robin
// rotation and a per-key requests-per-minute budget. When every key is over
// budget it degrades to over-budget use instead of blocking: the caller's
// request matters more than strict compliance, and the upstream applies its
// own throttling anyway.
type Pool struct {
	name   string
	budget int

	mu     sync.Mutex
	keys   []string
	usage  map[string][]time.Time
	cursor int

	now func() time.Time
}

// New creates a pool named name holding the given keys, each budgeted to
// budgetPerMinute requests per trailing minute.
func New(name string, keys []string, budgetPerMinute int) *Pool {
	if budgetPerMinute <= 0 {
		budgetPerMinute = 60
	}
	p := &Pool{
		name:   name,
		budget: budgetPerMinute,
		keys:   make([]string, 0, len(keys)),
		usage:  make(map[string][]time.Time),
		cursor: -1,
		now:    time.Now,
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := p.usage[k]; dup {
			continue
		}
		p.keys = append(p.keys, k)
		p.usage[k] = nil
	}
	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Len returns the current number of keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Acquire returns the next key to use, recording the usage. Round-robin with
// rate-aware skip: the first key under budget past the cursor wins. With the
// whole pool saturated it returns the key whose oldest recorded use expires
// soonest and logs a saturation warning.
func (p *Pool) Acquire() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", fmt.Errorf("pool %s has no keys", p.name)
	}

	now := p.now()
	cutoff := now.Add(-budgetWindow)

	for range p.keys {
		p.cursor = (p.cursor + 1) % len(p.keys)
		key := p.keys[p.cursor]
		p.usage[key] = pruneBefore(p.usage[key], cutoff)
		if len(p.usage[key]) < p.budget {
			p.usage[key] = append(p.usage[key], now)
			monitoring.PoolAcquisitionsTotal.WithLabelValues(p.name).Inc()
			return key, nil
		}
	}

	// Saturated: every key is at budget. Pick the key whose oldest usage is
	// earliest; it frees capacity soonest.
	var fallback string
	var oldest time.Time
	for _, key := range p.keys {
		history := p.usage[key]
		if len(history) == 0 {
			// Pruning above emptied it; shouldn't happen while saturated.
			fallback = key
			break
		}
		if fallback == "" || history[0].Before(oldest) {
			fallback = key
			oldest = history[0]
		}
	}
	p.usage[fallback] = append(p.usage[fallback], now)
	monitoring.PoolAcquisitionsTotal.WithLabelValues(p.name).Inc()
	monitoring.PoolSaturationTotal.WithLabelValues(p.name).Inc()
	log.Warnf("all %s keys are at their rate limit, using key with oldest request", p.name)
	return fallback, nil
}

// Add inserts a key into the pool. Already-present keys are ignored.
func (p *Pool) Add(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.usage[key]; ok {
		return
	}
	p.keys = append(p.keys, key)
	p.usage[key] = nil
}

// Remove deletes a key and its usage history. Returns false when the key was
// not present.
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.usage[key]; !ok {
		return false
	}
	delete(p.usage, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			if i <= p.cursor {
				p.cursor--
			}
			break
		}
	}
	if len(p.keys) == 0 {
		p.cursor = -1
	} else if p.cursor >= len(p.keys) || p.cursor < -1 {
		p.cursor = p.cursor % len(p.keys)
	}
	return true
}

// Replace swaps the membership wholesale, e.g. after a configuration reload.
// Usage histories are reset; the rotation starts fresh.
func (p *Pool) Replace(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = p.keys[:0]
	p.usage = make(map[string][]time.Time, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := p.usage[k]; dup {
			continue
		}
		p.keys = append(p.keys, k)
		p.usage[k] = nil
	}
	p.cursor = -1
	log.Infof("pool %s membership replaced, %d keys", p.name, len(p.keys))
}

func pruneBefore(history []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(history) && history[i].Before(cutoff) {
		i++
	}
	return history[i:]
}
