package cache

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/monitoring"
)

type entry struct {
	value     Value
	createdAt time.Time
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// memoryTier is the bounded fast tier. Expiry is self-describing per entry;
// cleanup removes expired entries first, then the least-recently-created
// entries beyond capacity.
type memoryTier struct {
	mu          sync.Mutex
	items       map[string]entry
	maxItems    int
	interval    time.Duration
	lastCleanup time.Time
}

func newMemoryTier(maxItems int, interval time.Duration) *memoryTier {
	if maxItems <= 0 {
		maxItems = 1000
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &memoryTier{
		items:    make(map[string]entry),
		maxItems: maxItems,
		interval: interval,
	}
}

func (m *memoryTier) get(key string, now time.Time) (entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(now) {
		delete(m.items, key)
		monitoring.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		return entry{}, false
	}
	return e, true
}

func (m *memoryTier) set(key string, e entry, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = e
	m.cleanupLocked(now)
}

func (m *memoryTier) delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		return false
	}
	delete(m.items, key)
	return true
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]entry)
}

func (m *memoryTier) cleanupLocked(now time.Time) {
	if now.Sub(m.lastCleanup) < m.interval {
		return
	}
	m.lastCleanup = now

	expired := 0
	for key, e := range m.items {
		if e.expired(now) {
			delete(m.items, key)
			expired++
		}
	}
	if expired > 0 {
		monitoring.CacheEvictionsTotal.WithLabelValues("expired").Add(float64(expired))
	}

	if over := len(m.items) - m.maxItems; over > 0 {
		type aged struct {
			key       string
			createdAt time.Time
		}
		byAge := make([]aged, 0, len(m.items))
		for key, e := range m.items {
			byAge = append(byAge, aged{key: key, createdAt: e.createdAt})
		}
		sort.Slice(byAge, func(i, j int) bool {
			return byAge[i].createdAt.Before(byAge[j].createdAt)
		})
		for _, a := range byAge[:over] {
			delete(m.items, a.key)
		}
		monitoring.CacheEvictionsTotal.WithLabelValues("capacity").Add(float64(over))
	}

	log.Debugf("cache cleanup: removed %d expired entries, %d resident", expired, len(m.items))
}

func (m *memoryTier) stats(now time.Time) (count, expired int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		if e.expired(now) {
			expired++
		}
	}
	return len(m.items), expired
}
