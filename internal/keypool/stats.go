package keypool

// KeyUsage reports one key's recent request volume, keyed by masked identity.
type KeyUsage struct {
	RequestsLastMinute int     `json:"requests_last_minute"`
	RateLimitPercent   float64 `json:"rate_limit_percent"`
}

// UsageStats returns per-key recent request counts. Key identities are always
// masked; the full secret never leaves the pool.
func (p *Pool) UsageStats() map[string]KeyUsage {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-budgetWindow)
	stats := make(map[string]KeyUsage, len(p.keys))
	for _, key := range p.keys {
		p.usage[key] = pruneBefore(p.usage[key], cutoff)
		recent := len(p.usage[key])
		stats[MaskKey(key)] = KeyUsage{
			RequestsLastMinute: recent,
			RateLimitPercent:   float64(recent) / float64(p.budget) * 100,
		}
	}
	return stats
}

// MaskKey renders a key safe for logs and stats: first and last four
// characters with the middle elided, or "***" for short keys.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
