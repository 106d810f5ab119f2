package ratelimit

import (
	"time"
)

// UserStats summarizes one identity's recent activity.
type UserStats struct {
	Identity         string     `json:"identity"`
	RequestsInWindow int        `json:"requests_in_window"`
	WindowSeconds    int        `json:"window_seconds"`
	FirstRequest     *time.Time `json:"first_request,omitempty"`
	LastRequest      *time.Time `json:"last_request,omitempty"`
}

// GlobalStats summarizes the limiter's overall state for the monitoring
// surface.
type GlobalStats struct {
	TrackedIdentities    int `json:"tracked_identities"`
	ActiveLastHour       int `json:"active_last_hour"`
	TotalTrackedRequests int `json:"total_tracked_requests"`
	MaxIdentities        int `json:"max_identities"`
}

// Stats returns the global limiter statistics.
func (l *Limiter) Stats() GlobalStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	hourAgo := l.now().Add(-time.Hour)
	stats := GlobalStats{
		TrackedIdentities: len(l.requests),
		MaxIdentities:     l.maxIdentities,
	}
	for _, history := range l.requests {
		stats.TotalTrackedRequests += len(history)
		if len(history) > 0 && !history[len(history)-1].Before(hourAgo) {
			stats.ActiveLastHour++
		}
	}
	return stats
}

// IdentityStats returns request statistics for a single identity within the
// trailing window.
func (l *Limiter) IdentityStats(identity string, window time.Duration) UserStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-window)
	recent := pruneBefore(l.requests[identity], cutoff)

	stats := UserStats{
		Identity:         identity,
		RequestsInWindow: len(recent),
		WindowSeconds:    int(window / time.Second),
	}
	if len(recent) > 0 {
		first, last := recent[0], recent[len(recent)-1]
		stats.FirstRequest = &first
		stats.LastRequest = &last
	}
	return stats
}

// HealthCheck exercises a check against a throwaway identity and reports
// whether the limiter is functioning.
func (l *Limiter) HealthCheck() map[string]any {
	probe := "_health_check_" + time.Now().Format(time.RFC3339Nano)
	res := l.Check(probe, 10, time.Minute)
	l.Reset(probe)

	status := "healthy"
	if !res.Allowed || res.Err != nil {
		status = "unhealthy"
	}
	return map[string]any{
		"status":             status,
		"tracked_identities": l.Stats().TrackedIdentities,
	}
}
