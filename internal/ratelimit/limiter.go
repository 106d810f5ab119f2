package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/monitoring"
)

const (
	defaultMaxIdentities = 10000
	cleanupInterval      = 5 * time.Minute
	inactivityHorizon    = time.Hour
	// fraction of capacity kept when evicting least-recently-active identities
	keepFraction = 0.8
)

// Result reports the outcome of a rate-limit check. Err is set when internal
// bookkeeping failed and the limiter failed open; the request is still allowed
// in that case.
type Result struct {
	Allowed      bool          `json:"allowed"`
	Remaining    int           `json:"remaining"`
	ResetTime    time.Time     `json:"reset_time"`
	CurrentCount int           `json:"current_count"`
	Limit        int           `json:"limit"`
	Window       time.Duration `json:"window"`
	Err          error         `json:"-"`
}

// Limiter is an in-memory sliding-window rate limiter keyed by caller
// identity. It replaces the Redis-backed limiter of the previous deployment.
type Limiter struct {
	mu            sync.Mutex
	requests      map[string][]time.Time
	maxIdentities int
	lastCleanup   time.Time

	now func() time.Time
}

// New creates a Limiter tracking at most maxIdentities callers
// (defaultMaxIdentities when <= 0).
func New(maxIdentities int) *Limiter {
	if maxIdentities <= 0 {
		maxIdentities = defaultMaxIdentities
	}
	return &Limiter{
		requests:      make(map[string][]time.Time),
		maxIdentities: maxIdentities,
		now:           time.Now,
	}
}

// Check decides whether identity may proceed given limit requests per window.
// An admitted request is counted immediately; a denied check does not mutate
// the ledger. limit zero always denies.
func (l *Limiter) Check(identity string, limit int, window time.Duration) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			// Fail open: availability of the protected resource wins over
			// strict quota enforcement.
			err := fmt.Errorf("rate limit bookkeeping failed: %v", r)
			log.WithError(err).Errorf("rate limit check failed for %s", identity)
			res = Result{
				Allowed:   true,
				Remaining: limit,
				ResetTime: l.now().Add(window),
				Limit:     limit,
				Window:    window,
				Err:       err,
			}
		}
	}()

	now := l.now()
	windowStart := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := pruneBefore(l.requests[identity], windowStart)

	count := len(history)
	allowed := count < limit
	if allowed {
		history = append(history, now)
		count++
	}
	if len(history) > 0 {
		l.requests[identity] = history
	} else {
		delete(l.requests, identity)
	}

	l.cleanupLocked(now)

	outcome := "allowed"
	if !allowed {
		outcome = "denied"
		log.Warnf("rate limit exceeded for %s: %d/%d in %s", identity, count, limit, window)
	}
	monitoring.RateLimitChecksTotal.WithLabelValues(outcome).Inc()

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:      allowed,
		Remaining:    remaining,
		ResetTime:    windowStart.Add(window),
		CurrentCount: count,
		Limit:        limit,
		Window:       window,
	}
}

// pruneBefore drops all timestamps older than cutoff. History is append-only
// chronological, so a single scan from the front suffices.
func pruneBefore(history []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(history) && history[i].Before(cutoff) {
		i++
	}
	return history[i:]
}

// cleanupLocked purges inactive identities and enforces the tracking ceiling.
// Runs at most once per cleanupInterval; caller holds the mutex.
func (l *Limiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < cleanupInterval {
		return
	}
	l.lastCleanup = now

	cutoff := now.Add(-inactivityHorizon)
	removed := 0
	for id, history := range l.requests {
		history = pruneBefore(history, cutoff)
		if len(history) == 0 {
			delete(l.requests, id)
			removed++
			continue
		}
		l.requests[id] = history
	}

	if len(l.requests) > l.maxIdentities {
		type activity struct {
			id   string
			last time.Time
		}
		byActivity := make([]activity, 0, len(l.requests))
		for id, history := range l.requests {
			byActivity = append(byActivity, activity{id: id, last: history[len(history)-1]})
		}
		sort.Slice(byActivity, func(i, j int) bool {
			return byActivity[i].last.After(byActivity[j].last)
		})
		keep := int(float64(l.maxIdentities) * keepFraction)
		for _, a := range byActivity[keep:] {
			delete(l.requests, a.id)
			removed++
		}
	}

	monitoring.RateLimitIdentitiesGauge.Set(float64(len(l.requests)))
	monitoring.RateLimitSweepsTotal.Inc()
	log.Debugf("rate limiter cleanup: removed %d identities, %d tracked", removed, len(l.requests))
}

// Reset clears the ledger for one identity. Returns false when the identity
// was not tracked.
func (l *Limiter) Reset(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.requests[identity]; !ok {
		return false
	}
	delete(l.requests, identity)
	log.Infof("reset rate limit for %s", identity)
	return true
}

// Clear drops all tracked identities.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = make(map[string][]time.Time)
	log.Info("cleared all rate limit data")
}
