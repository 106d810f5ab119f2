package keypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pdftrans-go/internal/config"
)

func newTestPool(keys []string, budget int, start time.Time) (*Pool, *time.Time) {
	p := New("test", keys, budget)
	clock := start
	p.now = func() time.Time { return clock }
	return p, &clock
}

func TestAcquireRoundRobin(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool([]string{"key-aaaa", "key-bbbb", "key-cccc"}, 60, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	var got []string
	for i := 0; i < 6; i++ {
		key, err := p.Acquire()
		require.NoError(t, err)
		got = append(got, key)
	}
	require.Equal(t, []string{"key-aaaa", "key-bbbb", "key-cccc", "key-aaaa", "key-bbbb", "key-cccc"}, got)
}

func TestAcquireEmptyPool(t *testing.T) {
	t.Parallel()
	p := New("empty", nil, 60)
	_, err := p.Acquire()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no keys")
}

func TestAcquireSkipsOverBudgetKeys(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool([]string{"key-aaaa", "key-bbbb"}, 2, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// Exhaust key-aaaa's budget directly.
	first, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-aaaa", first)
	p.usage["key-aaaa"] = append(p.usage["key-aaaa"], p.now())

	// Rotation lands on key-bbbb, then skips the saturated key-aaaa.
	second, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-bbbb", second)
	third, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-bbbb", third)
}

func TestAcquireSaturatedFallsBackToEarliestOldest(t *testing.T) {
	t.Parallel()
	p, clock := newTestPool([]string{"key-aaaa", "key-bbbb"}, 2, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// Rotation lands a at t0 and t2, b at t1 and t3: the whole pool is at
	// budget and key-aaaa's oldest use expires first.
	for i := 0; i < 4; i++ {
		_, err := p.Acquire()
		require.NoError(t, err)
		*clock = clock.Add(time.Second)
	}

	key, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-aaaa", key)
	require.Len(t, p.usage["key-aaaa"], 3)
}

func TestAcquireBudgetWindowSlides(t *testing.T) {
	t.Parallel()
	p, clock := newTestPool([]string{"key-aaaa"}, 2, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.NoError(t, err)

	// A minute later the old usage is outside the window: no fallback path.
	*clock = clock.Add(budgetWindow + time.Second)
	_, err = p.Acquire()
	require.NoError(t, err)
	require.Len(t, p.usage["key-aaaa"], 1)
}

func TestAddIgnoresDuplicatesAndEmpty(t *testing.T) {
	t.Parallel()
	p := New("test", []string{"key-aaaa"}, 60)
	p.Add("key-aaaa")
	p.Add("")
	p.Add("key-bbbb")
	require.Equal(t, 2, p.Len())
}

func TestRemoveKeepsRotationValid(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool([]string{"key-aaaa", "key-bbbb", "key-cccc"}, 60, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// Advance the cursor onto key-bbbb, then remove it.
	_, _ = p.Acquire()
	_, _ = p.Acquire()
	require.True(t, p.Remove("key-bbbb"))
	require.False(t, p.Remove("key-bbbb"))
	require.Equal(t, 2, p.Len())

	// Rotation continues over the survivors without panicking.
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		key, err := p.Acquire()
		require.NoError(t, err)
		seen[key]++
	}
	require.Equal(t, 2, seen["key-aaaa"])
	require.Equal(t, 2, seen["key-cccc"])
}

func TestRemoveLastKey(t *testing.T) {
	t.Parallel()
	p := New("test", []string{"key-aaaa"}, 60)
	require.True(t, p.Remove("key-aaaa"))
	_, err := p.Acquire()
	require.Error(t, err)
}

func TestReplaceResetsUsage(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool([]string{"key-aaaa"}, 1, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err := p.Acquire()
	require.NoError(t, err)

	p.Replace([]string{"key-aaaa", "key-bbbb"})
	require.Equal(t, 2, p.Len())

	// Fresh histories: key-aaaa is under budget again and rotation restarts.
	key, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-aaaa", key)
}

func TestMaskKey(t *testing.T) {
	t.Parallel()
	require.Equal(t, "***", MaskKey("short"))
	require.Equal(t, "***", MaskKey("12345678"))
	require.Equal(t, "sk-a...wxyz", MaskKey("sk-abcdefgwxyz"))
}

func TestUsageStatsMasksKeys(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool([]string{"sk-abcdefgwxyz"}, 10, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err := p.Acquire()
	require.NoError(t, err)

	stats := p.UsageStats()
	require.Len(t, stats, 1)
	usage, ok := stats["sk-a...wxyz"]
	require.True(t, ok)
	require.Equal(t, 1, usage.RequestsLastMinute)
	require.InDelta(t, 10.0, usage.RateLimitPercent, 0.001)
}

func TestRegistryRefresh(t *testing.T) {
	t.Parallel()
	r := NewRegistry([]config.PoolConfig{
		{Name: "gemini", Keys: []string{"key-aaaa"}, RequestsPerMinute: 60},
		{Name: "ignored", Keys: nil, RequestsPerMinute: 60},
	})
	require.NotNil(t, r.Get("gemini"))
	require.Nil(t, r.Get("ignored"))

	r.Refresh([]config.PoolConfig{
		{Name: "gemini", Keys: []string{"key-aaaa", "key-bbbb"}, RequestsPerMinute: 60},
		{Name: "openrouter", Keys: []string{"key-cccc"}, RequestsPerMinute: 20},
	})
	require.Equal(t, 2, r.Get("gemini").Len())
	require.NotNil(t, r.Get("openrouter"))

	// Pools absent from the refreshed config survive.
	r.Refresh(nil)
	require.NotNil(t, r.Get("gemini"))

	stats := r.UsageStats()
	require.Contains(t, stats, "gemini")
	require.Contains(t, stats, "openrouter")
}
