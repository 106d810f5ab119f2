package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pdftrans-go/internal/cache"
	"pdftrans-go/internal/config"
	"pdftrans-go/internal/keypool"
	"pdftrans-go/internal/ratelimit"
	"pdftrans-go/internal/task"
)

func newTestService(t *testing.T, translator Translator, cfg Config) *Service {
	t.Helper()
	limiter := ratelimit.New(100)
	pools := keypool.NewRegistry([]config.PoolConfig{
		{Name: "gemini", Keys: []string{"key-aaaa", "key-bbbb"}, RequestsPerMinute: 60},
	})
	layered := cache.NewLayered(cache.Options{MaxMemoryItems: 100})
	tasks := task.NewManager(100, time.Hour)
	t.Cleanup(tasks.Close)
	return New(limiter, pools, layered, tasks, translator, cfg)
}

func waitForTask(t *testing.T, s *Service, id string, want task.Status) task.Snapshot {
	t.Helper()
	var snap task.Snapshot
	require.Eventually(t, func() bool {
		got, ok := s.TaskStatus(id)
		if !ok {
			return false
		}
		snap = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestProcessAsyncSubmitAndComplete(t *testing.T) {
	t.Parallel()
	var gotJob Job
	translator := TranslatorFunc(func(ctx context.Context, job Job) (cache.Value, error) {
		gotJob = job
		return cache.Map(map[string]cache.Value{"content": cache.String("translated")}), nil
	})
	s := newTestService(t, translator, Config{})

	req := Request{
		UserID:      "user-1",
		ContentHash: "hash-1",
		Engine:      "gemini",
		Options:     map[string]cache.Value{"dual_language": cache.Bool(false)},
		Filename:    "doc.pdf",
	}
	sub, err := s.ProcessAsync(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "processing", sub.Status)
	require.False(t, sub.Cached)
	require.NotEmpty(t, sub.TaskID)
	require.NotEmpty(t, sub.CacheKey)

	snap := waitForTask(t, s, sub.TaskID, task.StatusSuccess)
	content, _ := snap.Result.AsMap()
	require.True(t, cache.String("translated").Equal(content["content"]))

	// The job saw a pooled credential and the request payload.
	require.Equal(t, "gemini", gotJob.Engine)
	require.Equal(t, "doc.pdf", gotJob.Filename)
	require.Contains(t, []string{"key-aaaa", "key-bbbb"}, gotJob.Credential)

	// The result was written through to the cache: a second request is served
	// synchronously.
	sub2, err := s.ProcessAsync(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "completed", sub2.Status)
	require.True(t, sub2.Cached)
	require.Empty(t, sub2.TaskID)
	require.NotNil(t, sub2.Result)
	require.True(t, snap.Result.Equal(*sub2.Result))
}

func TestProcessAsyncRateLimited(t *testing.T) {
	t.Parallel()
	translator := TranslatorFunc(func(ctx context.Context, job Job) (cache.Value, error) {
		return cache.String("ok"), nil
	})
	s := newTestService(t, translator, Config{RateLimit: 2, RateLimitWindow: time.Hour})

	// Distinct hashes keep every request off the cache-hit path.
	for i, hash := range []string{"h1", "h2"} {
		_, err := s.ProcessAsync(context.Background(), Request{UserID: "user-1", ContentHash: hash, Engine: "gemini"})
		require.NoError(t, err, "request %d", i)
	}

	_, err := s.ProcessAsync(context.Background(), Request{UserID: "user-1", ContentHash: "h3", Engine: "gemini"})
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	require.False(t, rle.Result.Allowed)
	require.Equal(t, 0, rle.Result.Remaining)

	// Another user is unaffected.
	_, err = s.ProcessAsync(context.Background(), Request{UserID: "user-2", ContentHash: "h3", Engine: "gemini"})
	require.NoError(t, err)
}

func TestProcessAsyncTranslateFailure(t *testing.T) {
	t.Parallel()
	translator := TranslatorFunc(func(ctx context.Context, job Job) (cache.Value, error) {
		return cache.Value{}, errors.New("engine unavailable")
	})
	s := newTestService(t, translator, Config{})

	sub, err := s.ProcessAsync(context.Background(), Request{UserID: "u", ContentHash: "h", Engine: "gemini"})
	require.NoError(t, err, "submission succeeds even when the job will fail")

	snap := waitForTask(t, s, sub.TaskID, task.StatusFailure)
	require.Contains(t, snap.Error, "engine unavailable")

	// Failures are not cached: resubmitting schedules a new task.
	sub2, err := s.ProcessAsync(context.Background(), Request{UserID: "u", ContentHash: "h", Engine: "gemini"})
	require.NoError(t, err)
	require.False(t, sub2.Cached)
	require.NotEqual(t, sub.TaskID, sub2.TaskID)
}

func TestProcessAsyncUnknownEngineRunsWithoutCredential(t *testing.T) {
	t.Parallel()
	var gotCredential string
	translator := TranslatorFunc(func(ctx context.Context, job Job) (cache.Value, error) {
		gotCredential = job.Credential
		return cache.String("ok"), nil
	})
	s := newTestService(t, translator, Config{})

	sub, err := s.ProcessAsync(context.Background(), Request{UserID: "u", ContentHash: "h", Engine: "unpooled"})
	require.NoError(t, err)
	waitForTask(t, s, sub.TaskID, task.StatusSuccess)
	require.Empty(t, gotCredential)
}

func TestCancelTask(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	translator := TranslatorFunc(func(ctx context.Context, job Job) (cache.Value, error) {
		<-release
		return cache.String("ok"), nil
	})
	s := newTestService(t, translator, Config{})

	sub, err := s.ProcessAsync(context.Background(), Request{UserID: "u", ContentHash: "h", Engine: "gemini"})
	require.NoError(t, err)

	// Once the job is running cancellation is refused.
	waitForTask(t, s, sub.TaskID, task.StatusProcessing)
	require.False(t, s.CancelTask(sub.TaskID))
	close(release)
	waitForTask(t, s, sub.TaskID, task.StatusSuccess)

	require.False(t, s.CancelTask("no-such-task"))
}

func TestStatsAndHealth(t *testing.T) {
	t.Parallel()
	translator := TranslatorFunc(func(ctx context.Context, job Job) (cache.Value, error) {
		return cache.String("ok"), nil
	})
	s := newTestService(t, translator, Config{})

	sub, err := s.ProcessAsync(context.Background(), Request{UserID: "u", ContentHash: "h", Engine: "gemini"})
	require.NoError(t, err)
	waitForTask(t, s, sub.TaskID, task.StatusSuccess)

	stats := s.Stats(context.Background())
	require.Equal(t, 1, stats.Tasks.Completed)
	require.GreaterOrEqual(t, stats.Cache.MemoryItems, 1)
	require.Equal(t, 1, stats.RateLimit.TrackedIdentities)
	require.Contains(t, stats.Pools, "gemini")

	healthy, services := s.Health(context.Background())
	require.True(t, healthy)
	require.Contains(t, services, "task_manager")
	require.Contains(t, services, "cache_manager")
	require.Contains(t, services, "rate_limiter")
}
