package processor

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/cache"
	"pdftrans-go/internal/keypool"
	"pdftrans-go/internal/ratelimit"
	"pdftrans-go/internal/task"
)

// Job carries everything a Translator needs for one document.
type Job struct {
	FilePath   string
	Filename   string
	Engine     string
	Options    map[string]cache.Value
	Credential string
	Progress   func(string)
}

// Translator performs the long-running PDF extraction/translation call. It is
// supplied by the caller and treated as opaque; it may run arbitrarily long
// and may fail.
type Translator interface {
	Translate(ctx context.Context, job Job) (cache.Value, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, job Job) (cache.Value, error)

func (f TranslatorFunc) Translate(ctx context.Context, job Job) (cache.Value, error) {
	return f(ctx, job)
}

/// RateLimitError is the one error class that reaches submitters synchronously:
// the caller is over quota and should retry after Result.ResetTime.
type RateLimitError struct {
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d remaining, resets at %s",
		e.Result.Remaining, e.Result.ResetTime.Format(time.RFC3339))
}

// Config are the service-level knobs for a processor.
type Config struct {
	RateLimit       int
	RateLimitWindow time.Duration
	ResultTTL       time.Duration
}

// Service wires the rate limiter, layered cache, task manager and credential
// pools into the processing flow: limit check, cache lookup, then background
// submission with pool-backed execution and cache write-through.
type Service struct {
	limiter    *ratelimit.Limiter
	pools      *keypool.Registry
	cache      *cache.Layered
	tasks      *task.Manager
	translator Translator
	cfg        Config
}

// New constructs the service. All collaborators are required except that the
// registry may hold no pool for a given engine, in which case jobs run
// without a pooled credential.
func New(limiter *ratelimit.Limiter, pools *keypool.Registry, layered *cache.Layered, tasks *task.Manager, translator Translator, cfg Config) *Service {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Hour
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 2 * time.Hour
	}
	return &Service{
		limiter:    limiter,
		pools:      pools,
		cache:      layered,
		tasks:      tasks,
		translator: translator,
		cfg:        cfg,
	}
}

// Request is one inbound processing request.
type Request struct {
	UserID      string
	ContentHash string
	Engine      string
	Options     map[string]cache.Value
	FilePath    string
	Filename    string
}

// Submission reports how a request was handled: served from cache, or handed
// to the task manager.
type Submission struct {
	Status    string       `json:"status"` // "completed" or "processing"
	Cached    bool         `json:"cached"`
	TaskID    string       `json:"task_id,omitempty"`
	CacheKey  string       `json:"cache_key"`
	Result    *cache.Value `json:"result,omitempty"`
	RateLimit ratelimit.Result
}

// ProcessAsync runs the coordination flow for one request. A *RateLimitError
// is the only synchronous rejection; all other failure modes are absorbed
// into task state or logged.
func (s *Service) ProcessAsync(ctx context.Context, req Request) (*Submission, error) {
	rl := s.limiter.Check(req.UserID, s.cfg.RateLimit, s.cfg.RateLimitWindow)
	if !rl.Allowed {
		return nil, &RateLimitError{Result: rl}
	}

	key := cache.GenerateKey(req.ContentHash, req.Engine, req.Options)
	if cached, ok := s.cache.Get(ctx, key); ok {
		log.Infof("serving cached result for %s (user %s)", req.Filename, req.UserID)
		return &Submission{
			Status:    "completed",
			Cached:    true,
			CacheKey:  key,
			Result:    &cached,
			RateLimit: rl,
		}, nil
	}

	req.Options = cloneOptions(req.Options)
	taskID := s.tasks.Submit("process_pdf_file", func(jobCtx context.Context, progress func(string)) (cache.Value, error) {
		return s.runJob(jobCtx, req, key, progress)
	})

	return &Submission{
		Status:    "processing",
		TaskID:    taskID,
		CacheKey:  key,
		RateLimit: rl,
	}, nil
}

// runJob executes inside the task manager: acquire a credential, invoke the
// translator, write the result through to the cache. The uploaded file is
// removed whether the job succeeds or fails.
func (s *Service) runJob(ctx context.Context, req Request, key string, progress func(string)) (cache.Value, error) {
	if req.FilePath != "" {
		defer func() {
			if err := os.Remove(req.FilePath); err != nil && !os.IsNotExist(err) {
				log.WithError(err).Warnf("failed to remove upload %s", req.FilePath)
			}
		}()
	}

	var credential string
	if pool := s.pools.Get(req.Engine); pool != nil {
		acquired, err := pool.Acquire()
		if err != nil {
			return cache.Value{}, fmt.Errorf("acquire %s credential: %w", req.Engine, err)
		}
		credential = acquired
	} else {
		log.Warnf("no credential pool for engine %s, proceeding without pooled key", req.Engine)
	}

	progress("translating")
	result, err := s.translator.Translate(ctx, Job{
		FilePath:   req.FilePath,
		Filename:   req.Filename,
		Engine:     req.Engine,
		Options:    req.Options,
		Credential: credential,
		Progress:   progress,
	})
	if err != nil {
		return cache.Value{}, err
	}

	s.cache.Set(ctx, key, result, s.cfg.ResultTTL)
	return result, nil
}

func cloneOptions(options map[string]cache.Value) map[string]cache.Value {
	if options == nil {
		return nil
	}
	clone := make(map[string]cache.Value, len(options))
	for k, v := range options {
		clone[k] = v
	}
	return clone
}

// TaskStatus proxies the task manager's status query.
func (s *Service) TaskStatus(id string) (task.Snapshot, bool) {
	return s.tasks.Status(id)
}

// CancelTask proxies task cancellation.
func (s *Service) CancelTask(id string) bool {
	return s.tasks.Cancel(id)
}

// Stats aggregates component statistics for the monitoring endpoint.
type Stats struct {
	Tasks     task.Stats                             `json:"tasks"`
	Cache     cache.Stats                            `json:"cache"`
	RateLimit ratelimit.GlobalStats                  `json:"rate_limiting"`
	Pools     map[string]map[string]keypool.KeyUsage `json:"api_key_pools"`
}

// Stats returns a combined snapshot of all component statistics.
func (s *Service) Stats(ctx context.Context) Stats {
	return Stats{
		Tasks:     s.tasks.Stats(),
		Cache:     s.cache.Stats(ctx),
		RateLimit: s.limiter.Stats(),
		Pools:     s.pools.UsageStats(),
	}
}

// Health combines component health checks.
func (s *Service) Health(ctx context.Context) (bool, map[string]any) {
	cacheHealth := s.cache.HealthCheck(ctx)
	limiterHealth := s.limiter.HealthCheck()
	taskStats := s.tasks.Stats()

	healthy := cacheHealth["status"] == "healthy" && limiterHealth["status"] == "healthy"
	return healthy, map[string]any{
		"task_manager": map[string]any{
			"status":       "healthy",
			"active_tasks": taskStats.Pending + taskStats.Processing,
		},
		"cache_manager": cacheHealth,
		"rate_limiter":  limiterHealth,
	}
}
