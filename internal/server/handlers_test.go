package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"pdftrans-go/internal/cache"
	"pdftrans-go/internal/config"
	"pdftrans-go/internal/keypool"
	"pdftrans-go/internal/processor"
	"pdftrans-go/internal/ratelimit"
	"pdftrans-go/internal/task"
)

func newTestStack(t *testing.T, translator processor.Translator, limit int) (*gin.Engine, *processor.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.New(100)
	pools := keypool.NewRegistry([]config.PoolConfig{
		{Name: "gemini", Keys: []string{"key-aaaa"}, RequestsPerMinute: 60},
	})
	layered := cache.NewLayered(cache.Options{MaxMemoryItems: 100})
	tasks := task.NewManager(100, time.Hour)
	t.Cleanup(tasks.Close)

	svc := processor.New(limiter, pools, layered, tasks, translator, processor.Config{
		RateLimit:       limit,
		RateLimitWindow: time.Hour,
	})

	h := newHandler(svc)
	h.uploadDir = t.TempDir()

	engine := gin.New()
	engine.POST("/v1/pdf/process-async", h.processAsync)
	engine.GET("/v1/pdf/status/:id", h.taskStatus)
	engine.DELETE("/v1/pdf/cancel/:id", h.cancelTask)
	engine.GET("/v1/pdf/stats", h.stats)
	engine.GET("/health", h.health)
	return engine, svc
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, form.WriteField(k, v))
	}
	if filename != "" {
		part, err := form.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())
	return &body, form.FormDataContentType()
}

func doJSON(t *testing.T, engine *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func okTranslator() processor.TranslatorFunc {
	return func(ctx context.Context, job processor.Job) (cache.Value, error) {
		return cache.Map(map[string]cache.Value{"content": cache.String("translated")}), nil
	}
}

func TestProcessAsyncAcceptsUpload(t *testing.T) {
	t.Parallel()
	engine, svc := newTestStack(t, okTranslator(), 10)

	body, contentType := multipartUpload(t, map[string]string{"engine": "gemini"}, "doc.pdf", []byte("%PDF-1.4 test"))
	req := httptest.NewRequest(http.MethodPost, "/v1/pdf/process-async", body)
	req.Header.Set("Content-Type", contentType)

	rec, parsed := doJSON(t, engine, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "processing", parsed["status"])
	taskID, _ := parsed["task_id"].(string)
	require.NotEmpty(t, taskID)
	require.Contains(t, parsed, "rate_limit")

	// Wait for the background job, then a second identical upload is served
	// from cache.
	require.Eventually(t, func() bool {
		snap, ok := svc.TaskStatus(taskID)
		return ok && snap.Status == task.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	body, contentType = multipartUpload(t, map[string]string{"engine": "gemini"}, "doc.pdf", []byte("%PDF-1.4 test"))
	req = httptest.NewRequest(http.MethodPost, "/v1/pdf/process-async", body)
	req.Header.Set("Content-Type", contentType)

	rec, parsed = doJSON(t, engine, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", parsed["status"])
	require.Equal(t, true, parsed["cached"])
	require.Contains(t, parsed, "result")
}

func TestProcessAsyncValidation(t *testing.T) {
	t.Parallel()
	engine, _ := newTestStack(t, okTranslator(), 10)

	// Unknown engine.
	body, contentType := multipartUpload(t, map[string]string{"engine": "dalle"}, "doc.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/v1/pdf/process-async", body)
	req.Header.Set("Content-Type", contentType)
	rec, _ := doJSON(t, engine, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown target language.
	body, contentType = multipartUpload(t, map[string]string{"target_language": "klingon"}, "doc.pdf", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/v1/pdf/process-async", body)
	req.Header.Set("Content-Type", contentType)
	rec, _ = doJSON(t, engine, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing file part.
	body, contentType = multipartUpload(t, map[string]string{"engine": "gemini"}, "", nil)
	req = httptest.NewRequest(http.MethodPost, "/v1/pdf/process-async", body)
	req.Header.Set("Content-Type", contentType)
	rec, _ = doJSON(t, engine, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessAsyncRateLimited(t *testing.T) {
	t.Parallel()
	engine, _ := newTestStack(t, okTranslator(), 1)

	send := func(payload string) *httptest.ResponseRecorder {
		body, contentType := multipartUpload(t, map[string]string{"engine": "gemini"}, "doc.pdf", []byte(payload))
		req := httptest.NewRequest(http.MethodPost, "/v1/pdf/process-async", body)
		req.Header.Set("Content-Type", contentType)
		rec, _ := doJSON(t, engine, req)
		return rec
	}

	require.Equal(t, http.StatusAccepted, send("doc one").Code)

	rec := send("doc two")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestTaskStatusLifecycle(t *testing.T) {
	t.Parallel()
	engine, svc := newTestStack(t, okTranslator(), 10)

	// Unknown id.
	rec, _ := doJSON(t, engine, httptest.NewRequest(http.MethodGet, "/v1/pdf/status/ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	sub, err := svc.ProcessAsync(context.Background(), processor.Request{
		UserID: "u", ContentHash: "h", Engine: "gemini",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := svc.TaskStatus(sub.TaskID)
		return ok && snap.Status == task.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	rec, parsed := doJSON(t, engine, httptest.NewRequest(http.MethodGet, "/v1/pdf/status/"+sub.TaskID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, string(task.StatusSuccess), parsed["status"])
	require.Equal(t, float64(100), parsed["progress"])
	require.Contains(t, parsed, "result")
}

func TestTaskStatusFailureReturns500(t *testing.T) {
	t.Parallel()
	failing := processor.TranslatorFunc(func(ctx context.Context, job processor.Job) (cache.Value, error) {
		return cache.Value{}, context.DeadlineExceeded
	})
	engine, svc := newTestStack(t, failing, 10)

	sub, err := svc.ProcessAsync(context.Background(), processor.Request{UserID: "u", ContentHash: "h", Engine: "gemini"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := svc.TaskStatus(sub.TaskID)
		return ok && snap.Status == task.StatusFailure
	}, 2*time.Second, 5*time.Millisecond)

	rec, parsed := doJSON(t, engine, httptest.NewRequest(http.MethodGet, "/v1/pdf/status/"+sub.TaskID, nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, string(task.StatusFailure), parsed["status"])
	require.Contains(t, parsed, "error")
}

func TestCancelEndpoint(t *testing.T) {
	t.Parallel()
	engine, svc := newTestStack(t, okTranslator(), 10)

	sub, err := svc.ProcessAsync(context.Background(), processor.Request{UserID: "u", ContentHash: "h", Engine: "gemini"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := svc.TaskStatus(sub.TaskID)
		return ok && snap.Status == task.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	// Terminal tasks cannot be cancelled.
	rec, _ := doJSON(t, engine, httptest.NewRequest(http.MethodDelete, "/v1/pdf/cancel/"+sub.TaskID, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, engine, httptest.NewRequest(http.MethodDelete, "/v1/pdf/cancel/ghost", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	engine, _ := newTestStack(t, okTranslator(), 10)

	rec, parsed := doJSON(t, engine, httptest.NewRequest(http.MethodGet, "/v1/pdf/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, parsed, "tasks")
	require.Contains(t, parsed, "cache")
	require.Contains(t, parsed, "rate_limiting")
	require.Contains(t, parsed, "api_key_pools")
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	engine, _ := newTestStack(t, okTranslator(), 10)

	rec, parsed := doJSON(t, engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", parsed["status"])
	require.Contains(t, parsed, "services")
}

func TestBuildMountsRoutes(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(config.DefaultSource{})
	require.NoError(t, err)

	limiter := ratelimit.New(100)
	layered := cache.NewLayered(cache.Options{MaxMemoryItems: 10})
	tasks := task.NewManager(10, time.Hour)
	t.Cleanup(tasks.Close)
	svc := processor.New(limiter, keypool.NewRegistry(nil), layered, tasks, okTranslator(), processor.Config{})

	engine := Build(cfg, Dependencies{Processor: svc, Limiter: limiter})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pdf/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
