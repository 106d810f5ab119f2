package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/cache"
	mw "pdftrans-go/internal/middleware"
	"pdftrans-go/internal/processor"
	"pdftrans-go/internal/task"
)

const maxUploadBytes = 50 * 1024 * 1024

var (
	validEngines   = map[string]bool{"auto": true, "google": true, "azure": true, "gemini": true, "openrouter": true}
	validLanguages = map[string]bool{"simplified-chinese": true, "traditional-chinese": true, "english": true}
)

type handler struct {
	svc       *processor.Service
	uploadDir string
}

func newHandler(svc *processor.Service) *handler {
	return &handler{svc: svc, uploadDir: "uploads"}
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"message": msg, "type": "invalid_request_error"}})
}

// processAsync accepts a multipart PDF upload and either returns a cached
// result immediately or hands the document to the background task manager.
func (h *handler) processAsync(c *gin.Context) {
	engine := strings.TrimSpace(c.DefaultPostForm("engine", "auto"))
	if !validEngines[engine] {
		errorJSON(c, http.StatusBadRequest, fmt.Sprintf("Invalid engine type %q", engine))
		return
	}
	targetLanguage := c.DefaultPostForm("target_language", "simplified-chinese")
	if !validLanguages[targetLanguage] {
		errorJSON(c, http.StatusBadRequest, fmt.Sprintf("Invalid target language %q", targetLanguage))
		return
	}
	translateEnabled := c.PostForm("translate_enabled") == "true"
	dualLanguage := c.PostForm("dual_language") == "true"

	fileHeader, err := c.FormFile("file")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "Missing file upload")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		errorJSON(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File size too large. Maximum %dMB allowed.", maxUploadBytes/(1024*1024)))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "Unable to read upload")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "Unable to read upload")
		return
	}
	if int64(len(data)) > maxUploadBytes {
		errorJSON(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File size too large. Maximum %dMB allowed.", maxUploadBytes/(1024*1024)))
		return
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])
	userID := mw.CallerIdentity(c)

	options := map[string]cache.Value{
		"translate_enabled": cache.Bool(translateEnabled),
		"target_language":   cache.String(targetLanguage),
		"dual_language":     cache.Bool(dualLanguage),
	}

	filePath, err := h.saveUpload(contentHash, fileHeader.Filename, data)
	if err != nil {
		log.WithError(err).Error("failed to persist upload")
		errorJSON(c, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}

	sub, err := h.svc.ProcessAsync(c.Request.Context(), processor.Request{
		UserID:      userID,
		ContentHash: contentHash,
		Engine:      engine,
		Options:     options,
		FilePath:    filePath,
		Filename:    fileHeader.Filename,
	})
	if err != nil {
		os.Remove(filePath)
		var rle *processor.RateLimitError
		if errors.As(err, &rle) {
			retryAfter := int(time.Until(rle.Result.ResetTime) / time.Second)
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": fmt.Sprintf("Rate limit exceeded. %d requests remaining. Try again in %d seconds",
						rle.Result.Remaining, retryAfter),
					"type": "rate_limit_error",
				},
			})
			return
		}
		log.WithError(err).Error("failed to start processing")
		errorJSON(c, http.StatusInternalServerError, "Failed to start PDF processing")
		return
	}

	rateLimit := gin.H{
		"remaining":  sub.RateLimit.Remaining,
		"reset_time": sub.RateLimit.ResetTime,
	}
	if sub.Cached {
		// Cached results carry no task, the upload is not needed.
		os.Remove(filePath)
		c.JSON(http.StatusOK, gin.H{
			"status":     "completed",
			"cached":     true,
			"result":     sub.Result,
			"message":    "Result retrieved from cache",
			"rate_limit": rateLimit,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":        sub.TaskID,
		"status":         "processing",
		"message":        "PDF processing started",
		"estimated_time": "30-120 seconds",
		"rate_limit":     rateLimit,
	})
}

func (h *handler) saveUpload(contentHash, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := contentHash[:16] + "_" + filepath.Base(filename)
	path := filepath.Join(h.uploadDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// taskStatus reports the live state of a background task. A missing id is 404,
// which is distinct from a task that exists but has not started.
func (h *handler) taskStatus(c *gin.Context) {
	id := c.Param("id")
	snap, ok := h.svc.TaskStatus(id)
	if !ok {
		errorJSON(c, http.StatusNotFound, "Task not found or expired")
		return
	}

	body := gin.H{
		"task_id":    snap.ID,
		"status":     snap.Status,
		"created_at": snap.CreatedAt,
	}
	switch snap.Status {
	case task.StatusPending:
		body["progress"] = 0
		body["message"] = "Task is waiting to be processed"
		c.JSON(http.StatusOK, body)
	case task.StatusProcessing:
		body["progress"] = 50
		body["message"] = "Processing PDF..."
		body["started_at"] = snap.StartedAt
		body["function"] = snap.Name
		if snap.Progress != "" {
			body["stage"] = snap.Progress
		}
		c.JSON(http.StatusOK, body)
	case task.StatusSuccess:
		body["progress"] = 100
		body["message"] = "Processing completed successfully"
		body["result"] = snap.Result
		body["completed_at"] = snap.CompletedAt
		c.JSON(http.StatusOK, body)
	case task.StatusFailure:
		body["progress"] = 0
		body["message"] = "Processing failed"
		body["error"] = snap.Error
		body["completed_at"] = snap.CompletedAt
		c.JSON(http.StatusInternalServerError, body)
	case task.StatusCancelled:
		body["progress"] = 0
		body["message"] = "Task was cancelled"
		body["completed_at"] = snap.CompletedAt
		c.JSON(http.StatusOK, body)
	default:
		body["progress"] = 0
		body["message"] = fmt.Sprintf("Task in state: %s", snap.Status)
		c.JSON(http.StatusOK, body)
	}
}

// cancelTask cancels a pending task. Running or finished tasks cannot be
// cancelled.
func (h *handler) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if h.svc.CancelTask(id) {
		c.JSON(http.StatusOK, gin.H{
			"task_id": id,
			"status":  task.StatusCancelled,
			"message": "Task cancelled successfully",
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"task_id": id,
		"message": "Task cannot be cancelled (not found or already running/completed)",
	})
}

func (h *handler) stats(c *gin.Context) {
	s := h.svc.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"tasks":         s.Tasks,
		"cache":         s.Cache,
		"rate_limiting": s.RateLimit,
		"api_key_pools": s.Pools,
		"timestamp":     time.Now().UTC(),
	})
}

func (h *handler) health(c *gin.Context) {
	healthy, services := h.svc.Health(c.Request.Context())
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().UTC(),
	})
}
