package translate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/cache"
	"pdftrans-go/internal/processor"
)

// Client sends documents to the upstream translation service and decodes the
// JSON result. It satisfies processor.Translator.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given upstream URL. The timeout bounds a
// whole job, not a single read.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Translate uploads the file with its options and returns the decoded result.
func (c *Client) Translate(ctx context.Context, job processor.Job) (cache.Value, error) {
	data, err := os.ReadFile(job.FilePath)
	if err != nil {
		return cache.Value{}, fmt.Errorf("read %s: %w", job.FilePath, err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", job.Filename)
	if err != nil {
		return cache.Value{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return cache.Value{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := form.WriteField("engine", job.Engine); err != nil {
		return cache.Value{}, fmt.Errorf("build upload form: %w", err)
	}
	optionsJSON, err := cache.Map(job.Options).MarshalJSON()
	if err != nil {
		return cache.Value{}, fmt.Errorf("encode options: %w", err)
	}
	if err := form.WriteField("options", string(optionsJSON)); err != nil {
		return cache.Value{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return cache.Value{}, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", &body)
	if err != nil {
		return cache.Value{}, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if job.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+job.Credential)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return cache.Value{}, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return cache.Value{}, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return cache.Value{}, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncate(payload, 200))
	}

	result, err := cache.ValueFromJSON(payload)
	if err != nil {
		return cache.Value{}, fmt.Errorf("decode upstream response: %w", err)
	}
	log.Infof("translated %s via %s in %.2fs", job.Filename, job.Engine, time.Since(start).Seconds())
	return result, nil
}

// Unconfigured is the translator used when no upstream URL is set; every job
// fails with a clear configuration error.
func Unconfigured() processor.TranslatorFunc {
	return func(ctx context.Context, job processor.Job) (cache.Value, error) {
		return cache.Value{}, fmt.Errorf("no translation upstream configured (set engine.upstream_url or TRANSLATE_UPSTREAM_URL)")
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
