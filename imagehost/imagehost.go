// Package imagehost publishes extracted document images so that generated
// answers can link to them.
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.imgbb.com/1/upload"

var (
	ErrNoAPIKey     = errors.New("imagehost: api key not configured")
	ErrUploadFailed = errors.New("imagehost: upload rejected")
)

// Config configures the imgbb client.
type Config struct {
	APIKey            string        `json:"api_key" yaml:"api_key"`
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

// Client uploads images to imgbb.
type Client struct {
	apiKey  string
	baseURL string
	limiter *rate.Limiter
	client  *http.Client
}

// New creates a Client. Zero-value fields get defaults: the public imgbb
// endpoint, 2 requests per second with a burst of 4, and a 60s timeout.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type uploadResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		URL string `json:"url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// UploadFile posts the image at localPath and returns its hosted URL.
func (c *Client) UploadFile(ctx context.Context, localPath string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"?key="+c.apiKey, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("imgbb request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var result uploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("imgbb error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if !result.Success || result.Data.URL == "" {
		return "", fmt.Errorf("%w (status %d): %s", ErrUploadFailed, resp.StatusCode, result.Error.Message)
	}
	return result.Data.URL, nil
}

// Upload returns the hosted URL of the image, or "" when it could not be
// uploaded so that callers keep the local path.
func (c *Client) Upload(ctx context.Context, localPath string) string {
	url, err := c.UploadFile(ctx, localPath)
	if err != nil {
		if errors.Is(err, ErrNoAPIKey) {
			slog.Debug("imagehost: upload skipped", "path", localPath, "error", err)
		} else {
			slog.Warn("imagehost: upload failed", "path", localPath, "error", err)
		}
		return ""
	}
	slog.Debug("imagehost: uploaded", "path", localPath, "url", url)
	return url
}

// Local references images by their absolute path on disk.
type Local struct{}

func (Local) Upload(_ context.Context, localPath string) string {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return localPath
	}
	return abs
}
