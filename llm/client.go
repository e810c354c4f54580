package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultEmbedBatchSize = 64

// Client is the Provider for every backend.
type Client struct {
	cfg     Config
	backend backend
	http    *http.Client
	retry   retryPolicy
}

func newClient(cfg Config, b backend) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = defaultEmbedBatchSize
	}
	if cfg.Timeout <= 0 {
		// Local servers may load the model on first request.
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:     cfg,
		backend: b,
		http:    &http.Client{Timeout: cfg.Timeout},
		retry: retryPolicy{
			maxRetries:     cfg.MaxRetries,
			base:           baseRetryDelay,
			rateLimitFloor: minRateLimitDelay,
		},
	}
}

// BaseURL returns the server the client talks to.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// chatModel picks the request model, then the configured one, then the
// backend default.
func (c *Client) chatModel(req ChatRequest) string {
	switch {
	case req.Model != "":
		return req.Model
	case c.cfg.Model != "":
		return c.cfg.Model
	default:
		return c.backend.chatModel
	}
}

func (c *Client) embedModel() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return c.backend.embedModel
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends one chat completion. Temperature is always sent, zero
// included.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := chatCompletionRequest{
		Model:       c.chatModel(req),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	raw, err := c.post(ctx, c.backend.pathPrefix+"/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     resp.Choices[0].FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// Embed returns one vector per text, in input order. Inputs are sent in
// batches of EmbedBatchSize.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.backend.embed == embedNone {
		return nil, ErrEmbeddingUnsupported
	}
	start := time.Now()
	out := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += c.cfg.EmbedBatchSize {
		hi := min(lo+c.cfg.EmbedBatchSize, len(texts))
		var (
			vecs [][]float32
			err  error
		)
		if c.backend.embed == embedOllama {
			vecs, err = c.embedOllama(ctx, texts[lo:hi])
		} else {
			vecs, err = c.embedOpenAI(ctx, texts[lo:hi])
		}
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	slog.Debug("llm: embedded",
		"texts", len(texts), "model", c.embedModel(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) embedOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := c.post(ctx, c.backend.pathPrefix+"/embeddings", embeddingRequest{Model: c.embedModel(), Input: texts})
	if err != nil {
		return nil, err
	}

	var resp openAIEmbeddingResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	// Entries may arrive out of order.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("embedding response missing index %d", i)
		}
	}
	return vecs, nil
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (c *Client) embedOllama(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := c.post(ctx, "/api/embed", embeddingRequest{Model: c.embedModel(), Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var resp ollamaEmbedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding ollama embed response: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		v := make([]float32, len(e))
		for j, x := range e {
			v[j] = float32(x)
		}
		vecs[i] = v
	}
	return vecs, nil
}

// post sends body as JSON and returns the 200 response body, retrying
// network failures and retryable status codes.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; ; attempt++ {
		raw, header, err := c.send(ctx, url, data)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
		lastErr = err
		if attempt >= c.retry.maxRetries {
			break
		}

		delay := c.retry.delay(attempt, err, header)
		slog.Warn("llm: retrying request",
			"url", url, "attempt", attempt+1, "delay", delay, "error", err)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// send performs a single POST. Non-200 answers come back as *APIError
// together with the response headers.
func (c *Client) send(ctx context.Context, url string, data []byte) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.Header, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, resp.Header, nil
}
