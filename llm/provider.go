// Package llm talks to chat and embedding models over HTTP. Every
// supported backend speaks the OpenAI chat format; embeddings go through
// either the OpenAI or the native Ollama endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmbeddingUnsupported is returned by providers without an embeddings API.
var ErrEmbeddingUnsupported = errors.New("llm: provider does not support embeddings")

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System and User build the two message kinds the prompts use.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider       string        `json:"provider" yaml:"provider"` // deepseek, ollama, lmstudio, openai, groq, custom
	Model          string        `json:"model" yaml:"model"`
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	APIKey         string        `json:"api_key" yaml:"api_key"`
	MaxRetries     int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`           // 0 = default (6)
	EmbedBatchSize int           `json:"embed_batch_size,omitempty" yaml:"embed_batch_size,omitempty"` // 0 = default (64)
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`                   // 0 = default (120s)
}

type embedAPI int

const (
	embedNone embedAPI = iota
	embedOpenAI
	embedOllama
)

// backend holds what differs between the supported services.
type backend struct {
	baseURL    string
	pathPrefix string
	chatModel  string
	embedModel string
	embed      embedAPI
}

var backends = map[string]backend{
	"openai": {
		baseURL:    "https://api.openai.com",
		pathPrefix: "/v1",
		chatModel:  "gpt-4o-mini",
		embedModel: "text-embedding-3-small", // 1536 dim; -3-large is 3072
		embed:      embedOpenAI,
	},
	"deepseek": {
		baseURL:   "https://api.deepseek.com",
		chatModel: "deepseek-chat",
	},
	"groq": {
		baseURL:    "https://api.groq.com/openai",
		pathPrefix: "/v1",
		chatModel:  "llama-3.3-70b-versatile",
	},
	"ollama": {
		// Chat uses the OpenAI-compatible endpoint, embeddings the native
		// batched /api/embed.
		baseURL:    "http://localhost:11434",
		pathPrefix: "/v1",
		chatModel:  "qwen2.5:7b",
		embedModel: "nomic-embed-text",
		embed:      embedOllama,
	},
	"lmstudio": {
		baseURL:    "http://localhost:1234",
		pathPrefix: "/v1",
		embed:      embedOpenAI,
	},
	"custom": {
		pathPrefix: "/v1",
		embed:      embedOpenAI,
	},
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	b, ok := backends[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = b.baseURL
	}
	return newClient(cfg, b), nil
}
