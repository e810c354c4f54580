package llm

import (
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider  string
		wantURL   string
		wantChat  string
		wantEmbed embedAPI
	}{
		{"openai", "https://api.openai.com", "gpt-4o-mini", embedOpenAI},
		{"deepseek", "https://api.deepseek.com", "deepseek-chat", embedNone},
		{"groq", "https://api.groq.com/openai", "llama-3.3-70b-versatile", embedNone},
		{"ollama", "http://localhost:11434", "qwen2.5:7b", embedOllama},
		{"lmstudio", "http://localhost:1234", "", embedOpenAI},
		{"custom", "", "", embedOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			c, ok := p.(*Client)
			if !ok {
				t.Fatalf("NewProvider(%q) type = %T, want *Client", tt.provider, p)
			}
			if c.BaseURL() != tt.wantURL {
				t.Errorf("BaseURL = %q, want %q", c.BaseURL(), tt.wantURL)
			}
			if got := c.chatModel(ChatRequest{}); got != tt.wantChat {
				t.Errorf("chat model = %q, want %q", got, tt.wantChat)
			}
			if c.backend.embed != tt.wantEmbed {
				t.Errorf("embed api = %d, want %d", c.backend.embed, tt.wantEmbed)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist", Model: "test-model"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	_, err := NewProvider(Config{Model: "test-model"})
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
}

func TestExplicitBaseURLPreserved(t *testing.T) {
	p, err := NewProvider(Config{Provider: "ollama", BaseURL: "http://gpu-box:11434"})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.(*Client).BaseURL(); got != "http://gpu-box:11434" {
		t.Errorf("BaseURL = %q", got)
	}
}

func TestModelPrecedence(t *testing.T) {
	p, _ := NewProvider(Config{Provider: "ollama", Model: "llama3"})
	c := p.(*Client)

	if got := c.chatModel(ChatRequest{}); got != "llama3" {
		t.Errorf("configured model = %q", got)
	}
	if got := c.chatModel(ChatRequest{Model: "qwen"}); got != "qwen" {
		t.Errorf("request model = %q", got)
	}
	if got := c.embedModel(); got != "llama3" {
		t.Errorf("embed model = %q", got)
	}

	p, _ = NewProvider(Config{Provider: "openai"})
	if got := p.(*Client).embedModel(); got != "text-embedding-3-small" {
		t.Errorf("default embed model = %q", got)
	}
}

func TestClientDefaults(t *testing.T) {
	p, _ := NewProvider(Config{Provider: "custom", BaseURL: "http://x"})
	c := p.(*Client)
	if c.cfg.MaxRetries != defaultMaxRetries || c.cfg.EmbedBatchSize != defaultEmbedBatchSize {
		t.Errorf("cfg = %+v", c.cfg)
	}
	if c.http.Timeout == 0 {
		t.Error("http client has no timeout")
	}
}
