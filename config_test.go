package goqa

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Merge.TotalThreshold != 0.95 || cfg.Merge.QuestionThreshold != 0.9 {
		t.Errorf("merge thresholds = %+v", cfg.Merge)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goqa.yaml")
	data := `
db_path: /tmp/qa.db
chunk_size: 500
chat:
  provider: deepseek
  model: deepseek-chat
qa:
  max_questions: 5
  clean_questions: true
  rules:
    clean: 保留条款编号
merge:
  total_threshold: 0.9
image_host:
  api_key: k
  timeout: 30s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/qa.db" || cfg.ChunkSize != 500 {
		t.Errorf("top-level fields not loaded: %+v", cfg)
	}
	if cfg.Chat.Provider != "deepseek" || cfg.Chat.Model != "deepseek-chat" {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	// Unset nested fields keep their defaults.
	if cfg.Embedding.Provider != "ollama" || cfg.ChunkOverlap != 100 {
		t.Errorf("defaults lost: embedding=%+v overlap=%d", cfg.Embedding, cfg.ChunkOverlap)
	}
	if cfg.QA.MaxQuestions != 5 || !cfg.QA.CleanQuestions || cfg.QA.Rules.Clean != "保留条款编号" {
		t.Errorf("qa = %+v", cfg.QA)
	}
	if cfg.QA.MinParagraph != 100 {
		t.Errorf("qa.min_paragraph default lost: %d", cfg.QA.MinParagraph)
	}
	if cfg.Merge.TotalThreshold != 0.9 || cfg.Merge.QuestionThreshold != 0.9 {
		t.Errorf("merge = %+v", cfg.Merge)
	}
	if cfg.ImageHost.APIKey != "k" || cfg.ImageHost.Timeout.Seconds() != 30 {
		t.Errorf("image host = %+v", cfg.ImageHost)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goqa.json")
	if err := os.WriteFile(path, []byte(`{"embedding_dim": 1024, "dedup": true}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EmbeddingDim != 1024 || !cfg.Dedup {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("embedding_dim: -3\n"), 0o644)

	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if !strings.Contains(err.Error(), "embedding_dim") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GOQA_CHAT_PROVIDER", "groq")
	t.Setenv("GOQA_CHAT_API_KEY", "secret")
	t.Setenv("GOQA_IMGBB_API_KEY", "img")
	t.Setenv("GOQA_EMBEDDING_DIM", "384")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Chat.Provider != "groq" || cfg.Chat.APIKey != "secret" {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.ImageHost.APIKey != "img" {
		t.Errorf("image host key = %q", cfg.ImageHost.APIKey)
	}
	if cfg.EmbeddingDim != 384 {
		t.Errorf("embedding dim = %d", cfg.EmbeddingDim)
	}
}

func TestApplyEnvIgnoresBadDim(t *testing.T) {
	t.Setenv("GOQA_EMBEDDING_DIM", "lots")
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.EmbeddingDim != 768 {
		t.Errorf("embedding dim = %d, want 768", cfg.EmbeddingDim)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no chat provider", func(c *Config) { c.Chat.Provider = "" }, "chat.provider"},
		{"negative chunk size", func(c *Config) { c.ChunkSize = -1 }, "chunk_size"},
		{"threshold out of range", func(c *Config) { c.Merge.TotalThreshold = 1.5 }, "merge.total_threshold"},
		{"paragraph bounds", func(c *Config) { c.QA.MinParagraph = 400 }, "qa.min_paragraph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Validate = %v, want error naming %s", err, tt.field)
			}
		})
	}
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{DBPath: "/x/y.db"}
	if got := cfg.resolveDBPath(); got != "/x/y.db" {
		t.Errorf("explicit path = %q", got)
	}

	cfg = Config{DBName: "qa", StorageDir: "local"}
	if got := cfg.resolveDBPath(); got != "qa.db" {
		t.Errorf("local path = %q", got)
	}

	cfg = Config{}
	if got := cfg.resolveDBPath(); !strings.HasSuffix(got, filepath.Join(".goqa", "goqa.db")) {
		t.Errorf("home path = %q", got)
	}
}
