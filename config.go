package goqa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brunobiangulo/goqa/boundary"
	"github.com/brunobiangulo/goqa/imagehost"
	"github.com/brunobiangulo/goqa/merge"
	"github.com/brunobiangulo/goqa/qagen"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the goqa engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.goqa/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "goqa".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.goqa/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// OutputDir holds the per-document artefacts: chunks/, questions/,
	// answers/, maps/ and images/.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Image hosting; an empty API key keeps local image paths.
	ImageHost imagehost.Config `json:"image_host" yaml:"image_host"`

	// Chunking
	ChunkSize    int                    `json:"chunk_size" yaml:"chunk_size"`       // runes
	ChunkOverlap int                    `json:"chunk_overlap" yaml:"chunk_overlap"` // runes; negative disables
	MinClauses   int                    `json:"min_clauses" yaml:"min_clauses"`
	Dedup        bool                   `json:"dedup" yaml:"dedup"`
	Patterns     *boundary.PatternTable `json:"patterns,omitempty" yaml:"patterns,omitempty"` // nil uses the built-in tables

	// Question/answer generation
	QA qagen.Config `json:"qa" yaml:"qa"`

	// Merge thresholds
	Merge merge.Config `json:"merge" yaml:"merge"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // deepseek, ollama, lmstudio, openai, groq, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.goqa/goqa.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "goqa",
		StorageDir: "home",
		OutputDir:  "output",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "qwen2.5:7b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		ChunkSize:    2000,
		ChunkOverlap: 100,
		MinClauses:   2,
		QA: qagen.Config{
			MaxQuestions:   3,
			MinParagraph:   100,
			MaxParagraph:   300,
			CleanBlockSize: 2000,
		},
		Merge:        merge.DefaultConfig(),
		EmbeddingDim: 768,
	}
}

// LoadConfig reads a YAML (or, for .json files, JSON) config file on top
// of DefaultConfig, applies GOQA_* environment overrides and validates the
// result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	cfg.DBPath = expandHome(cfg.DBPath)
	cfg.OutputDir = expandHome(cfg.OutputDir)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envOverrides maps environment variables to the string fields they set.
func (c *Config) envOverrides() map[string]*string {
	return map[string]*string{
		"GOQA_DB_PATH":            &c.DBPath,
		"GOQA_OUTPUT_DIR":         &c.OutputDir,
		"GOQA_CHAT_PROVIDER":      &c.Chat.Provider,
		"GOQA_CHAT_MODEL":         &c.Chat.Model,
		"GOQA_CHAT_BASE_URL":      &c.Chat.BaseURL,
		"GOQA_CHAT_API_KEY":       &c.Chat.APIKey,
		"GOQA_EMBEDDING_PROVIDER": &c.Embedding.Provider,
		"GOQA_EMBEDDING_MODEL":    &c.Embedding.Model,
		"GOQA_EMBEDDING_BASE_URL": &c.Embedding.BaseURL,
		"GOQA_EMBEDDING_API_KEY":  &c.Embedding.APIKey,
		"GOQA_IMGBB_API_KEY":      &c.ImageHost.APIKey,
	}
}

// ApplyEnv overrides fields from non-empty GOQA_* environment variables.
// GOQA_EMBEDDING_DIM is parsed as an integer and ignored when malformed.
func (c *Config) ApplyEnv() {
	for name, field := range c.envOverrides() {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("GOQA_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingDim = n
		}
	}
}

// Validate checks that the config has usable values.
func (c *Config) Validate() error {
	var errs []string

	if c.EmbeddingDim <= 0 {
		errs = append(errs, "embedding_dim must be positive")
	}
	if c.ChunkSize < 0 {
		errs = append(errs, "chunk_size must not be negative")
	}
	if c.Chat.Provider == "" {
		errs = append(errs, "chat.provider is required")
	}
	if c.Embedding.Provider == "" {
		errs = append(errs, "embedding.provider is required")
	}
	for name, v := range map[string]float64{
		"merge.total_threshold":    c.Merge.TotalThreshold,
		"merge.question_threshold": c.Merge.QuestionThreshold,
	} {
		if v < -1 || v > 1 {
			errs = append(errs, name+" must be between -1 and 1")
		}
	}
	if c.QA.MinParagraph > 0 && c.QA.MaxParagraph > 0 && c.QA.MinParagraph > c.QA.MaxParagraph {
		errs = append(errs, "qa.min_paragraph must not exceed qa.max_paragraph")
	}
	if c.Patterns != nil {
		if _, err := c.Patterns.Compile(); err != nil {
			errs = append(errs, fmt.Sprintf("patterns: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "goqa"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".goqa", name+".db")
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
