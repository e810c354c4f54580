// Package qagen turns chunks into question/answer items with a chat model.
package qagen

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/goqa/llm"
	"github.com/brunobiangulo/goqa/parser"
	"golang.org/x/time/rate"
)

const (
	// AnswerFailed is the answer recorded when the model call fails.
	AnswerFailed = "生成失败"
	// NoAnswer is the answer for questions the text cannot answer.
	NoAnswer = "无法在文本中找到答案"
)

// Chatter is the subset of llm.Provider the generator needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Rules are optional free-text instructions appended to the cleaning prompt.
type Rules struct {
	Global string `json:"global,omitempty" yaml:"global,omitempty"`
	Clean  string `json:"clean,omitempty" yaml:"clean,omitempty"`
}

// Config controls generation.
type Config struct {
	Model             string  `json:"model,omitempty" yaml:"model,omitempty"`
	MaxQuestions      int     `json:"max_questions" yaml:"max_questions"`
	MinParagraph      int     `json:"min_paragraph" yaml:"min_paragraph"`
	MaxParagraph      int     `json:"max_paragraph" yaml:"max_paragraph"`
	CleanBlockSize    int     `json:"clean_block_size" yaml:"clean_block_size"`
	CleanQuestions    bool    `json:"clean_questions" yaml:"clean_questions"`
	Rules             Rules   `json:"rules" yaml:"rules"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
	Burst             int     `json:"burst" yaml:"burst"`
}

// Generator drives the chat model for questions, answers and cleaning.
type Generator struct {
	chat    Chatter
	cfg     Config
	limiter *rate.Limiter
}

// New returns a Generator. Zero-value fields get defaults: 3 questions per
// paragraph, paragraphs of 100 to 300 runes, 2000-rune cleaning blocks.
func New(chat Chatter, cfg Config) *Generator {
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 3
	}
	if cfg.MinParagraph <= 0 {
		cfg.MinParagraph = 100
	}
	if cfg.MaxParagraph <= 0 {
		cfg.MaxParagraph = 300
	}
	if cfg.CleanBlockSize <= 0 {
		cfg.CleanBlockSize = 2000
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		if cfg.Burst <= 0 {
			cfg.Burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return &Generator{chat: chat, cfg: cfg, limiter: limiter}
}

// Config returns the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

func (g *Generator) complete(ctx context.Context, p prompt, temperature float64, maxTokens int) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := g.chat.Chat(ctx, llm.ChatRequest{
		Model:       g.cfg.Model,
		Messages:    []llm.Message{llm.System(p.system), llm.User(p.user)},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Question is one generated question. Raw marks model output that was not
// a JSON array and is kept verbatim.
type Question struct {
	Text string
	Raw  bool
}

// Questions asks the model for at most maxCount questions about
// paragraph. A failed call yields no questions; unparsable output yields a
// single Raw question holding the model text.
func (g *Generator) Questions(ctx context.Context, paragraph string, maxCount int) []Question {
	if maxCount <= 0 {
		maxCount = g.cfg.MaxQuestions
	}
	start := time.Now()
	content, err := g.complete(ctx, questionPrompt(paragraph, maxCount), 0.7, 3000)
	if err != nil {
		slog.Warn("qagen: question generation failed", "error", err)
		return nil
	}

	texts, ok := parseQuestions(content)
	if !ok {
		slog.Warn("qagen: question output is not a JSON array, keeping raw text", "output_len", len(content))
		return []Question{{Text: content, Raw: true}}
	}
	if len(texts) > maxCount {
		texts = texts[:maxCount]
	}
	qs := make([]Question, 0, len(texts))
	for _, t := range texts {
		qs = append(qs, Question{Text: t})
	}
	slog.Debug("qagen: questions generated",
		"count", len(qs),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return qs
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// parseQuestions decodes a JSON array whose elements are strings or
// objects with a "question" field. Other elements are ignored.
func parseQuestions(content string) ([]string, bool) {
	content = strings.TrimSpace(content)
	if m := codeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil, false
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal(item, &obj); err == nil {
			if q := strings.TrimSpace(obj.Question); q != "" {
				out = append(out, q)
			}
		}
	}
	return out, true
}

// Answer answers question from paragraph. When either text carries an
// image placeholder known to images, the image reference is the answer and
// the model is not called.
func (g *Generator) Answer(ctx context.Context, paragraph, question string, images *parser.ImageMap) string {
	if ref, ok := imageAnswer(paragraph, question, images); ok {
		return ref
	}

	content, err := g.complete(ctx, answerPrompt(paragraph, question), 0.2, 3000)
	if err != nil {
		slog.Warn("qagen: answer generation failed", "error", err)
		return AnswerFailed
	}
	if content == "" {
		return NoAnswer
	}
	return content
}

func imageAnswer(paragraph, question string, images *parser.ImageMap) (string, bool) {
	for _, ph := range images.Placeholders() {
		if strings.Contains(question, ph) || strings.Contains(paragraph, ph) {
			ref, _ := images.Get(ph)
			return ref, true
		}
	}
	return "", false
}

// Clean asks the model to tidy text without rewriting it. Text is sent in
// paragraph-aligned blocks of at most CleanBlockSize runes; if any block
// fails the result is ("", false) and callers keep the original.
func (g *Generator) Clean(ctx context.Context, text string) (string, bool) {
	blocks := splitBlocks(text, g.cfg.CleanBlockSize)
	if len(blocks) == 0 {
		return "", false
	}
	cleaned := make([]string, 0, len(blocks))
	for i, block := range blocks {
		content, err := g.complete(ctx, cleanPrompt(block, g.cfg.Rules), 0, 3000)
		if err != nil {
			slog.Warn("qagen: cleaning failed", "block", i+1, "blocks", len(blocks), "error", err)
			return "", false
		}
		if content == "" {
			slog.Warn("qagen: cleaning returned nothing", "block", i+1, "blocks", len(blocks))
			return "", false
		}
		cleaned = append(cleaned, content)
	}
	return strings.Join(cleaned, "\n\n"), true
}
