package qagen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/goqa/parser"
)

// Item is one question/answer entry as written to the questions and
// answers files.
type Item struct {
	Context  string   `json:"context"`
	Question string   `json:"question"`
	Answer   string   `json:"answer,omitempty"`
	Images   []string `json:"images"`
}

// ImageRefs resolves the placeholders in text through images, in order of
// appearance. Unknown placeholders are skipped.
func ImageRefs(text string, images *parser.ImageMap) []string {
	refs := []string{}
	for _, ph := range parser.FindPlaceholders(text) {
		if ref, ok := images.Get(ph); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// GenerateQuestions merges chunks into paragraphs and asks for questions
// on each. Raw (unparsed) model output is dropped. With CleanQuestions set
// every question is cleaned, keeping the original when cleaning fails.
func (g *Generator) GenerateQuestions(ctx context.Context, chunks []string, images *parser.ImageMap) ([]Item, error) {
	paragraphs := MergeParagraphs(chunks, g.cfg.MinParagraph, g.cfg.MaxParagraph)
	slog.Info("qagen: generating questions", "paragraphs", len(paragraphs))

	var items []Item
	for i, para := range paragraphs {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		start := time.Now()
		refs := ImageRefs(para, images)

		kept := 0
		for _, q := range g.Questions(ctx, para, g.cfg.MaxQuestions) {
			if q.Raw {
				continue
			}
			text := q.Text
			if g.cfg.CleanQuestions {
				if cleaned, ok := g.Clean(ctx, text); ok {
					text = cleaned
				}
			}
			items = append(items, Item{Context: para, Question: text, Images: refs})
			kept++
		}
		slog.Debug("qagen: paragraph done",
			"paragraph", i+1,
			"questions", kept,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	return items, nil
}

// GenerateAnswers fills in the Answer of every item.
func (g *Generator) GenerateAnswers(ctx context.Context, items []Item, images *parser.ImageMap) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		it.Answer = g.Answer(ctx, it.Context, it.Question, images)
		if it.Images == nil {
			it.Images = ImageRefs(it.Context, images)
		}
		out = append(out, it)
		slog.Debug("qagen: answered", "item", i+1, "items", len(items))
	}
	return out, nil
}

// WriteItems writes items as indented JSON, creating parent directories.
func WriteItems(path string, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadItems reads a questions or answers file.
func ReadItems(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return items, nil
}
