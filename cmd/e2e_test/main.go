package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/goqa"
)

// Runs the full pipeline against live providers. Defaults to a local
// Ollama; GOQA_* variables point it elsewhere.
//
//	go run ./cmd/e2e_test path/to/contract.docx "餐费何时支付？"
func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: e2e_test <document> [query]")
		os.Exit(2)
	}
	docPath := os.Args[1]
	query := "合同的付款方式是什么？"
	if len(os.Args) > 2 {
		query = os.Args[2]
	}

	tmpDir, _ := os.MkdirTemp("", "goqa-e2e-*")
	defer os.RemoveAll(tmpDir)

	cfg := goqa.DefaultConfig()
	cfg.ApplyEnv()
	cfg.DBPath = filepath.Join(tmpDir, "test.db")
	cfg.OutputDir = filepath.Join(tmpDir, "out")

	engine, err := goqa.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n=== PROCESSING %s ===\n", docPath)
	report, err := engine.Process(ctx, docPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "chunks=%d questions=%d inserted=%d merged=%d skipped=%d failed=%d\n",
		report.Chunks, report.Questions, report.Inserted, report.Merged, report.Skipped, report.Failed)

	fmt.Fprintf(os.Stderr, "\n=== SEARCHING: %s ===\n", query)
	matches, err := engine.Search(ctx, query, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search error: %v\n", err)
		os.Exit(1)
	}

	type recordView struct {
		ID         int64    `json:"id"`
		Question   string   `json:"question"`
		Answer     string   `json:"answer"`
		Score      float64  `json:"score"`
		Snippet    string   `json:"snippet,omitempty"`
		ContextLen int      `json:"context_length"`
		ImageRefs  []string `json:"image_refs,omitempty"`
	}

	views := make([]recordView, 0, len(matches))
	for _, m := range matches {
		views = append(views, recordView{
			ID:         m.ID,
			Question:   m.Question,
			Answer:     m.Answer,
			Score:      m.Score,
			Snippet:    goqa.Snippet(m.Context, m.Answer),
			ContextLen: len([]rune(m.Context)),
			ImageRefs:  m.ImageRefs,
		})
	}

	out, _ := json.MarshalIndent(views, "", "  ")
	fmt.Println(string(out))
}
