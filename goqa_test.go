//go:build cgo

package goqa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/goqa/imagehost"
	"github.com/brunobiangulo/goqa/llm"
	"github.com/brunobiangulo/goqa/merge"
	"github.com/brunobiangulo/goqa/qagen"
	"github.com/brunobiangulo/goqa/store"
)

// scriptedChat answers by temperature: 0.7 asks for questions, 0.2 for an
// answer, 0 for cleaning.
type scriptedChat struct {
	mu        sync.Mutex
	questions string
	answer    string
	calls     int
}

func (c *scriptedChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	switch req.Temperature {
	case 0.7:
		return &llm.ChatResponse{Content: c.questions}, nil
	case 0.2:
		return &llm.ChatResponse{Content: c.answer}, nil
	default:
		return &llm.ChatResponse{Content: req.Messages[1].Content}, nil
	}
}

func (c *scriptedChat) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// keyedEmbedder maps texts containing a key to that key's vector.
type keyedEmbedder struct {
	keys     []string
	vecs     [][]float32
	fallback []float32
	err      error
}

func (e *keyedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.fallback
		for k, key := range e.keys {
			if strings.Contains(t, key) {
				out[i] = e.vecs[k]
				break
			}
		}
	}
	return out, nil
}

func constantEmbedder() *keyedEmbedder {
	return &keyedEmbedder{fallback: []float32{1, 0, 0, 0}}
}

func newTestEngine(t *testing.T, chat qagen.Chatter, emb merge.Embedder) (Engine, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "goqa.db")
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.EmbeddingDim = 4

	eng, err := New(cfg, WithChatProvider(chat), WithEmbedder(emb), WithUploader(imagehost.Local{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const contractText = "一、甲方应于每月1日支付餐费。\n二、乙方应提供正规发票。\n三、本合同一式两份。"

// ---------------------------------------------------------------------------
// Process
// ---------------------------------------------------------------------------

func TestProcessTextDocument(t *testing.T) {
	chat := &scriptedChat{questions: `["餐费何时支付？","发票由谁提供？"]`, answer: "每月1日"}
	eng, dir := newTestEngine(t, chat, constantEmbedder())
	ctx := context.Background()
	path := writeFile(t, filepath.Join(dir, "docs", "contract.txt"), contractText)

	r, err := eng.Process(ctx, path)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.Skipped || r.Chunks != 3 || r.Questions != 2 || r.Answers != 2 {
		t.Errorf("report = %+v", r)
	}
	// Identical embeddings: the second item merges into the first.
	if r.Inserted != 1 || r.Merged != 1 {
		t.Errorf("merge summary = %+v", r.MergeSummary)
	}

	p := eng.Paths(path)
	for _, f := range []string{p.Chunks, p.Questions, p.Answers, p.ImageMap} {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("artefact missing: %v", err)
		}
	}
	answers, err := qagen.ReadItems(p.Answers)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 || answers[0].Answer != "每月1日" {
		t.Errorf("answers file = %+v", answers)
	}

	docs, err := eng.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Status != store.StatusDone || docs[0].Records != 2 || docs[0].FileType != "txt" {
		t.Errorf("documents = %+v", docs)
	}
	if n, _ := eng.Store().CountRecords(ctx); n != 1 {
		t.Errorf("stored records = %d, want 1", n)
	}
}

func TestProcessSkipsUnchanged(t *testing.T) {
	chat := &scriptedChat{questions: `["问题？"]`, answer: "答案"}
	eng, dir := newTestEngine(t, chat, constantEmbedder())
	ctx := context.Background()
	path := writeFile(t, filepath.Join(dir, "a.txt"), contractText)

	first, err := eng.Process(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	calls := chat.count()

	again, err := eng.Process(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Skipped || again.DocumentID != first.DocumentID {
		t.Errorf("second report = %+v", again)
	}
	if chat.count() != calls {
		t.Errorf("model called again for unchanged document")
	}

	forced, err := eng.Process(ctx, path, WithForceReparse())
	if err != nil {
		t.Fatal(err)
	}
	if forced.Skipped || chat.count() == calls {
		t.Errorf("forced report = %+v, calls %d -> %d", forced, calls, chat.count())
	}
}

func TestDeleteDocumentAllowsReprocessing(t *testing.T) {
	chat := &scriptedChat{questions: `["问题？"]`, answer: "答案"}
	eng, dir := newTestEngine(t, chat, constantEmbedder())
	ctx := context.Background()
	path := writeFile(t, filepath.Join(dir, "a.txt"), contractText)

	first, err := eng.Process(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.DeleteDocument(ctx, first.DocumentID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if docs, _ := eng.ListDocuments(ctx); len(docs) != 0 {
		t.Errorf("documents after delete = %d", len(docs))
	}
	if n, _ := eng.Store().CountRecords(ctx); n != 1 {
		t.Errorf("records after delete = %d, want 1", n)
	}

	again, err := eng.Process(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Skipped {
		t.Error("deleted document was skipped")
	}

	if err := eng.DeleteDocument(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing document = %v, want ErrNotFound", err)
	}
}

func TestProcessUnsupported(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedChat{}, constantEmbedder())
	_, err := eng.Process(context.Background(), "slides.pptx")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestProcessEmptyDocumentFails(t *testing.T) {
	eng, dir := newTestEngine(t, &scriptedChat{}, constantEmbedder())
	ctx := context.Background()
	path := writeFile(t, filepath.Join(dir, "empty.txt"), "  \n\n")

	r, err := eng.Process(ctx, path)
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
	if r == nil || r.Error == "" {
		t.Fatalf("report = %+v", r)
	}
	doc, err := eng.Store().GetDocumentByPath(ctx, r.Path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != store.StatusFailed || doc.LastError == "" {
		t.Errorf("document = %+v", doc)
	}
}

func TestProcessDir(t *testing.T) {
	chat := &scriptedChat{questions: `["问题？"]`, answer: "答案"}
	eng, dir := newTestEngine(t, chat, constantEmbedder())
	src := filepath.Join(dir, "docs")
	writeFile(t, filepath.Join(src, "a.txt"), contractText)
	writeFile(t, filepath.Join(src, "notes.md"), "# ignored")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "春天来了，花开了。")
	writeFile(t, filepath.Join(src, "z_empty.txt"), "")

	reports, err := eng.ProcessDir(context.Background(), src)
	if err != nil {
		t.Fatalf("ProcessDir: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3: %+v", len(reports), reports)
	}
	var failed int
	for _, r := range reports {
		if r.Error != "" {
			failed++
			if !strings.HasSuffix(r.Path, "z_empty.txt") {
				t.Errorf("unexpected failure: %+v", r)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

// ---------------------------------------------------------------------------
// Step-by-step pipeline
// ---------------------------------------------------------------------------

func TestStepsReadPreviousArtefacts(t *testing.T) {
	chat := &scriptedChat{questions: `["餐费何时支付？"]`, answer: "每月1日"}
	eng, dir := newTestEngine(t, chat, constantEmbedder())
	ctx := context.Background()
	path := writeFile(t, filepath.Join(dir, "c.txt"), contractText)

	// Questions chunks on demand when no chunk file exists yet.
	qs, err := eng.Questions(ctx, path)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(qs) != 1 || qs[0].Answer != "" {
		t.Errorf("questions = %+v", qs)
	}

	as, err := eng.Answers(ctx, path)
	if err != nil {
		t.Fatalf("Answers: %v", err)
	}
	if len(as) != 1 || as[0].Answer != "每月1日" {
		t.Errorf("answers = %+v", as)
	}

	sum, err := eng.MergeItems(ctx, as)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Inserted != 1 {
		t.Errorf("merge summary = %+v", sum)
	}
}

func TestAnswersWithoutQuestionsFile(t *testing.T) {
	eng, dir := newTestEngine(t, &scriptedChat{}, constantEmbedder())
	if _, err := eng.Answers(context.Background(), filepath.Join(dir, "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

// ---------------------------------------------------------------------------
// Merge, import, search
// ---------------------------------------------------------------------------

func TestMergeItemsSkipsFailedAnswers(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedChat{}, constantEmbedder())
	items := []qagen.Item{
		{Context: "c", Question: "q1", Answer: qagen.AnswerFailed},
		{Context: "c", Question: "q2", Answer: ""},
		{Context: "c", Question: "q3", Answer: "a"},
	}
	sum, err := eng.MergeItems(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 2 || sum.Inserted != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestMergeItemsCountsEmbeddingFailures(t *testing.T) {
	emb := &keyedEmbedder{err: errors.New("offline")}
	eng, _ := newTestEngine(t, &scriptedChat{}, emb)
	ctx := context.Background()

	sum, err := eng.MergeItems(ctx, []qagen.Item{{Context: "c", Question: "q", Answer: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if n, _ := eng.Store().CountRecords(ctx); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}

	_, err = eng.InsertOrMerge(ctx, merge.Triple{Context: "c", Question: "q", Answer: "a"})
	if !errors.Is(err, ErrEmbeddingFailed) || !errors.Is(err, merge.ErrEmbedding) {
		t.Errorf("err = %v, want ErrEmbeddingFailed wrapping merge.ErrEmbedding", err)
	}
}

func TestImportPairs(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedChat{}, constantEmbedder())
	items := []qagen.Item{
		{Context: "c", Question: "q", Answer: "a"},
		{Context: "c", Question: "q", Answer: "other"},
		{Context: "c", Question: "q2", Answer: "a"},
	}
	sum, err := eng.ImportPairs(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Inserted != 2 || sum.Skipped != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestSearch(t *testing.T) {
	emb := &keyedEmbedder{
		keys:     []string{"付款", "发票"},
		vecs:     [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		fallback: []float32{0, 0, 1, 0},
	}
	eng, _ := newTestEngine(t, &scriptedChat{}, emb)
	ctx := context.Background()

	eng.InsertOrMerge(ctx, merge.Triple{Context: "合同正文", Question: "何时付款？", Answer: "每月1日"})
	eng.InsertOrMerge(ctx, merge.Triple{Context: "合同正文", Question: "谁开发票？", Answer: "乙方"})

	got, err := eng.Search(ctx, "发票", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Question != "谁开发票？" {
		t.Errorf("Search = %+v", got)
	}

	if _, err := eng.Search(ctx, "  ", 3); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestSearchPairs(t *testing.T) {
	emb := &keyedEmbedder{
		keys:     []string{"付款", "发票"},
		vecs:     [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		fallback: []float32{0, 0, 1, 0},
	}
	eng, _ := newTestEngine(t, &scriptedChat{}, emb)
	ctx := context.Background()

	eng.ImportPairs(ctx, []qagen.Item{
		{Context: "合同", Question: "何时付款？", Answer: "每月1日"},
		{Context: "合同", Question: "谁开发票？", Answer: "乙方"},
	})
	got, err := eng.SearchPairs(ctx, "付款", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Answer != "每月1日" {
		t.Errorf("SearchPairs = %+v", got)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbeddingDim = 0
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
