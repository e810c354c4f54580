// Package goqa builds question/answer datasets from documents: it
// extracts text and images, chunks the text, asks a chat model for
// questions and answers, and folds the results into a deduplicated store.
package goqa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/goqa/boundary"
	"github.com/brunobiangulo/goqa/chunker"
	"github.com/brunobiangulo/goqa/imagehost"
	"github.com/brunobiangulo/goqa/llm"
	"github.com/brunobiangulo/goqa/merge"
	"github.com/brunobiangulo/goqa/parser"
	"github.com/brunobiangulo/goqa/qagen"
	"github.com/brunobiangulo/goqa/store"
)

// Engine is the main entry point of the dataset builder.
type Engine interface {
	// Extract parses a document, stores its images and writes the image map.
	Extract(ctx context.Context, path string) (*parser.Result, error)

	// Chunk extracts and chunks a document and writes the chunk file.
	Chunk(ctx context.Context, path string) ([]string, error)

	// Questions generates questions from the document's chunk file,
	// chunking first when it is missing, and writes the questions file.
	Questions(ctx context.Context, path string) ([]qagen.Item, error)

	// Answers answers the document's questions file and writes the
	// answers file.
	Answers(ctx context.Context, path string) ([]qagen.Item, error)

	// Process runs the whole pipeline for one document and merges the
	// answered items into the store. Unchanged documents are skipped.
	Process(ctx context.Context, path string, opts ...ProcessOption) (*Report, error)

	// ProcessDir processes every supported file under dir.
	ProcessDir(ctx context.Context, dir string, opts ...ProcessOption) ([]Report, error)

	// InsertOrMerge folds a single triple into the store.
	InsertOrMerge(ctx context.Context, t merge.Triple) (merge.Outcome, error)

	// MergeItems folds answered items into the store.
	MergeItems(ctx context.Context, items []qagen.Item) (MergeSummary, error)

	// ImportPairs stores items in the pair table, ignoring repeats of the
	// same context and question.
	ImportPairs(ctx context.Context, items []qagen.Item) (ImportSummary, error)

	// Search returns the stored records whose question is closest to query.
	Search(ctx context.Context, query string, k int) ([]store.RecordMatch, error)

	// SearchPairs returns the imported pairs closest to query.
	SearchPairs(ctx context.Context, query string, k int) ([]store.PairMatch, error)

	// ListDocuments returns all processed documents.
	ListDocuments(ctx context.Context) ([]store.Document, error)

	// DeleteDocument forgets a processed document so the next Process
	// run handles it again. Its QA records stay in the store.
	DeleteDocument(ctx context.Context, id int64) error

	// Paths returns the artefact locations for a document.
	Paths(path string) Paths

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Option customises New.
type Option func(*engine)

// WithChatProvider replaces the chat provider built from Config.Chat.
func WithChatProvider(p qagen.Chatter) Option {
	return func(e *engine) { e.chat = p }
}

// WithEmbedder replaces the embedding provider built from Config.Embedding.
func WithEmbedder(emb merge.Embedder) Option {
	return func(e *engine) { e.embedder = emb }
}

// WithUploader replaces the image uploader.
func WithUploader(u parser.Uploader) Option {
	return func(e *engine) { e.uploader = u }
}

// ProcessOption configures a Process call.
type ProcessOption func(*processOptions)

type processOptions struct {
	forceReparse bool
}

// WithForceReparse processes the document even if its hash is unchanged.
func WithForceReparse() ProcessOption {
	return func(o *processOptions) { o.forceReparse = true }
}

// Report summarises one Process call.
type Report struct {
	Path       string `json:"path"`
	DocumentID int64  `json:"document_id"`
	Skipped    bool   `json:"skipped,omitempty"`
	Chunks     int    `json:"chunks"`
	Questions  int    `json:"questions"`
	Answers    int    `json:"answers"`
	MergeSummary
	Error string `json:"error,omitempty"`
}

// MergeSummary counts the outcomes of MergeItems.
type MergeSummary struct {
	Inserted int `json:"inserted"`
	Merged   int `json:"merged"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ImportSummary counts the outcomes of ImportPairs.
type ImportSummary struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Paths are the per-document artefact files under Config.OutputDir.
type Paths struct {
	Chunks    string `json:"chunks"`
	Questions string `json:"questions"`
	Answers   string `json:"answers"`
	ImageMap  string `json:"image_map"`
	ImageDir  string `json:"image_dir"`
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	chat      qagen.Chatter
	embedder  merge.Embedder
	uploader  parser.Uploader
	extractor *parser.Extractor
	chunkr    *chunker.Chunker
	gen       *qagen.Generator
	merger    *merge.Engine
}

// New creates a goqa engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}

	e := &engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}

	if e.chat == nil {
		p, err := llm.NewProvider(llm.Config{
			Provider: cfg.Chat.Provider,
			Model:    cfg.Chat.Model,
			BaseURL:  cfg.Chat.BaseURL,
			APIKey:   cfg.Chat.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		e.chat = p
	}
	if e.embedder == nil {
		p, err := llm.NewProvider(llm.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			BaseURL:  cfg.Embedding.BaseURL,
			APIKey:   cfg.Embedding.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		e.embedder = p
	}
	if e.uploader == nil {
		if cfg.ImageHost.APIKey != "" {
			e.uploader = imagehost.New(cfg.ImageHost)
		} else {
			e.uploader = imagehost.Local{}
		}
	}

	var patterns *boundary.Patterns
	if cfg.Patterns != nil {
		p, err := cfg.Patterns.Compile()
		if err != nil {
			return nil, fmt.Errorf("%w: patterns: %v", ErrInvalidConfig, err)
		}
		patterns = p
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e.store = s

	e.extractor = parser.NewExtractor(parser.ExtractorConfig{
		ImageDir: filepath.Join(cfg.OutputDir, "images"),
		MapDir:   filepath.Join(cfg.OutputDir, "maps"),
		Uploader: e.uploader,
	})
	e.chunkr = chunker.New(chunker.Config{
		Size:       cfg.ChunkSize,
		Overlap:    cfg.ChunkOverlap,
		MinClauses: cfg.MinClauses,
		Patterns:   patterns,
	})
	qaCfg := cfg.QA
	if qaCfg.Model == "" {
		qaCfg.Model = cfg.Chat.Model
	}
	e.gen = qagen.New(e.chat, qaCfg)
	e.merger = merge.New(s, e.embedder, cfg.Merge)

	return e, nil
}

// Paths returns the artefact locations for a document.
func (e *engine) Paths(path string) Paths {
	base := parser.BaseName(path)
	out := e.cfg.OutputDir
	return Paths{
		Chunks:    filepath.Join(out, "chunks", base+"_chunks.txt"),
		Questions: filepath.Join(out, "questions", base+".json"),
		Answers:   filepath.Join(out, "answers", base+".json"),
		ImageMap:  parser.ImageMapPath(filepath.Join(out, "maps"), base),
		ImageDir:  filepath.Join(out, "images", base+"image"),
	}
}

// Extract parses a document and writes its image map.
func (e *engine) Extract(ctx context.Context, path string) (*parser.Result, error) {
	res, err := e.extractor.Extract(ctx, path)
	if err != nil {
		var unsupported *parser.UnsupportedFileTypeError
		if errors.As(err, &unsupported) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, unsupported.Ext)
		}
		return nil, fmt.Errorf("%w: %w", ErrParsingFailed, err)
	}
	return res, nil
}

// Chunk extracts and chunks a document and writes the chunk file.
func (e *engine) Chunk(ctx context.Context, path string) ([]string, error) {
	_, chunks, err := e.extractAndChunk(ctx, path)
	return chunks, err
}

func (e *engine) extractAndChunk(ctx context.Context, path string) (*parser.Result, []string, error) {
	res, err := e.Extract(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	chunks := e.chunkr.ChunkDocument(res.Text, e.cfg.Dedup)
	if len(chunks) == 0 {
		return res, nil, fmt.Errorf("%w: %s", ErrNoContent, filepath.Base(path))
	}
	if err := chunker.WriteFile(e.Paths(path).Chunks, chunks); err != nil {
		return res, nil, fmt.Errorf("writing chunks: %w", err)
	}
	slog.Info("ingest: chunking complete",
		"file", filepath.Base(path), "chunks", len(chunks),
		"tabular", res.Tabular, "size", e.chunkr.Size())
	return res, chunks, nil
}

// Questions generates questions from the chunk file, chunking first when
// the file is missing.
func (e *engine) Questions(ctx context.Context, path string) ([]qagen.Item, error) {
	p := e.Paths(path)
	chunks, err := chunker.ReadFile(p.Chunks)
	if errors.Is(err, os.ErrNotExist) {
		chunks, err = e.Chunk(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	images, err := parser.LoadImageMap(filepath.Dir(p.ImageMap), parser.BaseName(path))
	if err != nil {
		return nil, err
	}
	return e.questions(ctx, path, chunks, images)
}

func (e *engine) questions(ctx context.Context, path string, chunks []string, images *parser.ImageMap) ([]qagen.Item, error) {
	items, err := e.gen.GenerateQuestions(ctx, chunks, images)
	if err != nil {
		return nil, err
	}
	if err := qagen.WriteItems(e.Paths(path).Questions, items); err != nil {
		return nil, fmt.Errorf("writing questions: %w", err)
	}
	slog.Info("ingest: questions generated", "file", filepath.Base(path), "questions", len(items))
	return items, nil
}

// Answers answers the questions file of a document.
func (e *engine) Answers(ctx context.Context, path string) ([]qagen.Item, error) {
	p := e.Paths(path)
	items, err := qagen.ReadItems(p.Questions)
	if err != nil {
		return nil, fmt.Errorf("reading questions: %w", err)
	}
	images, err := parser.LoadImageMap(filepath.Dir(p.ImageMap), parser.BaseName(path))
	if err != nil {
		return nil, err
	}
	return e.answers(ctx, path, items, images)
}

func (e *engine) answers(ctx context.Context, path string, items []qagen.Item, images *parser.ImageMap) ([]qagen.Item, error) {
	answered, err := e.gen.GenerateAnswers(ctx, items, images)
	if err != nil {
		return nil, err
	}
	if err := qagen.WriteItems(e.Paths(path).Answers, answered); err != nil {
		return nil, fmt.Errorf("writing answers: %w", err)
	}
	slog.Info("ingest: answers generated", "file", filepath.Base(path), "answers", len(answered))
	return answered, nil
}

// InsertOrMerge folds a single triple into the store.
func (e *engine) InsertOrMerge(ctx context.Context, t merge.Triple) (merge.Outcome, error) {
	out, err := e.merger.InsertOrMerge(ctx, t)
	if err != nil && errors.Is(err, merge.ErrEmbedding) {
		return out, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return out, err
}

// MergeItems folds answered items into the store. Items whose answer
// generation failed are skipped; a failing item does not stop the rest.
func (e *engine) MergeItems(ctx context.Context, items []qagen.Item) (MergeSummary, error) {
	var sum MergeSummary
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if it.Answer == "" || it.Answer == qagen.AnswerFailed {
			sum.Skipped++
			continue
		}
		out, err := e.InsertOrMerge(ctx, merge.Triple{
			Context:   it.Context,
			Question:  it.Question,
			Answer:    it.Answer,
			ImageRefs: it.Images,
		})
		if err != nil {
			slog.Warn("merge: item failed", "question", truncate(it.Question, 40), "error", err)
			sum.Failed++
			continue
		}
		switch out.Kind {
		case merge.Inserted:
			sum.Inserted++
		case merge.Merged:
			sum.Merged++
		}
	}
	return sum, nil
}

// ImportPairs stores items in the pair table.
func (e *engine) ImportPairs(ctx context.Context, items []qagen.Item) (ImportSummary, error) {
	var sum ImportSummary
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		vecs, err := e.embedder.Embed(ctx, []string{it.Context + " " + it.Question})
		if err != nil || len(vecs) != 1 {
			slog.Warn("import: embedding failed", "question", truncate(it.Question, 40), "error", err)
			sum.Failed++
			continue
		}
		inserted, err := e.store.ImportPair(ctx, store.Pair{
			Context:   it.Context,
			Question:  it.Question,
			Answer:    it.Answer,
			Embedding: vecs[0],
		})
		if err != nil {
			slog.Warn("import: insert failed", "question", truncate(it.Question, 40), "error", err)
			sum.Failed++
			continue
		}
		if inserted {
			sum.Inserted++
		} else {
			sum.Skipped++
		}
	}
	return sum, nil
}

// Search returns the records whose question embedding is closest to query.
func (e *engine) Search(ctx context.Context, query string, k int) ([]store.RecordMatch, error) {
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.store.SearchRecords(ctx, vec, k)
}

// SearchPairs returns the imported pairs closest to query.
func (e *engine) SearchPairs(ctx context.Context, query string, k int) ([]store.PairMatch, error) {
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.store.SearchPairs(ctx, vec, k)
}

func (e *engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors", ErrEmbeddingFailed, len(vecs))
	}
	return vecs[0], nil
}

// ListDocuments returns all processed documents.
func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

// DeleteDocument removes the document row; see Engine.
func (e *engine) DeleteDocument(ctx context.Context, id int64) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	slog.Info("goqa: document deleted", "id", id)
	return nil
}

// Store returns the underlying store.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close cleanly shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
