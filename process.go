package goqa

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/goqa/parser"
	"github.com/brunobiangulo/goqa/store"
)

// Process runs extraction, chunking, question and answer generation and
// merging for one document, writing every artefact on the way.
func (e *engine) Process(ctx context.Context, path string, opts ...ProcessOption) (*Report, error) {
	options := &processOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	ft, err := parser.FileTypeFromPath(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(absPath))
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}

	report := &Report{Path: absPath}
	if !options.forceReparse {
		existing, err := e.store.GetDocumentByPath(ctx, absPath)
		if err == nil && existing.ContentHash == hash && existing.Status == store.StatusDone {
			slog.Info("ingest: document unchanged, skipping", "file", existing.Filename, "doc_id", existing.ID)
			report.DocumentID = existing.ID
			report.Skipped = true
			return report, nil
		}
	}

	filename := filepath.Base(absPath)
	doc := store.Document{
		Path:        absPath,
		Filename:    filename,
		FileType:    ft.String(),
		ContentHash: hash,
		Status:      store.StatusPending,
	}
	docID, err := e.store.UpsertDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("upserting document: %w", err)
	}
	report.DocumentID = docID

	start := time.Now()
	slog.Info("ingest: processing document", "file", filename, "type", ft.String(), "doc_id", docID)

	fail := func(err error) (*Report, error) {
		report.Error = err.Error()
		if uerr := e.store.UpdateDocumentStatus(ctx, docID, store.StatusFailed, err.Error()); uerr != nil {
			slog.Warn("ingest: could not record failure", "doc_id", docID, "error", uerr)
		}
		return report, err
	}

	res, chunks, err := e.extractAndChunk(ctx, absPath)
	if err != nil {
		return fail(err)
	}
	report.Chunks = len(chunks)

	items, err := e.questions(ctx, absPath, chunks, res.Images)
	if err != nil {
		return fail(err)
	}
	report.Questions = len(items)

	answered, err := e.answers(ctx, absPath, items, res.Images)
	if err != nil {
		return fail(err)
	}
	report.Answers = len(answered)

	sum, err := e.MergeItems(ctx, answered)
	report.MergeSummary = sum
	if err != nil {
		return fail(err)
	}

	doc.Status = store.StatusDone
	doc.Chunks = report.Chunks
	doc.Questions = report.Questions
	doc.Records = sum.Inserted + sum.Merged
	if _, err := e.store.UpsertDocument(ctx, doc); err != nil {
		return report, fmt.Errorf("updating document: %w", err)
	}

	slog.Info("ingest: document ready",
		"file", filename, "doc_id", docID,
		"chunks", report.Chunks, "questions", report.Questions,
		"inserted", sum.Inserted, "merged", sum.Merged, "failed", sum.Failed,
		"total_elapsed", time.Since(start).Round(time.Millisecond))
	return report, nil
}

// ProcessDir walks dir and processes every supported file in lexical
// order. Unsupported files are skipped; a failing document is reported
// and the walk continues.
func (e *engine) ProcessDir(ctx context.Context, dir string, opts ...ProcessOption) ([]Report, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip our own output tree when it lives inside dir.
			if abs, _ := filepath.Abs(path); abs == e.absOutputDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := parser.FileTypeFromPath(path); err != nil {
			slog.Debug("ingest: skipping unsupported file", "path", path)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	reports := make([]Report, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := e.Process(ctx, path, opts...)
		if err != nil {
			slog.Error("ingest: document failed", "path", path, "error", err)
			if r == nil {
				r = &Report{Path: path}
			}
			r.Error = err.Error()
			if errors.Is(err, context.Canceled) {
				reports = append(reports, *r)
				return reports, err
			}
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

func (e *engine) absOutputDir() string {
	abs, err := filepath.Abs(e.cfg.OutputDir)
	if err != nil {
		return e.cfg.OutputDir
	}
	return abs
}
