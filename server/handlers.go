package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/goqa"
	"github.com/brunobiangulo/goqa/merge"
	"github.com/brunobiangulo/goqa/qagen"
	"github.com/brunobiangulo/goqa/store"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 100
	maxUploadBytes     = 100 << 20
)

type handler struct {
	engine    goqa.Engine
	uploadDir string
}

// POST /ingest
// Accepts a multipart file upload or JSON with a file or directory path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.ingestUpload(ctx, w, r)
		return
	}

	var req struct {
		Path  string `json:"path"`
		Force bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "path must exist")
		return
	}

	var opts []goqa.ProcessOption
	if req.Force {
		opts = append(opts, goqa.WithForceReparse())
	}

	if info.IsDir() {
		reports, err := h.engine.ProcessDir(ctx, absPath, opts...)
		if err != nil {
			writeError(w, statusFor(err), "ingestion failed")
			slog.Error("ingest error", "path", absPath, "error", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
		return
	}

	report, err := h.engine.Process(ctx, absPath, opts...)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		slog.Error("ingest error", "path", absPath, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) ingestUpload(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	// Sanitise filename to prevent path traversal.
	safeName := filepath.Base(header.Filename)
	if safeName == "." || safeName == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	tmpDir, err := os.MkdirTemp(h.uploadDir, "goqa-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating upload dir", "error", err)
		return
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, safeName)
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	dst.Close()

	opts := []goqa.ProcessOption{goqa.WithForceReparse()}
	report, err := h.engine.Process(ctx, tmpPath, opts...)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		slog.Error("ingest error", "filename", safeName, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /records
func (h *handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	var t merge.Triple
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(t.Question) == "" || strings.TrimSpace(t.Answer) == "" {
		writeError(w, http.StatusBadRequest, "question and answer are required")
		return
	}

	out, err := h.engine.InsertOrMerge(r.Context(), t)
	if err != nil {
		writeError(w, statusFor(err), "insert failed")
		slog.Error("insert error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":   out.Kind.String(),
		"record_id": out.RecordID,
	})
}

// POST /pairs
func (h *handler) handlePairs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []qagen.Item `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items are required")
		return
	}

	sum, err := h.engine.ImportPairs(r.Context(), req.Items)
	if err != nil {
		writeError(w, statusFor(err), "import failed")
		slog.Error("import error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type recordHit struct {
	store.RecordMatch
	Snippet string `json:"snippet,omitempty"`
}

// GET /search?q=&k=&pairs=
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	k := defaultSearchLimit
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = min(n, maxSearchLimit)
	}

	if pairs, _ := strconv.ParseBool(q.Get("pairs")); pairs {
		matches, err := h.engine.SearchPairs(r.Context(), query, k)
		if err != nil {
			writeError(w, statusFor(err), "search failed")
			slog.Error("search error", "query", query, "error", err)
			return
		}
		if matches == nil {
			matches = []store.PairMatch{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": matches})
		return
	}

	matches, err := h.engine.Search(r.Context(), query, k)
	if err != nil {
		writeError(w, statusFor(err), "search failed")
		slog.Error("search error", "query", query, "error", err)
		return
	}
	hits := make([]recordHit, len(matches))
	for i, m := range matches {
		hits[i] = recordHit{RecordMatch: m, Snippet: goqa.Snippet(m.Context, m.Answer)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": hits})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("delete document error", "id", id, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s := h.engine.Store(); s != nil {
		stats, err := s.DBStats(r.Context())
		if err != nil {
			slog.Warn("health: stats unavailable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		resp["stats"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, goqa.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, goqa.ErrEmptyQuery), errors.Is(err, goqa.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, goqa.ErrEmbeddingFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
