// Package server exposes a goqa engine over HTTP.
package server

import (
	"net/http"

	"github.com/brunobiangulo/goqa"
)

// Options configure the HTTP surface.
type Options struct {
	// APIKey enables bearer authentication when set. /health stays open.
	APIKey string
	// CORSOrigins is sent as Access-Control-Allow-Origin when set.
	CORSOrigins string
	// UploadDir receives multipart uploads; empty uses os.TempDir.
	UploadDir string
}

// NewHandler returns the routed handler wrapped in the middleware chain:
// recovery -> cors -> auth -> request id -> logging -> mux.
func NewHandler(e goqa.Engine, opts Options) http.Handler {
	h := &handler{engine: e, uploadDir: opts.UploadDir}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /records", h.handleRecords)
	mux.HandleFunc("POST /pairs", h.handlePairs)
	mux.HandleFunc("GET /search", h.handleSearch)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("GET /health", h.handleHealth)

	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = authMiddleware(opts.APIKey, handler)
	handler = corsMiddleware(opts.CORSOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}
