package parser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// ExtractorConfig locates the side outputs of extraction.
type ExtractorConfig struct {
	ImageDir string   // Root of the per-document <base>image/ directories
	MapDir   string   // Where <base>_image_map.json is written; empty skips it
	Uploader Uploader // Image host; nil keeps local paths
}

// Extractor turns documents into text plus an image map.
type Extractor struct {
	cfg      ExtractorConfig
	registry *Registry
}

// NewExtractor returns an Extractor using the built-in parsers.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.ImageDir == "" {
		cfg.ImageDir = "images"
	}
	return &Extractor{cfg: cfg, registry: NewRegistry()}
}

// Registry exposes the parser registry so callers can override formats.
func (e *Extractor) Registry() *Registry { return e.registry }

// BaseName returns the file name without directory and extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Extract parses path, stores its images and, when MapDir is set, saves
// the image map next to the other per-document outputs.
func (e *Extractor) Extract(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	ft, err := FileTypeFromPath(path)
	if err != nil {
		return nil, err
	}
	p, err := e.registry.Get(ft)
	if err != nil {
		return nil, err
	}

	base := BaseName(path)
	sink := NewImageSink(filepath.Join(e.cfg.ImageDir, base+"image"), e.cfg.Uploader)

	res, err := p.Parse(ctx, path, sink)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	res.Images = sink.Images()

	if e.cfg.MapDir != "" {
		if _, err := SaveImageMap(e.cfg.MapDir, base, res.Images); err != nil {
			return nil, err
		}
	}

	slog.Info("parser: extracted",
		"path", path,
		"type", ft.String(),
		"runes", len([]rune(res.Text)),
		"images", res.Images.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}
