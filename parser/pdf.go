package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brunobiangulo/goqa/boundary"
	"github.com/ledongthuc/pdf"
	"github.com/tsawler/tabula/reader"
)

// PDFParser handles PDF files.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []FileType { return []FileType{FileTypePDF} }

// Parse rebuilds each page's lines from positioned text runs, drops
// page-number lines, merges the rest into paragraphs and appends one
// placeholder paragraph per extracted image.
func (p *PDFParser) Parse(ctx context.Context, path string, sink *ImageSink) (*Result, error) {
	f, doc, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	images := openPDFImages(path)
	defer images.Close()

	totalPages := doc.NumPage()
	var paragraphs []string
	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		if text := pageText(page, i); text != "" {
			paragraphs = append(paragraphs, text)
		}
		paragraphs = append(paragraphs, images.page(ctx, i, sink)...)
	}

	return &Result{
		Text:  strings.Join(paragraphs, "\n\n"),
		Pages: totalPages,
	}, nil
}

func pageText(page pdf.Page, pageNum int) string {
	var lines []string
	if runs, ok := pageRuns(page, pageNum); ok && len(runs) > 0 {
		lines = assembleLines(runs)
	} else {
		plain, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("pdf: skipping page text", "page", pageNum, "error", err)
			return ""
		}
		lines = strings.Split(plain, "\n")
	}

	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if boundary.IsNumbering(l) {
			continue
		}
		kept = append(kept, l)
	}
	return boundary.MergePDFLinesToParagraphs(strings.Join(kept, "\n"), boundary.DefaultMinLineLength)
}

// pageRuns reads the positioned text of a page. Malformed content streams
// make the pdf package panic, which is reported as ok == false.
func pageRuns(page pdf.Page, pageNum int) (runs []textRun, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pdf: content stream unreadable", "page", pageNum, "panic", r)
			runs, ok = nil, false
		}
	}()

	for _, t := range page.Content().Text {
		runs = append(runs, textRun{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
	}
	return runs, true
}

// pdfImages reads page image XObjects through a second parse of the file.
// A file the image reader cannot open yields text only.
type pdfImages struct {
	r *reader.Reader
}

func openPDFImages(path string) *pdfImages {
	r, err := reader.Open(path)
	if err != nil {
		slog.Debug("pdf: image reader unavailable", "path", path, "error", err)
		return &pdfImages{}
	}
	return &pdfImages{r: r}
}

func (pi *pdfImages) Close() {
	if pi.r != nil {
		pi.r.Close()
	}
}

// page stores every image of page pageNum (1-based) and returns their
// placeholders in resource-name order.
func (pi *pdfImages) page(ctx context.Context, pageNum int, sink *ImageSink) []string {
	if pi.r == nil || sink == nil {
		return nil
	}
	page, err := pi.r.GetPage(pageNum - 1)
	if err != nil {
		slog.Debug("pdf: no image page", "page", pageNum, "error", err)
		return nil
	}
	images, err := pi.r.ExtractPageImages(page)
	if err != nil {
		slog.Debug("pdf: reading images failed", "page", pageNum, "error", err)
		return nil
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })

	var placeholders []string
	for i := range images {
		ext, data, err := imageFile(&images[i])
		if err != nil {
			slog.Debug("pdf: skipping image", "page", pageNum, "name", images[i].Name, "error", err)
			continue
		}
		ph, err := sink.Add(ctx, fmt.Sprintf("image_%d_%d%s", pageNum, sink.Next(), ext), data)
		if err != nil {
			slog.Warn("pdf: storing image failed", "page", pageNum, "name", images[i].Name, "error", err)
			continue
		}
		placeholders = append(placeholders, ph)
	}
	return placeholders
}

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	jp2Magic  = []byte{0x00, 0x00, 0x00, 0x0c, 'j', 'P', ' ', ' '}
	j2kMagic  = []byte{0xff, 0x4f, 0xff, 0x51}
)

// imageFile picks the on-disk encoding of an extracted image. JPEG and
// JPEG 2000 streams are written as they are; decoded samples become PNG.
func imageFile(img *reader.PageImage) (ext string, data []byte, err error) {
	switch {
	case img.Filter == "DCTDecode" || bytes.HasPrefix(img.Data, jpegMagic):
		return ".jpg", img.Data, nil
	case img.Filter == "JPXDecode" || bytes.HasPrefix(img.Data, jp2Magic) || bytes.HasPrefix(img.Data, j2kMagic):
		return ".jp2", img.Data, nil
	}
	if img.Width <= 0 || img.Height <= 0 {
		return "", nil, fmt.Errorf("image size %dx%d", img.Width, img.Height)
	}
	data, err = img.ToPNG()
	if err != nil {
		return "", nil, fmt.Errorf("encoding png: %w", err)
	}
	return ".png", data, nil
}
