package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/brunobiangulo/goqa/boundary"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DOCXParser handles Word (.docx) documents.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []FileType { return []FileType{FileTypeDOCX} }

// Parse returns the body paragraphs joined by blank lines. Each embedded
// image is stored through sink and its placeholder appended to the
// paragraph holding it. Tables become markdown blocks fenced by
// boundary.SplitSign.
func (p *DOCXParser) Parse(ctx context.Context, path string, sink *ImageSink) (*Result, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	fileIndex := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileIndex[f.Name] = f
	}

	docFile := fileIndex["word/document.xml"]
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}
	data, err := readZipFile(docFile)
	if err != nil {
		return nil, fmt.Errorf("reading document.xml: %w", err)
	}

	w := &docxWalker{
		ctx:       ctx,
		rels:      parseDocxRels(fileIndex),
		fileIndex: fileIndex,
		sink:      sink,
	}
	blocks, err := w.walk(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}
	return &Result{Text: strings.Join(blocks, "\n\n")}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// parseDocxRels reads word/_rels/document.xml.rels and returns a map of rId -> target path.
func parseDocxRels(fileIndex map[string]*zip.File) map[string]string {
	relsFile := fileIndex["word/_rels/document.xml.rels"]
	if relsFile == nil {
		return nil
	}
	data, err := readZipFile(relsFile)
	if err != nil {
		return nil
	}

	var rels docxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}

	result := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		if rel.TargetMode == "External" {
			continue
		}
		result[rel.ID] = rel.Target
	}
	return result
}

// docxRelationships represents the .rels XML structure.
type docxRelationships struct {
	XMLName xml.Name           `xml:"Relationships"`
	Rels    []docxRelationship `xml:"Relationship"`
}

type docxRelationship struct {
	ID         string `xml:"Id,attr"`
	Target     string `xml:"Target,attr"`
	Type       string `xml:"Type,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// docxWalker streams document.xml once, in document order.
type docxWalker struct {
	ctx       context.Context
	rels      map[string]string
	fileIndex map[string]*zip.File
	sink      *ImageSink

	blocks []string

	paraDepth    int
	para         strings.Builder
	placeholders []string
	inText       bool

	tableDepth int
	rows       [][]string
	row        []string
	cell       []string
}

func (w *docxWalker) walk(data []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			if err := w.end(t); err != nil {
				return nil, err
			}
		case xml.CharData:
			if w.inText && w.paraDepth > 0 {
				w.para.Write(t)
			}
		}
	}
	return w.blocks, nil
}

func (w *docxWalker) start(t xml.StartElement) {
	if t.Name.Local == "blip" {
		if ph := w.image(t); ph != "" {
			w.placeholders = append(w.placeholders, ph)
		}
		return
	}
	if t.Name.Space != wordNS {
		return
	}

	switch t.Name.Local {
	case "p":
		w.paraDepth++
		if w.paraDepth == 1 {
			w.para.Reset()
			w.placeholders = nil
		}
	case "t":
		w.inText = true
	case "tab":
		if w.paraDepth > 0 {
			w.para.WriteByte('\t')
		}
	case "br", "cr":
		if w.paraDepth > 0 {
			w.para.WriteByte('\n')
		}
	case "tbl":
		w.tableDepth++
		if w.tableDepth == 1 {
			w.rows = nil
		}
	case "tr":
		if w.tableDepth == 1 {
			w.row = nil
		}
	case "tc":
		if w.tableDepth == 1 {
			w.cell = nil
		}
	}
}

func (w *docxWalker) end(t xml.EndElement) error {
	if t.Name.Space != wordNS {
		return nil
	}

	switch t.Name.Local {
	case "t":
		w.inText = false
	case "p":
		if w.paraDepth == 0 {
			return nil
		}
		w.paraDepth--
		if w.paraDepth > 0 {
			return nil
		}
		if err := w.ctx.Err(); err != nil {
			return err
		}
		text := strings.TrimSpace(w.para.String())
		for _, ph := range w.placeholders {
			text += " " + ph
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		if w.tableDepth > 0 {
			w.cell = append(w.cell, text)
		} else {
			w.blocks = append(w.blocks, text)
		}
	case "tc":
		if w.tableDepth == 1 {
			w.row = append(w.row, strings.Join(w.cell, " "))
		}
	case "tr":
		if w.tableDepth == 1 {
			w.rows = append(w.rows, w.row)
		}
	case "tbl":
		if w.tableDepth == 0 {
			return nil
		}
		w.tableDepth--
		if w.tableDepth == 0 {
			if md := markdownTable(w.rows); md != "" {
				w.blocks = append(w.blocks, boundary.SplitSign+"\n"+md+"\n"+boundary.SplitSign)
			}
		}
	}
	return nil
}

// image stores the picture referenced by a blip element and returns its
// placeholder, or "" when the picture cannot be resolved.
func (w *docxWalker) image(t xml.StartElement) string {
	if w.rels == nil || w.sink == nil {
		return ""
	}
	var embedID string
	for _, attr := range t.Attr {
		if attr.Name.Local == "embed" {
			embedID = attr.Value
			break
		}
	}
	if embedID == "" {
		return ""
	}
	target, ok := w.rels[embedID]
	if !ok {
		return ""
	}

	var mediaPath string
	if strings.HasPrefix(target, "/") {
		mediaPath = strings.TrimPrefix(target, "/")
	} else {
		mediaPath = path.Clean("word/" + strings.ReplaceAll(target, "\\", "/"))
	}

	zf := w.fileIndex[mediaPath]
	if zf == nil {
		slog.Debug("docx: image file not found in ZIP", "path", mediaPath, "rId", embedID)
		return ""
	}
	ext := imageExt(zf.Name)
	if ext == "" {
		return ""
	}
	data, err := readZipFile(zf)
	if err != nil {
		slog.Debug("docx: failed to read image file", "path", mediaPath, "error", err)
		return ""
	}

	ph, err := w.sink.Add(w.ctx, fmt.Sprintf("image_%d%s", w.sink.Next(), ext), data)
	if err != nil {
		slog.Warn("docx: storing image failed", "path", mediaPath, "error", err)
		return ""
	}
	return ph
}

// imageExt returns the lower-cased extension of name when it is a known
// image format.
func imageExt(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff", ".tif", ".emf", ".wmf":
		return ext
	default:
		return ""
	}
}

// markdownTable renders rows as a pipe table whose first row is the
// header. Short rows are padded to the widest row.
func markdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "\n", " ")
				cell = strings.ReplaceAll(cell, "|", "\\|")
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
