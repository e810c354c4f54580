package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// FileType is the closed set of document formats the extractor handles.
type FileType int

const (
	FileTypeText FileType = iota + 1
	FileTypeDOCX
	FileTypePDF
	FileTypeXLSX
)

func (t FileType) String() string {
	switch t {
	case FileTypeText:
		return "txt"
	case FileTypeDOCX:
		return "docx"
	case FileTypePDF:
		return "pdf"
	case FileTypeXLSX:
		return "xlsx"
	default:
		return "unknown"
	}
}

// ErrUnsupportedFileType is matched by every *UnsupportedFileTypeError.
var ErrUnsupportedFileType = errors.New("parser: unsupported file type")

// UnsupportedFileTypeError reports a file whose extension has no parser.
type UnsupportedFileTypeError struct {
	Ext string
}

func (e *UnsupportedFileTypeError) Error() string {
	if e.Ext == "" {
		return "parser: unsupported file type (no extension)"
	}
	return fmt.Sprintf("parser: unsupported file type %q", e.Ext)
}

func (e *UnsupportedFileTypeError) Is(target error) bool {
	return target == ErrUnsupportedFileType
}

// FileTypeFromPath maps a file extension (case-insensitive) to its FileType.
func FileTypeFromPath(path string) (FileType, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt":
		return FileTypeText, nil
	case ".docx":
		return FileTypeDOCX, nil
	case ".pdf":
		return FileTypePDF, nil
	case ".xlsx":
		return FileTypeXLSX, nil
	}
	return 0, &UnsupportedFileTypeError{Ext: ext}
}

// Result is what a parser produces from a document file.
type Result struct {
	Text    string    // Extracted text with [IMAGE_n] placeholders
	Images  *ImageMap // Placeholder -> hosted URL or local path
	Tabular bool      // Text is markdown tables fenced by SplitSign
	Pages   int       // Page count for paginated formats
}

// Parser extracts text from one document format. Images found while
// parsing are handed to sink, which returns the placeholder to embed.
type Parser interface {
	Parse(ctx context.Context, path string, sink *ImageSink) (*Result, error)
	SupportedFormats() []FileType
}
