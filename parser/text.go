package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextParser handles plain text (.txt) files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []FileType { return []FileType{FileTypeText} }

func (p *TextParser) Parse(ctx context.Context, path string, _ *ImageSink) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	// Drop a UTF-8 byte order mark; the rest is returned as is.
	return &Result{Text: strings.TrimPrefix(string(data), "\ufeff")}, nil
}
