package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/goqa/boundary"
	"github.com/xuri/excelize/v2"
)

// XLSXParser handles Excel (.xlsx) workbooks.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []FileType { return []FileType{FileTypeXLSX} }

// Parse renders every non-empty sheet as a markdown table whose first row
// is the header, each fenced by boundary.SplitSign.
func (p *XLSXParser) Parse(ctx context.Context, path string, _ *ImageSink) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var blocks []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			slog.Warn("xlsx: reading sheet failed", "sheet", sheet, "error", err)
			continue
		}

		kept := rows[:0]
		for _, row := range rows {
			if !blankRow(row) {
				kept = append(kept, row)
			}
		}
		if md := markdownTable(kept); md != "" {
			blocks = append(blocks, boundary.SplitSign+"\n"+md+"\n"+boundary.SplitSign)
		}
	}

	if len(blocks) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return &Result{Text: strings.Join(blocks, "\n"), Tabular: true}, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
