package boundary

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinLineLength is the line length below which an unterminated PDF
// line is treated as a fragment.
const DefaultMinLineLength = 20

// MergePDFLinesToParagraphs rebuilds paragraphs from line-oriented PDF
// text. A blank line or a line ending in terminal punctuation closes the
// current paragraph; every other line is appended followed by a space.
// Paragraphs are joined with a blank line.
func MergePDFLinesToParagraphs(text string, minLineLength int) string {
	if minLineLength <= 0 {
		minLineLength = DefaultMinLineLength
	}

	var paragraphs []string
	var cur strings.Builder
	flush := func() {
		if p := strings.TrimSpace(cur.String()); p != "" {
			paragraphs = append(paragraphs, p)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}

		terminal := endsParagraph(line)
		if utf8.RuneCountInString(line) < minLineLength && !terminal {
			// Heading or short fragment.
			cur.WriteString(line)
			cur.WriteString(" ")
			continue
		}
		if !terminal {
			cur.WriteString(line)
			cur.WriteString(" ")
			continue
		}
		cur.WriteString(line)
		flush()
	}
	flush()

	return strings.Join(paragraphs, "\n\n")
}

func endsParagraph(line string) bool {
	r, _ := utf8.DecodeLastRuneInString(line)
	return strings.ContainsRune(terminalEnders, r)
}
