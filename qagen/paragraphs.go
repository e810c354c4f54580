package qagen

import (
	"strings"
	"unicode/utf8"
)

// MergeParagraphs joins consecutive chunks with a space into paragraphs of
// roughly min to max runes. A buffer is flushed as soon as it reaches min;
// a chunk that would push the buffer to max or beyond starts a new one.
func MergeParagraphs(chunks []string, min, max int) []string {
	var merged []string
	var buf string
	for _, ch := range chunks {
		if utf8.RuneCountInString(buf)+utf8.RuneCountInString(ch) < max {
			if buf == "" {
				buf = ch
			} else {
				buf += " " + ch
			}
			if utf8.RuneCountInString(buf) >= min {
				merged = append(merged, strings.TrimSpace(buf))
				buf = ""
			}
			continue
		}
		if buf != "" {
			merged = append(merged, strings.TrimSpace(buf))
		}
		buf = ch
	}
	if buf != "" {
		merged = append(merged, strings.TrimSpace(buf))
	}
	return merged
}

// splitBlocks groups the blank-line separated paragraphs of text into
// blocks of at most max runes. A paragraph longer than max is a block of
// its own.
func splitBlocks(text string, max int) []string {
	var blocks []string
	var cur strings.Builder
	curLen := 0
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+n > max {
			blocks = append(blocks, strings.TrimSpace(cur.String()))
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(p)
		cur.WriteString("\n\n")
		curLen += n + 2
	}
	if curLen > 0 {
		blocks = append(blocks, strings.TrimSpace(cur.String()))
	}
	return blocks
}
