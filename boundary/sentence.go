package boundary

import (
	"strings"
	"unicode/utf8"
)

// SentenceEnders are the runes that close a sentence for splitting and
// overlap purposes.
const SentenceEnders = "。！？；.!?;"

// terminalEnders close a paragraph when reconstructing PDF text.
const terminalEnders = "。！？.!?"

// IsSentenceEnd reports whether r ends a sentence.
func IsSentenceEnd(r rune) bool {
	return strings.ContainsRune(SentenceEnders, r)
}

// SplitSentences splits text after every sentence-ending rune, keeping the
// punctuation attached. Pieces are trimmed and empty ones dropped; when
// nothing survives but text is not blank the whole trimmed input is
// returned as one sentence.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if !IsSentenceEnd(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	if len(out) == 0 {
		if s := strings.TrimSpace(text); s != "" {
			out = []string{s}
		}
	}
	return out
}

// Len is the length measure used by every size bound: runes, not bytes.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// LastSentenceEnd returns the rune index of the last sentence-ending rune
// in runes[:before], or -1.
func LastSentenceEnd(runes []rune, before int) int {
	if before > len(runes) {
		before = len(runes)
	}
	for i := before - 1; i >= 0; i-- {
		if IsSentenceEnd(runes[i]) {
			return i
		}
	}
	return -1
}

// SplitSign separates independently chunked blocks inside one extracted
// text, such as a table embedded between paragraphs.
const SplitSign = "===SPLIT==="
