package goqa

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/goqa/boundary"
)

// snippetMaxLen is the approximate maximum rune length for a snippet.
const snippetMaxLen = 150

// Snippet returns the one or two sentences of context that share the most
// terms with answer, for display next to search results. It returns ""
// when nothing overlaps.
func Snippet(context, answer string) string {
	return extractSnippet(context, significantTerms(answer))
}

func extractSnippet(content string, answerTerms map[string]bool) string {
	if len(answerTerms) == 0 || content == "" {
		return ""
	}

	sentences := boundary.SplitSentences(content)
	if len(sentences) == 0 {
		return ""
	}

	scores := make([]int, len(sentences))
	for i, s := range sentences {
		for term := range significantTerms(s) {
			if answerTerms[term] {
				scores[i]++
			}
		}
	}

	best := 0
	for i, sc := range scores {
		if sc > scores[best] {
			best = i
		}
	}
	if scores[best] == 0 {
		return ""
	}

	result := strings.TrimSpace(sentences[best])

	// Add the better-scoring neighbour if it still fits.
	if utf8.RuneCountInString(result) < snippetMaxLen && len(sentences) > 1 {
		adj := -1
		adjScore := 0
		for _, delta := range []int{1, -1} {
			i := best + delta
			if i >= 0 && i < len(sentences) && scores[i] > adjScore {
				adjScore = scores[i]
				adj = i
			}
		}
		if adj >= 0 {
			other := strings.TrimSpace(sentences[adj])
			combined := result + other
			if adj < best {
				combined = other + result
			}
			if utf8.RuneCountInString(combined) <= snippetMaxLen {
				result = combined
			}
		}
	}
	return result
}

// significantTerms returns the matching units of text: Han characters as
// overlapping bigrams and other words of at least four letters, lowercased
// and without stop words.
func significantTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	var han []rune
	flushHan := func() {
		for i := 0; i+1 < len(han); i++ {
			terms[string(han[i:i+2])] = true
		}
		han = han[:0]
	}

	var word strings.Builder
	flushWord := func() {
		w := word.String()
		if utf8.RuneCountInString(w) >= 4 && !stopWords[w] {
			terms[w] = true
		}
		word.Reset()
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word.WriteRune(r)
		default:
			flushHan()
			flushWord()
		}
	}
	flushHan()
	flushWord()
	return terms
}

// stopWords is a set of common English stop words to exclude from matching.
var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"your": true, "more": true, "some": true, "such": true,
	"only": true, "also": true, "very": true, "just": true,
	"into": true, "over": true, "each": true, "does": true,
}
