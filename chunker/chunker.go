package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/goqa/boundary"
)

// Config controls the chunking behaviour.
type Config struct {
	Size       int                // Maximum chunk length in runes.
	Overlap    int                // Runes of the previous chunk to carry over; negative disables overlap.
	MinClauses int                // Clause-number hits needed to treat text as a contract.
	Patterns   *boundary.Patterns // Clause tables; nil uses boundary.Default().
}

// Chunker splits extracted document text into bounded chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = 2000
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 100
	}
	if cfg.MinClauses <= 0 {
		cfg.MinClauses = 2
	}
	if cfg.Patterns == nil {
		cfg.Patterns = boundary.Default()
	}
	return &Chunker{cfg: cfg}
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.cfg.Size }

// Chunk splits text into cleaned chunks in document order. Contract-like
// text is cut at clause markers, anything else at line breaks; each
// segment is then cleaned and, when longer than Size, packed sentence by
// sentence. No returned chunk is blank.
func (c *Chunker) Chunk(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	for _, seg := range c.Segments(text) {
		clean := boundary.CleanPagination(seg)
		if clean == "" {
			continue
		}
		if boundary.Len(clean) <= c.cfg.Size {
			chunks = append(chunks, clean)
			continue
		}
		chunks = append(chunks, c.splitBySentences(clean)...)
	}
	return chunks
}

// Segments returns the raw, uncleaned segments Chunk works on.
func (c *Chunker) Segments(text string) []string {
	if c.Detect(text) == StrategyClause {
		if parts := SplitByClauses(text, c.cfg.Patterns); len(parts) > 0 {
			return parts
		}
	}
	return splitLines(text)
}

// sentence is one sentence of a segment with the whitespace that preceded
// it in the source.
type sentence struct {
	gap, text string
}

// splitSentences splits like boundary.SplitSentences but remembers the
// spacing between sentences so chunks keep the source's spacing.
func splitSentences(text string) []sentence {
	var out []sentence
	add := func(piece string) {
		body := strings.TrimSpace(piece)
		if body == "" {
			return
		}
		gap := piece[:len(piece)-len(strings.TrimLeftFunc(piece, unicode.IsSpace))]
		out = append(out, sentence{gap: gap, text: body})
	}

	start := 0
	for i, r := range text {
		if boundary.IsSentenceEnd(r) {
			end := i + utf8.RuneLen(r)
			add(text[start:end])
			start = end
		}
	}
	add(text[start:])
	return out
}

// joinSentences renders sentences as chunk text; the first one drops its gap.
func joinSentences(sents []sentence) string {
	var b strings.Builder
	for i, s := range sents {
		if i > 0 {
			b.WriteString(s.gap)
		}
		b.WriteString(s.text)
	}
	return b.String()
}

// splitBySentences greedily packs sentences into chunks of at most Size
// runes. When a sentence does not fit, the running chunk is emitted and
// the next one starts with the overlap seed followed by that sentence.
// A sentence longer than Size is kept whole.
func (c *Chunker) splitBySentences(text string) []string {
	var chunks []string
	var cur []sentence
	curLen := 0

	for _, sent := range splitSentences(text) {
		add := boundary.Len(sent.text)
		if len(cur) > 0 {
			add += boundary.Len(sent.gap)
		}
		if curLen+add <= c.cfg.Size {
			cur = append(cur, sent)
			curLen += add
			continue
		}

		if len(cur) > 0 {
			chunks = append(chunks, joinSentences(cur))
		}
		cur = nil
		if len(chunks) > 0 {
			cur = c.overlapSeed(chunks[len(chunks)-1], sent)
		}
		cur = append(cur, sent)
		curLen = boundary.Len(joinSentences(cur))
	}

	if len(cur) > 0 {
		chunks = append(chunks, joinSentences(cur))
	}
	return chunks
}

// overlapSeed returns the whole sentences that open the chunk after prev.
// The cut point sits Overlap runes before the end of prev; the seed starts
// right after the nearest sentence end before the cut, and is empty when
// there is none. Leading seed sentences are dropped while the seed plus
// next would exceed Size.
func (c *Chunker) overlapSeed(prev string, next sentence) []sentence {
	if c.cfg.Overlap <= 0 {
		return nil
	}
	runes := []rune(prev)
	end := boundary.LastSentenceEnd(runes, len(runes)-c.cfg.Overlap)
	if end < 0 {
		return nil
	}

	seed := splitSentences(string(runes[end+1:]))
	for len(seed) > 0 && boundary.Len(joinSentences(append(seed[:len(seed):len(seed)], next))) > c.cfg.Size {
		seed = seed[1:]
	}
	return seed
}

// splitLines splits text on newlines, dropping blank lines.
func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// Dedup drops exact duplicate chunks, keeping the first occurrence.
func Dedup(chunks []string) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}
