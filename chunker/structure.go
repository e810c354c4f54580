package chunker

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/goqa/boundary"
)

// Strategy names how a piece of text is split.
type Strategy int

const (
	StrategyParagraph Strategy = iota // one segment per non-blank line
	StrategyClause                    // one segment per contract clause
	StrategyTable                     // header-carrying row packs
)

func (s Strategy) String() string {
	switch s {
	case StrategyClause:
		return "clause"
	case StrategyTable:
		return "table"
	default:
		return "paragraph"
	}
}

// Detect classifies a block as a markdown table, contract-like text or
// prose.
func (c *Chunker) Detect(text string) Strategy {
	if IsMarkdownTable(text) {
		return StrategyTable
	}
	if c.cfg.Patterns.IsContractLike(text, c.cfg.MinClauses) {
		return StrategyClause
	}
	return StrategyParagraph
}

// SplitSign separates blocks that ChunkDocument chunks independently.
const SplitSign = boundary.SplitSign

// tableSeparatorRow matches the second line of a markdown table.
var tableSeparatorRow = regexp.MustCompile(`^\s*\|?[-:\s]+\|[-:\s]+`)

// IsMarkdownTable reports whether text is a markdown table: a piped
// header line followed by a separator row.
func IsMarkdownTable(text string) bool {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return false
	}
	return strings.Contains(lines[0], "|") && tableSeparatorRow.MatchString(lines[1])
}
