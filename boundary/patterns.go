// Package boundary holds the text primitives shared by the chunker and the
// parsers: sentence segmentation, clause-marker detection, pagination
// stripping and PDF paragraph reconstruction.
package boundary

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternTable describes how contract-like text is recognised and where
// its clauses begin. Each entry is a regular expression fragment; adding a
// locale means appending fragments, not changing the algorithm.
type PatternTable struct {
	// Keywords mark a document as contract-like on sight.
	Keywords []string `json:"keywords" yaml:"keywords"`

	// ClauseCount fragments are anchored at line start and counted; a
	// document with at least MinClauses hits is contract-like.
	ClauseCount []string `json:"clause_count" yaml:"clause_count"`

	// ClauseMarkers are alternated into a single pattern whose match starts
	// are the clause boundaries.
	ClauseMarkers []string `json:"clause_markers" yaml:"clause_markers"`
}

// DefaultPatterns returns the table for Chinese contracts and model texts.
func DefaultPatterns() PatternTable {
	return PatternTable{
		Keywords: []string{"合同", "示范文本", "协议"},
		ClauseCount: []string{
			`[一二三四五六七八九十]+、`,
			`\d+\.\s`,
			`\(\d+\)`,
		},
		ClauseMarkers: []string{
			// 第三条, 第十二章, 第2之1条
			`第\s*[一二三四五六七八九十百千壹贰叁肆伍陆柒捌玖拾\d]+(?:之[一二三四五六七八九十\d]+)?\s*[条章部分节行]`,
			// 条款 3
			`条款\s*[一二三四五六七八九十\d]+`,
			// 一、 二. 三：
			`[一二三四五六七八九十]+[、.：]`,
			// (一) （1） (Ⅳ)
			`[（(]\s*(?:[一二三四五六七八九十百千\d]+|[ⅠⅡⅢⅣⅤⅥⅦⅧⅨⅩ]+)\s*[）)]`,
			// 1、 2.甲方 3：, but not 3.5 or 2025.1.1
			`\d+\s*(?:[、：]|\.(?:\D|$))`,
			// 附录 / 附件 2 / 附则
			`附\s*(?:录|件|则)\s*\d*`,
		},
	}
}

// Patterns is a compiled PatternTable.
type Patterns struct {
	keywords []string
	count    *regexp.Regexp
	markers  *regexp.Regexp
}

// Compile builds the matchers for t. Empty tables compile to matchers that
// never fire.
func (t PatternTable) Compile() (*Patterns, error) {
	p := &Patterns{keywords: append([]string(nil), t.Keywords...)}

	if len(t.ClauseCount) > 0 {
		re, err := regexp.Compile(`(?m)^\s*(?:` + strings.Join(t.ClauseCount, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("compiling clause count pattern: %w", err)
		}
		p.count = re
	}
	if len(t.ClauseMarkers) > 0 {
		re, err := regexp.Compile(`(?:` + strings.Join(t.ClauseMarkers, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("compiling clause marker pattern: %w", err)
		}
		p.markers = re
	}
	return p, nil
}

// MustCompile is like Compile but panics on an invalid table.
func (t PatternTable) MustCompile() *Patterns {
	p, err := t.Compile()
	if err != nil {
		panic(err)
	}
	return p
}

var defaultPatterns = DefaultPatterns().MustCompile()

// Default returns the compiled default table.
func Default() *Patterns { return defaultPatterns }

// HasKeyword reports whether text contains any contract keyword.
func (p *Patterns) HasKeyword(text string) bool {
	for _, kw := range p.keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ClauseCount returns the number of line-leading clause numbers in text.
func (p *Patterns) ClauseCount(text string) int {
	if p.count == nil {
		return 0
	}
	return len(p.count.FindAllStringIndex(text, -1))
}

// IsContractLike reports whether text should be split on clause markers.
func (p *Patterns) IsContractLike(text string, minClauses int) bool {
	if p.HasKeyword(text) {
		return true
	}
	if minClauses <= 0 {
		minClauses = 2
	}
	return p.ClauseCount(text) >= minClauses
}

// ClauseBoundaries returns the byte offsets where clause markers start.
func (p *Patterns) ClauseBoundaries(text string) []int {
	if p.markers == nil {
		return nil
	}
	locs := p.markers.FindAllStringIndex(text, -1)
	out := make([]int, len(locs))
	for i, loc := range locs {
		out[i] = loc[0]
	}
	return out
}

// IsContractLike uses the default table.
func IsContractLike(text string, minClauses int) bool {
	return defaultPatterns.IsContractLike(text, minClauses)
}
