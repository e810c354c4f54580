package chunker

import (
	"strings"

	"github.com/brunobiangulo/goqa/boundary"
)

// SplitByClauses cuts text at every clause marker found by patterns, so
// each part opens with its marker. Non-blank text ahead of the first
// marker is kept as a leading part. Returns nil when text has no marker.
func SplitByClauses(text string, patterns *boundary.Patterns) []string {
	if patterns == nil {
		patterns = boundary.Default()
	}
	starts := patterns.ClauseBoundaries(text)
	if len(starts) == 0 {
		return nil
	}

	// Offset 0 collects the preamble; a marker at 0 yields an empty one.
	cuts := append([]int{0}, starts...)
	cuts = append(cuts, len(text))

	parts := make([]string, 0, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		if p := strings.TrimSpace(text[cuts[i]:cuts[i+1]]); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
