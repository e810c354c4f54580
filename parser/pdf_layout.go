package parser

import (
	"math"
	"sort"
	"strings"
)

// textRun is one positioned piece of page text, usually a single glyph.
type textRun struct {
	X, Y     float64
	W        float64
	FontSize float64
	S        string
}

const (
	// Runs whose baselines round to the same multiple of lineBucket share a line.
	lineBucket = 5.0

	// A horizontal gap wider than spaceGapRatio * font size becomes a space.
	spaceGapRatio = 0.3

	defaultFontSize = 10.0
)

// assembleLines groups runs into lines top to bottom and orders each line
// left to right. Blank lines are dropped.
func assembleLines(runs []textRun) []string {
	groups := make(map[float64][]textRun)
	for _, r := range runs {
		if r.S == "" {
			continue
		}
		key := math.Round(r.Y/lineBucket) * lineBucket
		groups[key] = append(groups[key], r)
	}

	keys := make([]float64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	// PDF user space grows upwards.
	sort.Sort(sort.Reverse(sort.Float64Slice(keys)))

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if line := strings.TrimSpace(joinRuns(groups[k])); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func joinRuns(line []textRun) string {
	sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })

	var b strings.Builder
	for i, r := range line {
		if i > 0 {
			prev := line[i-1]
			size := r.FontSize
			if size <= 0 {
				size = prev.FontSize
			}
			if size <= 0 {
				size = defaultFontSize
			}
			gap := r.X - (prev.X + prev.W)
			if gap > spaceGapRatio*size &&
				!strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(r.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(r.S)
	}
	return b.String()
}
