package boundary

import (
	"regexp"
	"strings"
)

// Whitespace classes below include \p{Zs} so that full-width and
// non-breaking spaces around page numbers are treated like ASCII spaces.
var (
	// "12", "- 12 -", "— 3 —"
	pageNumberLine = regexp.MustCompile(`(?m)^[\s\p{Zs}]*[-—]?[\s\p{Zs}]*\p{Nd}+[\s\p{Zs}]*[-—]?[\s\p{Zs}]*$`)

	// "第3页", "第 3 页 / 共 10 页"
	pageOfLine = regexp.MustCompile(`(?m)^[\s\p{Zs}]*第[\s\p{Zs}]*\p{Nd}+[\s\p{Zs}]*页(?:[\s\p{Zs}]*/[\s\p{Zs}]*共[\s\p{Zs}]*\p{Nd}+[\s\p{Zs}]*页)?[\s\p{Zs}]*$`)

	newlineRun = regexp.MustCompile(`\n+`)
	spaceRun   = regexp.MustCompile(` +`)

	numberingLine = regexp.MustCompile(`^(?:\p{Nd}+|(?i:[IVXLCDM]+)|[ⅰ-ⅻⅠ-ⅫⅬⅭⅮⅯ]+)$`)
)

// CleanPagination strips standalone page-number lines, replaces
// non-breaking spaces, and folds the text onto one line with single
// spaces. CleanPagination(CleanPagination(s)) == CleanPagination(s).
func CleanPagination(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = pageNumberLine.ReplaceAllString(text, "")
	text = pageOfLine.ReplaceAllString(text, "")
	text = newlineRun.ReplaceAllString(text, " ")
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// IsNumbering reports whether line is only a page or list number in
// Arabic or Roman numerals.
func IsNumbering(line string) bool {
	return numberingLine.MatchString(strings.TrimSpace(line))
}
