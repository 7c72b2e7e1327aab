package pipeline

import (
	"regexp"
	"strings"
)

// TitlePattern matches numbered heading lines such as "\n12B. Scope\n".
// The title part is lazy so one match never runs over the next heading.
var TitlePattern = regexp.MustCompile(`(?s)\n\d+[A-Z]?\. {1,3}.{0,60}?\n`)

var markupPattern = regexp.MustCompile(`(?m)^#{1,6}[ \t]+\S.*$`)

// TitleDetector finds numbered headings with a regular expression.
type TitleDetector struct {
	Pattern *regexp.Regexp
}

// NewTitleDetector returns a detector using TitlePattern.
func NewTitleDetector() *TitleDetector {
	return &TitleDetector{Pattern: TitlePattern}
}

func (d *TitleDetector) Boundaries(text string) [][2]int {
	return spans(d.Pattern, text)
}

// MarkupDetector finds Markdown ATX headings ("# Title" to "###### Title").
type MarkupDetector struct{}

func (MarkupDetector) Boundaries(text string) [][2]int {
	return spans(markupPattern, text)
}

func spans(pattern *regexp.Regexp, text string) [][2]int {
	matches := pattern.FindAllStringIndex(text, -1)
	boundaries := make([][2]int, 0, len(matches))
	for _, m := range matches {
		boundaries = append(boundaries, [2]int{m[0], m[1]})
	}
	return boundaries
}

// SplitSections splits text at the headings found by detector. The first
// section is the untouched text before the first heading; every following
// section is the trimmed heading, a newline and the trimmed body up to the
// next heading. Without headings the whole text is the only section.
// A nil detector uses NewTitleDetector.
func SplitSections(text string, detector BoundaryDetector) []string {
	if detector == nil {
		detector = NewTitleDetector()
	}

	boundaries := detector.Boundaries(text)
	if len(boundaries) == 0 {
		return []string{text}
	}

	sections := make([]string, 0, len(boundaries)+1)
	sections = append(sections, text[:boundaries[0][0]])

	for i, b := range boundaries {
		bodyEnd := len(text)
		if i+1 < len(boundaries) {
			bodyEnd = boundaries[i+1][0]
		}
		heading := strings.TrimSpace(text[b[0]:b[1]])
		body := strings.TrimSpace(text[b[1]:bodyEnd])
		sections = append(sections, heading+"\n"+body)
	}

	return sections
}
