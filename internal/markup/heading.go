package markup

import (
	"fmt"
	"regexp"
	"strings"
)

var headingTags = []string{"section", "subsection", "subsubsection"}

var markdownHeadingPattern = regexp.MustCompile(`^(#{1,3})[ \t]+(.+?)[ \t]*#*[ \t]*$`)

// HeadingLevel maps a heading tag name to its markdown level (1-3), or 0.
func HeadingLevel(tag string) int {
	for i, name := range headingTags {
		if name == tag {
			return i + 1
		}
	}
	return 0
}

// HeadingTag renders a heading tag of the given level.
func HeadingTag(level int, title string) string {
	if level < 1 {
		level = 1
	}
	if level > len(headingTags) {
		level = len(headingTags)
	}
	name := headingTags[level-1]
	return fmt.Sprintf("<%s>%s</%s>", name, title, name)
}

// MarkdownHeading renders a markdown heading line.
func MarkdownHeading(level int, title string) string {
	return strings.Repeat("#", level) + " " + title
}

// ParseMarkdownHeading reports whether text is a single markdown heading of
// level 1-3 and returns its level and title.
func ParseMarkdownHeading(text string) (int, string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.Contains(trimmed, "\n") {
		return 0, "", false
	}
	m := markdownHeadingPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), m[2], true
}
