package chunker

import (
	"strings"
)

// markdownLevels prefers heading boundaries, then falls back to the
// recursive separators inside each section.
var markdownLevels = append([]level{headingSections}, recursiveLevels...)

// headingSections starts a new piece at every ATX heading line. Lines inside
// fenced code blocks are never treated as headings.
func headingSections(text string, s, e int) []span {
	var out []span
	sectionStart := s
	inFence := false

	for lineStart := s; lineStart < e; {
		lineEnd := strings.IndexByte(text[lineStart:e], '\n')
		next := e
		if lineEnd >= 0 {
			next = lineStart + lineEnd + 1
			lineEnd = lineStart + lineEnd
		} else {
			lineEnd = e
		}
		line := strings.TrimLeft(text[lineStart:lineEnd], " \t")

		switch {
		case isFence(line):
			inFence = !inFence
		case !inFence && isHeading(line) && lineStart > sectionStart:
			if p, ok := trimSpan(text, sectionStart, lineStart); ok {
				out = append(out, p)
			}
			sectionStart = lineStart
		}
		lineStart = next
	}
	if p, ok := trimSpan(text, sectionStart, e); ok {
		out = append(out, p)
	}
	return out
}

func isFence(line string) bool {
	return strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~")
}

// isHeading matches "# Title" through "###### Title".
func isHeading(line string) bool {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return false
	}
	return n == len(line) || line[n] == ' ' || line[n] == '\t' || line[n] == '\r'
}
