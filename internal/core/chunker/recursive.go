package chunker

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// span is a byte range [s, e) of the source text.
type span struct {
	s, e int
}

// level breaks text[s:e] into content pieces. Pieces never begin or end with
// whitespace; separators fall into the gaps between them.
type level func(text string, s, e int) []span

var (
	paragraphSep = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
	lineSep      = regexp.MustCompile(`\r?\n`)
	sentenceSep  = regexp.MustCompile(`[.!?]+(\s+)`)
	wordSep      = regexp.MustCompile(`[\s\v\x{85}\p{Z}]+`)
)

var recursiveLevels = []level{
	bySeparator(paragraphSep),
	bySeparator(lineSep),
	bySeparator(sentenceSep),
	bySeparator(wordSep),
}

// bySeparator splits on re. When re has a capture group only the group is the
// separator, so sentence punctuation stays with its sentence.
func bySeparator(re *regexp.Regexp) level {
	grouped := re.NumSubexp() > 0
	return func(text string, s, e int) []span {
		var out []span
		prev := s
		for _, m := range re.FindAllStringSubmatchIndex(text[s:e], -1) {
			ms, me := m[0], m[1]
			if grouped && m[2] >= 0 {
				ms, me = m[2], m[3]
			}
			if p, ok := trimSpan(text, prev, s+ms); ok {
				out = append(out, p)
			}
			prev = s + me
		}
		if p, ok := trimSpan(text, prev, e); ok {
			out = append(out, p)
		}
		return out
	}
}

// splitRange emits spans of at most limit runes covering the non-whitespace
// content of text[s:e], in order. It returns false once yield does.
func splitRange(text string, s, e int, levels []level, limit int, yield func(span) bool) bool {
	sp, ok := trimSpan(text, s, e)
	if !ok {
		return true
	}
	if utf8.RuneCountInString(text[sp.s:sp.e]) <= limit {
		return yield(sp)
	}
	if len(levels) == 0 {
		return hardSplit(text, sp, limit, yield)
	}

	pieces := levels[0](text, sp.s, sp.e)
	if len(pieces) <= 1 {
		return splitRange(text, sp.s, sp.e, levels[1:], limit, yield)
	}

	var cur span
	curRunes := 0
	open := false
	for _, p := range pieces {
		n := utf8.RuneCountInString(text[p.s:p.e])
		if n > limit {
			if open {
				if !yield(cur) {
					return false
				}
				open = false
			}
			if !splitRange(text, p.s, p.e, levels[1:], limit, yield) {
				return false
			}
			continue
		}
		if !open {
			cur, curRunes, open = p, n, true
			continue
		}
		// Merged length counts the separator gap as well.
		merged := curRunes + utf8.RuneCountInString(text[cur.e:p.e])
		if merged <= limit {
			cur.e, curRunes = p.e, merged
			continue
		}
		if !yield(cur) {
			return false
		}
		cur, curRunes = p, n
	}
	if open {
		return yield(cur)
	}
	return true
}

// hardSplit cuts at codepoint boundaries once no separator is left.
func hardSplit(text string, sp span, limit int, yield func(span) bool) bool {
	start := sp.s
	for start < sp.e {
		end := start
		for n := 0; n < limit && end < sp.e; n++ {
			_, size := utf8.DecodeRuneInString(text[end:sp.e])
			end += size
		}
		if p, ok := trimSpan(text, start, end); ok && !yield(p) {
			return false
		}
		start = end
	}
	return true
}

func trimSpan(text string, s, e int) (span, bool) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:e])
		if !isSpace(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[s:e])
		if !isSpace(r) {
			break
		}
		e -= size
	}
	return span{s, e}, e > s
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r)
}
