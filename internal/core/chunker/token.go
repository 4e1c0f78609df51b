package chunker

import (
	"iter"
	"regexp"
)

// tokenPattern approximates a model tokenizer: runs of word characters, or
// single punctuation marks.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\s\p{L}\p{N}_]`)

// tokenWindows emits windows of TokenChunkSize tokens, each sharing
// TokenOverlap tokens with its predecessor.
func (r *Router) tokenWindows(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		toks := tokenPattern.FindAllStringIndex(text, -1)
		if len(toks) == 0 {
			return
		}
		step := r.cfg.TokenChunkSize - r.cfg.TokenOverlap
		cur := runeCursor{text: text}

		for idx, i := 0, 0; ; idx, i = idx+1, i+step {
			j := min(i+r.cfg.TokenChunkSize, len(toks))
			s, e := toks[i][0], toks[j-1][1]
			ch := Chunk{
				Index:      idx,
				Text:       text[s:e],
				Start:      cur.at(s),
				End:        cur.at(e),
				TokenCount: j - i,
			}
			if !yield(ch) || j == len(toks) {
				return
			}
		}
	}
}

// CountTokens reports how many tokens the token splitter sees in text.
func CountTokens(text string) int {
	return len(tokenPattern.FindAllStringIndex(text, -1))
}
