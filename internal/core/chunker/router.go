package chunker

import (
	"errors"
	"fmt"
	"iter"
	"mime"
	"strings"
	"unicode/utf8"
)

// Chunk is one slice of a document's text. Start and End are character (rune)
// offsets into the routed text, End exclusive.
type Chunk struct {
	Index      int
	Text       string
	Start      int
	End        int
	TokenCount int
}

// Strategy names a splitting algorithm.
type Strategy string

const (
	StrategyMarkdown  Strategy = "markdown"
	StrategyToken     Strategy = "token"
	StrategyRecursive Strategy = "recursive"
)

// Config tunes the splitters.
//
// MaxChars:             rune cap per chunk for the recursive and markdown splitters.
// OverlapChars:         runes carried from the end of chunk n to the start of chunk n+1.
// TokenChunkSize:       tokens per window for the token splitter.
// TokenOverlap:         tokens shared by consecutive windows.
// TokenSplitAboveBytes: documents larger than this use the token splitter (0 disables).
type Config struct {
	MaxChars             int
	OverlapChars         int
	TokenChunkSize       int
	TokenOverlap         int
	TokenSplitAboveBytes int64
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxChars <= 0 {
		errs = append(errs, errors.New("max chars must be positive"))
	}
	if c.OverlapChars < 0 || c.OverlapChars >= c.MaxChars {
		errs = append(errs, fmt.Errorf("overlap chars must be in [0, %d)", c.MaxChars))
	}
	if c.TokenChunkSize <= 0 {
		errs = append(errs, errors.New("token chunk size must be positive"))
	}
	if c.TokenOverlap < 0 || c.TokenOverlap >= c.TokenChunkSize {
		errs = append(errs, fmt.Errorf("token overlap must be in [0, %d)", c.TokenChunkSize))
	}
	return errors.Join(errs...)
}

var markdownTypes = map[string]bool{
	"text/markdown":   true,
	"text/x-markdown": true,
}

var codeTypes = map[string]bool{
	"application/json":       true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"text/javascript":        true,
	"text/x-go":              true,
	"text/x-python":          true,
	"text/x-java-source":     true,
	"text/x-c":               true,
	"text/x-shellscript":     true,
}

// Router picks a splitter per document and emits ordered chunks. It has no
// mutable state, so routing the same input twice yields the same chunks.
type Router struct {
	cfg Config
}

func NewRouter(cfg Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("chunker config: %w", err)
	}
	return &Router{cfg: cfg}, nil
}

// Select returns the strategy used for a document of the given type and size.
func (r *Router) Select(contentType string, size int64) Strategy {
	ct := mediaType(contentType)
	switch {
	case markdownTypes[ct]:
		return StrategyMarkdown
	case codeTypes[ct]:
		return StrategyToken
	case r.cfg.TokenSplitAboveBytes > 0 && size > r.cfg.TokenSplitAboveBytes:
		return StrategyToken
	default:
		return StrategyRecursive
	}
}

// Route splits text into chunks. The sequence is lazy and can be ranged over
// any number of times.
func (r *Router) Route(text, contentType string, size int64) iter.Seq[Chunk] {
	switch r.Select(contentType, size) {
	case StrategyMarkdown:
		return r.withOverlap(text, markdownLevels)
	case StrategyToken:
		return r.tokenWindows(text)
	default:
		return r.withOverlap(text, recursiveLevels)
	}
}

// withOverlap runs the level splitter and prefixes each chunk after the first
// with the tail of its predecessor.
func (r *Router) withOverlap(text string, levels []level) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		limit := r.cfg.MaxChars - r.cfg.OverlapChars
		cur := runeCursor{text: text}
		idx := 0
		var prev span
		havePrev := false

		splitRange(text, 0, len(text), levels, limit, func(sp span) bool {
			start := sp.s
			if havePrev && r.cfg.OverlapChars > 0 {
				start = overlapStart(text, prev, sp, r.cfg.OverlapChars, r.cfg.MaxChars)
			}
			prev, havePrev = sp, true

			ch := Chunk{
				Index: idx,
				Text:  text[start:sp.e],
				Start: cur.at(start),
				End:   cur.at(sp.e),
			}
			ch.TokenCount = approxTokens(ch.Text)
			idx++
			return yield(ch)
		})
	}
}

// overlapStart returns where chunk sp begins once it carries up to want runes
// from the end of prev. The chunk never exceeds max runes.
func overlapStart(text string, prev, sp span, want, max int) int {
	budget := max - utf8.RuneCountInString(text[prev.e:sp.e])
	if budget <= 0 {
		return sp.s
	}
	if want > budget {
		want = budget
	}
	start := prev.e
	for n := 0; n < want && start > prev.s; n++ {
		_, size := utf8.DecodeLastRuneInString(text[prev.s:start])
		start -= size
	}
	for start < prev.e {
		r, size := utf8.DecodeRuneInString(text[start:])
		if !isSpace(r) {
			break
		}
		start += size
	}
	if start >= prev.e {
		return sp.s
	}
	return start
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

func mediaType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// runeCursor converts byte offsets to rune offsets, scanning only the distance
// moved since the previous call.
type runeCursor struct {
	text string
	b, r int
}

func (c *runeCursor) at(b int) int {
	if b >= c.b {
		c.r += utf8.RuneCountInString(c.text[c.b:b])
	} else {
		c.r -= utf8.RuneCountInString(c.text[b:c.b])
	}
	c.b = b
	return c.r
}
