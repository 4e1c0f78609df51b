package chunker

import (
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, maxChars, overlap int) *Router {
	t.Helper()
	r, err := NewRouter(Config{
		MaxChars:             maxChars,
		OverlapChars:         overlap,
		TokenChunkSize:       4,
		TokenOverlap:         1,
		TokenSplitAboveBytes: 1 << 20,
	})
	require.NoError(t, err)
	return r
}

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

const prose = `Retrieval systems split documents before embedding them. Each piece should stand on its own.

Overlap keeps context that would otherwise be cut at a boundary! Does it help? Usually it does.
Short line.

A final paragraph that is long enough to need its own chunk, and maybe a second one as well.`

func TestRoute_LineBoundaries(t *testing.T) {
	r := newRouter(t, 5, 0)

	chunks := slices.Collect(r.Route("hello\nworld", "text/plain", 11))

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"hello", "world"}, texts(chunks))
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 5, chunks[0].End)
	assert.Equal(t, 6, chunks[1].Start)
	assert.Equal(t, 11, chunks[1].End)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestRoute_EmptyInput(t *testing.T) {
	r := newRouter(t, 5, 0)
	assert.Empty(t, slices.Collect(r.Route("", "text/plain", 0)))
	assert.Empty(t, slices.Collect(r.Route(" \n\t\n ", "text/plain", 5)))
	assert.Empty(t, slices.Collect(r.Route("", "text/x-go", 0)))
}

func TestRoute_Idempotent(t *testing.T) {
	r := newRouter(t, 60, 10)

	seq := r.Route(prose, "text/plain", int64(len(prose)))
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	again := slices.Collect(r.Route(prose, "text/plain", int64(len(prose))))

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, first, again)
}

func TestRoute_RespectsMaxChars(t *testing.T) {
	for _, tc := range []struct{ max, overlap int }{{40, 0}, {60, 10}, {25, 5}, {8, 3}} {
		r := newRouter(t, tc.max, tc.overlap)
		chunks := slices.Collect(r.Route(prose, "text/plain", int64(len(prose))))
		require.NotEmpty(t, chunks)
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), tc.max, "chunk %d %q", i, c.Text)
			assert.Equal(t, c.Text, strings.TrimSpace(c.Text))
		}
	}
}

// Rebuilding the source from chunk texts, minus overlap, plus the whitespace
// gaps between chunks must give back the original text.
func TestRoute_RoundTrip(t *testing.T) {
	inputs := []string{
		prose,
		"  leading and trailing space  ",
		"hello\nworld",
		strings.Repeat("wörd ", 50),
		"Ünïcödé text. 日本語の文章です。 Emoji 🙂🙂🙂 here!\n\nNext paragraph.",
	}
	for _, tc := range []struct{ max, overlap int }{{5, 0}, {12, 4}, {30, 0}, {50, 20}} {
		r := newRouter(t, tc.max, tc.overlap)
		for _, in := range inputs {
			src := []rune(in)
			var b strings.Builder
			prevEnd := 0
			for c := range r.Route(in, "text/plain", int64(len(in))) {
				require.Equal(t, c.Text, string(src[c.Start:c.End]))
				require.Less(t, prevEnd, c.End+1)
				if c.Start >= prevEnd {
					gap := string(src[prevEnd:c.Start])
					assert.Empty(t, strings.TrimSpace(gap), "gap %q", gap)
					b.WriteString(gap)
					b.WriteString(c.Text)
				} else {
					b.WriteString(string(src[prevEnd:c.End]))
				}
				prevEnd = c.End
			}
			tail := string(src[prevEnd:])
			assert.Empty(t, strings.TrimSpace(tail))
			b.WriteString(tail)
			assert.Equal(t, in, b.String(), "max=%d overlap=%d", tc.max, tc.overlap)
		}
	}
}

func TestRoute_UTF8Safe(t *testing.T) {
	in := strings.Repeat("héllo wörld 日本語テキスト🙂 ", 20)
	r := newRouter(t, 7, 2)

	for c := range r.Route(in, "text/plain", int64(len(in))) {
		assert.True(t, utf8.ValidString(c.Text), "%q", c.Text)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 7)
	}
}

func TestRoute_HardSplit(t *testing.T) {
	r := newRouter(t, 4, 0)
	chunks := slices.Collect(r.Route("abcdefghij", "text/plain", 10))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, texts(chunks))
}

func TestRoute_SentencePunctuationStays(t *testing.T) {
	r := newRouter(t, 6, 0)
	chunks := slices.Collect(r.Route("One. Two! Three?", "text/plain", 16))
	assert.Equal(t, []string{"One.", "Two!", "Three?"}, texts(chunks))
}

func TestRoute_Overlap(t *testing.T) {
	r := newRouter(t, 7, 2)
	chunks := slices.Collect(r.Route("aaaa bbbb cccc", "text/plain", 14))

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"aaaa", "aa bbbb", "bb cccc"}, texts(chunks))
	assert.Equal(t, 2, chunks[1].Start)
	assert.Equal(t, 9, chunks[1].End)
	assert.Equal(t, 7, chunks[2].Start)
}

func TestRoute_EarlyBreak(t *testing.T) {
	r := newRouter(t, 10, 0)
	n := 0
	for range r.Route(prose, "text/plain", int64(len(prose))) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestRoute_MarkdownHeadings(t *testing.T) {
	md := "# Intro\nShort intro.\n\n# Usage\nRun it.\n\n```\n# not a heading\n```\n"
	r := newRouter(t, 30, 0)

	require.Equal(t, StrategyMarkdown, r.Select("text/markdown; charset=utf-8", int64(len(md))))
	chunks := slices.Collect(r.Route(md, "text/markdown", int64(len(md))))

	assert.Equal(t, []string{
		"# Intro\nShort intro.",
		"# Usage\nRun it.",
		"```\n# not a heading\n```",
	}, texts(chunks))
}

func TestSelect(t *testing.T) {
	r := newRouter(t, 100, 10)

	assert.Equal(t, StrategyMarkdown, r.Select("text/x-markdown", 10))
	assert.Equal(t, StrategyToken, r.Select("text/x-go", 10))
	assert.Equal(t, StrategyToken, r.Select("application/json", 10))
	assert.Equal(t, StrategyToken, r.Select("text/plain", 2<<20))
	assert.Equal(t, StrategyRecursive, r.Select("text/plain", 10))
	assert.Equal(t, StrategyRecursive, r.Select("application/pdf", 1<<20))
}

func TestRoute_TokenWindows(t *testing.T) {
	r := newRouter(t, 100, 10)
	in := "a b c d e f g"

	chunks := slices.Collect(r.Route(in, "text/x-go", int64(len(in))))

	require.Len(t, chunks, 2)
	assert.Equal(t, "a b c d", chunks[0].Text)
	assert.Equal(t, "d e f g", chunks[1].Text)
	assert.Equal(t, 6, chunks[1].Start)
	assert.Equal(t, 13, chunks[1].End)
	assert.Equal(t, 4, chunks[0].TokenCount)
	assert.Equal(t, 4, chunks[1].TokenCount)
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 6, CountTokens("fmt.Println(x)"))
	assert.Equal(t, 0, CountTokens("  \n"))
}

func TestConfigValidate(t *testing.T) {
	_, err := NewRouter(Config{MaxChars: 10, OverlapChars: 10, TokenChunkSize: 4, TokenOverlap: 1})
	assert.Error(t, err)

	_, err = NewRouter(Config{MaxChars: 10, OverlapChars: 2, TokenChunkSize: 4, TokenOverlap: 4})
	assert.Error(t, err)

	_, err = NewRouter(Config{MaxChars: 0, TokenChunkSize: 4})
	assert.Error(t, err)
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("abc"))
	assert.Equal(t, 2, approxTokens("héllo"))
}
