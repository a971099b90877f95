package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeEntities(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"no entities", "no entities"},
		{"&lt;b&gt;bold&lt;/b&gt;", "<b>bold</b>"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"&quot;quoted&quot;", `"quoted"`},
		{"it&#39;s, it&apos;s", "it's, it's"},
		{"a&nbsp;b", "a b"},
		// Single-pass: a double-escaped entity decodes one level only.
		{"&amp;lt;script&amp;gt;", "&lt;script&gt;"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeEntities(tt.in), "input %q", tt.in)
	}
}

func TestStripCDATA(t *testing.T) {
	assert.Equal(t, "Hello", StripCDATA("<![CDATA[Hello]]>"))
	assert.Equal(t, "plain", StripCDATA("plain"))
	assert.Equal(t, "a b", StripCDATA("<![CDATA[a]]> <![CDATA[b]]>"))
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"<p>Hello <b>world</b></p>", "Hello world"},
		{`<a href="http://example.org">link</a> text`, "link text"},
		// Unclosed and misnested markup must not lose text.
		{"<p>unclosed <b>bold", "unclosed bold"},
		{"<div><p>a</div>b</p>", "ab"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StripTags(tt.in), "input %q", tt.in)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a\n\tb   c  "))
	assert.Equal(t, "", CollapseWhitespace(" \n\t "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))

	// Rune-aware: multibyte characters are never split.
	s := strings.Repeat("é", 10)
	assert.Equal(t, strings.Repeat("é", 4)+"…", Truncate(s, 4))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, `"News" & Views`, CleanText("<![CDATA[ &quot;News&quot;  &amp; Views ]]>"))
}

func TestPointsCommentsRule(t *testing.T) {
	summary, ok := PointsCommentsRule("Points: 123 # Comments: 45")
	assert.True(t, ok)
	assert.Equal(t, "123 points · 45 comments", summary)

	summary, ok = PointsCommentsRule("points:7 #comments:0")
	assert.True(t, ok)
	assert.Equal(t, "7 points · 0 comments", summary)

	_, ok = PointsCommentsRule("An ordinary description")
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Hello world", Summarize("<p>Hello <b>world</b></p>"))
	assert.Equal(t, "a b", Summarize("<![CDATA[ a ]]>\n b"))

	// A matching rule replaces the description entirely.
	got := Summarize("Article URL: http://example.org Points: 9 # Comments: 2", PointsCommentsRule)
	assert.Equal(t, "9 points · 2 comments", got)

	// Without a matching rule the text is truncated.
	long := strings.Repeat("x", MaxDescriptionLen+50)
	got = Summarize(long)
	assert.Equal(t, MaxDescriptionLen+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
