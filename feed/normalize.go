package feed

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// MaxDescriptionLen is the truncation point for item descriptions.
const MaxDescriptionLen = 300

// entityReplacer decodes the core HTML entities that survive XML decoding
// when a feed double-escapes its content. Replacement is a single
// simultaneous pass, so "&amp;lt;" becomes "&lt;" rather than "<".
var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&amp;", "&",
)

// DecodeEntities decodes the core HTML entities in s.
func DecodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

// StripCDATA removes CDATA wrappers that leaked through as literal text.
func StripCDATA(s string) string {
	s = strings.ReplaceAll(s, "<![CDATA[", "")
	return strings.ReplaceAll(s, "]]>", "")
}

// StripTags removes markup from s, keeping only text content. The
// tokenizer tolerates the unclosed and misnested fragments that feed
// descriptions routinely contain.
func StripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// CollapseWhitespace reduces all interior whitespace runs to single
// spaces and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most max runes, appending an ellipsis when
// anything was removed.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// CleanText normalizes a short text field such as a title: CDATA
// wrappers stripped, entities decoded, whitespace collapsed.
func CleanText(s string) string {
	return CollapseWhitespace(DecodeEntities(StripCDATA(s)))
}

// A SummaryRule may rewrite a cleaned description into a normalized
// summary. Rules are source-family conventions, not universal behavior,
// so the parser applies only the rules it is handed.
type SummaryRule func(description string) (summary string, ok bool)

var pointsCommentsRegexp = regexp.MustCompile(`(?i)points:\s*(\d+)\s*#\s*comments:\s*(\d+)`)

// PointsCommentsRule rewrites the "Points: N # Comments: M" description
// convention used by link-aggregator feeds into "N points · M comments".
func PointsCommentsRule(description string) (string, bool) {
	m := pointsCommentsRegexp.FindStringSubmatch(description)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("%s points · %s comments", m[1], m[2]), true
}

// Summarize produces an item summary from a raw description: CDATA and
// markup stripped, entities decoded, whitespace collapsed, then either
// rewritten by the first matching rule or truncated.
func Summarize(description string, rules ...SummaryRule) string {
	s := CollapseWhitespace(StripTags(DecodeEntities(StripCDATA(description))))
	for _, rule := range rules {
		if summary, ok := rule(s); ok {
			return summary
		}
	}
	return Truncate(s, MaxDescriptionLen)
}
