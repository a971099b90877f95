package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(year int, month time.Month, day, hour, min, sec int) *time.Time {
	t := time.Date(year, month, day, hour, min, sec, 0, time.UTC)
	return &t
}

var feedParsingTests = []struct {
	name   string
	body   string
	items  []Item
	errMsg string
}{
	{"RSS - Minimal",
		`<?xml version='1.0' encoding='UTF-8'?>
<rss>
  <channel>
    <title>News</title>
    <item>
      <title>Snow Storm</title>
      <link>http://example.org/snow-storm</link>
      <pubDate>Fri, 03 Jan 2014 22:45:00 GMT</pubDate>
    </item>
    <item>
      <title>Blizzard</title>
      <link>http://example.org/blizzard</link>
      <pubDate>Sat, 04 Jan 2014 08:15:00 GMT</pubDate>
    </item>
  </channel>
</rss>
</xml>`,
		[]Item{
			{Title: "Snow Storm", Link: "http://example.org/snow-storm", Published: ts(2014, 1, 3, 22, 45, 0)},
			{Title: "Blizzard", Link: "http://example.org/blizzard", Published: ts(2014, 1, 4, 8, 15, 0)},
		},
		"",
	},
	{"RSS - v1 with date element",
		`<?xml version='1.0' encoding='UTF-8'?>
<rdf>
  <channel>
    <title>News</title>
  </channel>
  <item>
    <title>Snow Storm</title>
    <link>http://example.org/snow-storm</link>
    <date>2014-01-03T22:45:00Z</date>
  </item>
</rdf>`,
		[]Item{
			{Title: "Snow Storm", Link: "http://example.org/snow-storm", Published: ts(2014, 1, 3, 22, 45, 0)},
		},
		"",
	},
	{"RSS - description with markup and entities",
		`<rss><channel>
  <item>
    <title><![CDATA[Tom &amp; Jerry]]></title>
    <link>http://example.org/cartoons</link>
    <description><![CDATA[<p>A &quot;classic&quot;   <b>short</b></p>]]></description>
  </item>
</channel></rss>`,
		[]Item{
			{Title: "Tom & Jerry", Link: "http://example.org/cartoons", Description: `A "classic" short`},
		},
		"",
	},
	{"RSS - missing date keeps item with nil time",
		`<rss><channel>
  <item>
    <title>Undated</title>
    <link>http://example.org/undated</link>
  </item>
</channel></rss>`,
		[]Item{
			{Title: "Undated", Link: "http://example.org/undated"},
		},
		"",
	},
	{"RSS - unparseable date keeps item with nil time",
		`<rss><channel>
  <item>
    <title>Odd Date</title>
    <link>http://example.org/odd</link>
    <pubDate>sometime last week</pubDate>
  </item>
</channel></rss>`,
		[]Item{
			{Title: "Odd Date", Link: "http://example.org/odd"},
		},
		"",
	},
	{"RSS - item with neither title nor link is discarded",
		`<rss><channel>
  <item>
    <description>orphan description</description>
  </item>
  <item>
    <title>Kept</title>
    <link>http://example.org/kept</link>
  </item>
</channel></rss>`,
		[]Item{
			{Title: "Kept", Link: "http://example.org/kept"},
		},
		"",
	},
	{"Atom - Minimal",
		`<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Feed</title>
  <link href="http://example.org/" rel="self"/>
  <entry>
    <title>Atom-Powered Robots Run Amok</title>
    <link href="http://example.org/2003/12/13/atom03"/>
    <updated>2003-12-13T18:30:02Z</updated>
    <summary>Some text.</summary>
  </entry>
</feed>`,
		[]Item{
			{Title: "Atom-Powered Robots Run Amok", Link: "http://example.org/2003/12/13/atom03", Description: "Some text.", Published: ts(2003, 12, 13, 18, 30, 2)},
		},
		"",
	},
	{"Atom - alternate link wins over self",
		`<feed>
  <entry>
    <title>Linked</title>
    <link rel="self" href="http://example.org/feed.xml"/>
    <link rel="alternate" href="http://example.org/post"/>
    <published>2020-06-01T00:00:00Z</published>
  </entry>
</feed>`,
		[]Item{
			{Title: "Linked", Link: "http://example.org/post", Published: ts(2020, 6, 1, 0, 0, 0)},
		},
		"",
	},
	{"Atom - published wins over updated",
		`<feed>
  <entry>
    <title>Dated</title>
    <link href="http://example.org/dated"/>
    <published>2020-06-01T00:00:00Z</published>
    <updated>2021-06-01T00:00:00Z</updated>
  </entry>
</feed>`,
		[]Item{
			{Title: "Dated", Link: "http://example.org/dated", Published: ts(2020, 6, 1, 0, 0, 0)},
		},
		"",
	},
	{"RSS - description wins over content:encoded",
		`<rss><channel>
  <item>
    <title>Both</title>
    <link>http://example.org/both</link>
    <description>short form</description>
    <content:encoded><![CDATA[<p>long form</p>]]></content:encoded>
  </item>
</channel></rss>`,
		[]Item{
			{Title: "Both", Link: "http://example.org/both", Description: "short form"},
		},
		"",
	},
	{"Not a feed",
		`<html><body><p>This is not a feed.</p></body></html>`,
		nil,
		"document is not an RSS or Atom feed",
	},
	{"Malformed",
		`garbage that is not xml at all <<<`,
		nil,
		"malformed feed document",
	},
}

func TestParse(t *testing.T) {
	for _, tt := range feedParsingTests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Parse(strings.NewReader(tt.body))
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.Len(t, items, len(tt.items))

			for i, want := range tt.items {
				got := items[i]
				assert.Equal(t, want.Title, got.Title, "item %d title", i)
				assert.Equal(t, want.Link, got.Link, "item %d link", i)
				assert.Equal(t, want.Description, got.Description, "item %d description", i)
				if want.Published == nil {
					assert.Nil(t, got.Published, "item %d published", i)
				} else if assert.NotNil(t, got.Published, "item %d published", i) {
					assert.True(t, got.Published.Equal(*want.Published),
						"item %d published: want %v, got %v", i, want.Published, got.Published)
				}
			}
		})
	}
}

func TestParseNonUTF8Charset(t *testing.T) {
	body := "<?xml version=\"1.0\" encoding=\"windows-1252\"?><rss><channel><item><title>caf\xe9</title><link>http://example.org/cafe</link></item></channel></rss>"

	items, err := Parse(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "café", items[0].Title)
}

func TestParseAppliesSummaryRules(t *testing.T) {
	body := `<rss><channel>
  <item>
    <title>Show HN: Skim</title>
    <link>http://example.org/skim</link>
    <description>Article URL: http://example.org/skim Points: 42 # Comments: 7</description>
  </item>
</channel></rss>`

	items, err := Parse(strings.NewReader(body), PointsCommentsRule)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "42 points · 7 comments", items[0].Description)
}

func TestParseKeepsItemsBeforeTrailingGarbage(t *testing.T) {
	body := `<rss><channel>
  <item><title>Good</title><link>http://example.org/good</link></item>
</channel></rss>
</unbalanced>`

	items, err := Parse(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Good", items[0].Title)
}
