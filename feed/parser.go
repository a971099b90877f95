// Package feed reads RSS 2.0 and Atom documents into normalized items.
package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// Item is a normalized feed entry. Published is nil when the document
// carried no usable date; it is never defaulted.
type Item struct {
	Title       string
	Link        string
	Description string
	Published   *time.Time
}

// Parse reads a feed document in a single streaming pass, yielding one
// normalized item per <item> or <entry> block. Items lacking both a
// title and a link are discarded. The decoder is deliberately lax:
// unknown character sets, HTML entities and stray markup are tolerated.
func Parse(r io.Reader, rules ...SummaryRule) ([]Item, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity

	var items []Item
	sawRoot := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep what parsed before trailing garbage; a document that
			// yielded nothing is malformed.
			if len(items) > 0 {
				break
			}
			return nil, fmt.Errorf("malformed feed document: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "rss", "RDF", "rdf", "feed", "channel":
			sawRoot = true
		case "item", "entry":
			item, err := parseItem(dec, start.Name.Local, rules)
			if err != nil {
				if len(items) > 0 {
					return items, nil
				}
				return nil, fmt.Errorf("malformed feed document: %w", err)
			}
			if item != nil {
				items = append(items, *item)
			}
		}
	}

	if !sawRoot {
		return nil, errors.New("document is not an RSS or Atom feed")
	}

	return items, nil
}

// parseItem consumes one item/entry block. Each of the four extraction
// contracts (title, link, description, date) is independent; any may be
// absent. Returns nil for items with neither title nor link.
func parseItem(dec *xml.Decoder, blockName string, rules []SummaryRule) (*Item, error) {
	var title, link, description, summary, content string
	var published, updated string

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "title":
				title, err = innerText(dec)
			case "link":
				var s string
				s, err = innerText(dec)
				if href := atomHref(t); href != "" {
					link = href
				} else if link == "" {
					link = s
				}
			case "description":
				description, err = innerText(dec)
			case "summary":
				summary, err = innerText(dec)
			case "encoded", "content":
				content, err = innerText(dec)
			case "pubDate", "published", "date":
				published, err = innerText(dec)
			case "updated":
				updated, err = innerText(dec)
			default:
				err = dec.Skip()
			}
			if err != nil {
				return nil, err
			}
		case xml.EndElement:
			if t.Name.Local == blockName {
				return buildItem(title, link, description, summary, content, published, updated, rules), nil
			}
		}
	}
}

// atomHref returns the Atom link target. Links pointing at the feed
// itself (rel="self") or other alternates are ignored.
func atomHref(start xml.StartElement) string {
	var href, rel string
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "href":
			href = a.Value
		case "rel":
			rel = a.Value
		}
	}
	if rel != "" && rel != "alternate" {
		return ""
	}
	return href
}

func buildItem(title, link, description, summary, content, published, updated string, rules []SummaryRule) *Item {
	desc := description
	if desc == "" {
		desc = summary
	}
	if desc == "" {
		desc = content
	}

	date := strings.TrimSpace(published)
	if date == "" {
		date = strings.TrimSpace(updated)
	}

	item := &Item{
		Title:       CleanText(title),
		Link:        strings.TrimSpace(StripCDATA(link)),
		Description: Summarize(desc, rules...),
	}
	if item.Title == "" && item.Link == "" {
		return nil
	}

	if date != "" {
		if t, err := parseTime(date); err == nil {
			item.Published = &t
		}
	}

	return item
}

// innerText collects the character data inside the current element,
// including text nested under child markup, until its end tag.
func innerText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return b.String(), nil
			}
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
}

// Try multiple time formats one after another until one works or all fail.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05Z",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822,
	"02 Jan 2006 15:04 MST",           // RFC822 with 4 digit year
	"02 Jan 2006 15:04:05 MST",        // RFC822 with 4 digit year and seconds
	"Mon, _2 Jan 2006 15:04:05 MST",   // RFC1123 with 1-2 digit days
	"Mon, _2 Jan 2006 15:04:05 -0700", // RFC1123 with numeric time zone and with 1-2 digit days
	"Mon, _2 Jan 2006",
	"2006-01-02",
}

func parseTime(value string) (time.Time, error) {
	for _, f := range timeFormats {
		if t, err := time.Parse(f, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unable to parse time")
}
