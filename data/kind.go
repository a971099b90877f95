package data

import "strings"

// ContentKind classifies an item by what clicking through leads to.
type ContentKind string

const (
	KindArticle   ContentKind = "article"
	KindVideo     ContentKind = "video"
	KindPaper     ContentKind = "paper"
	KindChangelog ContentKind = "changelog"
	KindRelease   ContentKind = "release"
)

var videoHosts = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"twitch.tv",
}

// InferKind derives an item's content kind from its URL and source name.
// It runs exactly once, when the item is created; the stored kind is never
// recomputed.
func InferKind(url, sourceName string) ContentKind {
	u := strings.ToLower(url)
	src := strings.ToLower(sourceName)

	for _, host := range videoHosts {
		if strings.Contains(u, host) {
			return KindVideo
		}
	}
	if strings.Contains(u, "arxiv") || strings.Contains(u, "/paper") {
		return KindPaper
	}
	if strings.Contains(u, "changelog") || strings.Contains(src, "changelog") {
		return KindChangelog
	}
	if strings.Contains(u, "/release/") || strings.Contains(u, "/releases/") {
		return KindRelease
	}
	return KindArticle
}
