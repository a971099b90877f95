package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferKind(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		sourceName string
		want       ContentKind
	}{
		{"plain article", "https://example.org/posts/1", "Example Blog", KindArticle},
		{"no url", "", "Example Blog", KindArticle},
		{"youtube", "https://www.youtube.com/watch?v=abc123", "Some Channel", KindVideo},
		{"youtube short link", "https://youtu.be/abc123", "Some Channel", KindVideo},
		{"vimeo", "https://vimeo.com/12345", "Films", KindVideo},
		{"twitch", "https://www.twitch.tv/videos/1", "Streams", KindVideo},
		{"arxiv", "https://arxiv.org/abs/2401.00001", "arXiv cs.DC", KindPaper},
		{"paper path", "https://example.org/paper/attention", "Lab", KindPaper},
		{"changelog in url", "https://example.org/changelog/2024-01", "Example", KindChangelog},
		{"changelog in source", "https://example.org/2024-01", "Product Changelog", KindChangelog},
		{"release path", "https://github.com/acme/widget/releases/v1.2.3", "Widget", KindRelease},
		{"uppercase url", "HTTPS://WWW.YOUTUBE.COM/WATCH?V=X", "Channel", KindVideo},
		// Video hosts win over later rules.
		{"video beats changelog", "https://youtube.com/watch?v=changelog", "Changelog", KindVideo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferKind(tt.url, tt.sourceName))
		})
	}
}
