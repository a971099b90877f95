package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Reader fetches and parses remote feeds. Every failure mode (network
// error, timeout, non-2xx status, malformed document) surfaces as an
// empty item slice plus the cause; nothing panics or aborts the caller's
// pass.
type Reader struct {
	client *http.Client
	rules  []SummaryRule
}

// NewReader returns a Reader with the given overall request timeout and
// optional summary normalization rules.
func NewReader(timeout time.Duration, rules ...SummaryRule) *Reader {
	return &Reader{
		client: &http.Client{Timeout: timeout},
		rules:  rules,
	}
}

// Read fetches url and parses the response as a feed document.
func (r *Reader) Read(ctx context.Context, url string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("bad HTTP response: %s", resp.Status)
	}

	return Parse(resp.Body, r.rules...)
}
