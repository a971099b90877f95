// Package ingest drives fetch-and-distribute passes over registered
// feeds: resolving the distinct fetch set, deduplicating items globally,
// fanning new items out to subscriber queues and pruning stale entries.
package ingest

import (
	"context"

	"github.com/samber/lo"

	"skim/data"
)

// Registry resolves which feeds to fetch and which subscribers want each.
type Registry struct {
	repo data.Repository
}

func NewRegistry(repo data.Repository) *Registry {
	return &Registry{repo: repo}
}

// DistinctFetchSet groups all enabled subscriptions by feed URL so the
// scheduler fetches each feed exactly once regardless of how many
// subscribers reference it. Entries come back in first-subscription
// order, which also picks the source name and category that seed new
// items from that feed.
func (r *Registry) DistinctFetchSet(ctx context.Context) ([]data.FetchSetEntry, error) {
	subs, err := r.repo.EnabledSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	groups := lo.GroupBy(subs, func(s data.Subscription) string { return s.FeedURL })
	urls := lo.Uniq(lo.Map(subs, func(s data.Subscription, _ int) string { return s.FeedURL }))

	entries := make([]data.FetchSetEntry, 0, len(urls))
	for _, url := range urls {
		group := groups[url]
		entries = append(entries, data.FetchSetEntry{
			FeedURL:    url,
			SourceName: group[0].Name,
			Category:   group[0].Category,
			SubscriberIDs: lo.Uniq(lo.Map(group, func(s data.Subscription, _ int) int32 {
				return s.SubscriberID
			})),
		})
	}

	return entries, nil
}

// SubscriptionsFor is the single-subscriber refresh path: it bypasses
// global grouping and returns only that subscriber's enabled feeds.
func (r *Registry) SubscriptionsFor(ctx context.Context, subscriberID int32) ([]data.Subscription, error) {
	return r.repo.EnabledSubscriptionsFor(ctx, subscriberID)
}
