package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	log "gopkg.in/inconshreveable/log15.v2"

	"skim/data"
	"skim/feed"
)

const (
	// DefaultFetchTimeout bounds how long a single feed fetch may hang
	// before being abandoned. Abandonment counts as zero items for that
	// feed and never aborts the pass.
	DefaultFetchTimeout = 15 * time.Second

	// DefaultRecencyWindow excludes items published before the window.
	// Items without a known publish time are excluded outright, not
	// defaulted in.
	DefaultRecencyWindow = 24 * time.Hour

	// DefaultMaxCandidates caps how many items one feed may contribute
	// per pass.
	DefaultMaxCandidates = 10
)

// PassStats aggregates the outcome of one pass.
type PassStats struct {
	mutex         sync.Mutex
	NewItems      int
	ExistingItems int
	Distributed   int
	FeedCounts    map[string]int
}

func newPassStats() *PassStats {
	return &PassStats{FeedCounts: make(map[string]int)}
}

func (s *PassStats) record(feedURL string, created bool, fanout int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if created {
		s.NewItems++
	} else {
		s.ExistingItems++
	}
	s.Distributed += fanout
	s.FeedCounts[feedURL]++
}

// Scheduler drives one complete fetch-and-distribute pass across all
// registered feeds. Fetching is sequential by default (Workers=1): it
// bounds outbound concurrency against third-party hosts, and correctness
// never depends on it: per-URL insert atomicity in the store is the
// guarantee, so raising Workers is purely a throughput knob.
type Scheduler struct {
	repo     data.Repository
	registry *Registry
	reader   *feed.Reader
	sweeper  *Sweeper
	logger   log.Logger
	now      func() time.Time

	FetchTimeout  time.Duration
	RecencyWindow time.Duration
	MaxCandidates int
	Workers       int
}

func NewScheduler(repo data.Repository, logger log.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		registry: NewRegistry(repo),
		reader:   feed.NewReader(DefaultFetchTimeout, feed.PointsCommentsRule),
		sweeper:  NewSweeper(repo, logger),
		logger:   logger,
		now:      time.Now,

		FetchTimeout:  DefaultFetchTimeout,
		RecencyWindow: DefaultRecencyWindow,
		MaxCandidates: DefaultMaxCandidates,
		Workers:       1,
	}
}

// Run executes one pass: resolve the fetch set, fetch-and-distribute
// each entry, then prune stale queue entries. Single-feed failures are
// recorded on the feed's subscriptions and never abort the pass; only
// store failures do.
func (s *Scheduler) Run(ctx context.Context) (*PassStats, error) {
	entries, err := s.registry.DistinctFetchSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving fetch set: %w", err)
	}

	stats := newPassStats()

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			return s.processEntry(gctx, entry, stats)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pruned, err := s.sweeper.Prune(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("pass complete",
		"feeds", len(entries),
		"new", stats.NewItems,
		"existing", stats.ExistingItems,
		"distributed", stats.Distributed,
		"pruned", pruned)

	return stats, nil
}

// RefreshSubscriber fetches only one subscriber's enabled feeds. It may
// run concurrently with a scheduled pass; dedup-on-insert at the store
// makes the races harmless. Rate limiting is the caller's job.
func (s *Scheduler) RefreshSubscriber(ctx context.Context, subscriberID int32) (*PassStats, error) {
	subs, err := s.registry.SubscriptionsFor(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("resolving subscriptions for subscriber %d: %w", subscriberID, err)
	}

	stats := newPassStats()
	for _, sub := range subs {
		entry := data.FetchSetEntry{
			FeedURL:       sub.FeedURL,
			SourceName:    sub.Name,
			Category:      sub.Category,
			SubscriberIDs: []int32{subscriberID},
		}
		if err := s.processEntry(ctx, entry, stats); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func (s *Scheduler) processEntry(ctx context.Context, entry data.FetchSetEntry, stats *PassStats) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	items, fetchErr := s.reader.Read(fetchCtx, entry.FeedURL)
	cancel()

	errMsg := ""
	if fetchErr != nil {
		errMsg = fetchErr.Error()
		s.logger.Error("feed fetch failed", "url", entry.FeedURL, "error", fetchErr)
	}

	// Record the attempt even when nothing came back so a stalled feed
	// stays visible on its subscriptions.
	if err := s.repo.RecordFetchAttempt(ctx, entry.FeedURL, entry.SubscriberIDs, s.now(), errMsg); err != nil {
		return fmt.Errorf("recording fetch attempt for %s: %w", entry.FeedURL, err)
	}

	for _, candidate := range s.selectCandidates(items) {
		item := &data.Item{
			Title:         candidate.Title,
			URL:           candidate.Link,
			Summary:       candidate.Description,
			SourceName:    entry.SourceName,
			Category:      entry.Category,
			FeedURL:       entry.FeedURL,
			PublishedTime: candidate.Published,
		}

		itemID, created, err := ResolveOrCreate(ctx, s.repo, item, s.now())
		if err != nil {
			return fmt.Errorf("storing item %q: %w", candidate.Link, err)
		}

		// Fan out regardless of whether the item pre-existed: a
		// subscriber who has not seen it yet still gets a queue entry,
		// and a duplicate enqueue is a no-op.
		for _, subscriberID := range entry.SubscriberIDs {
			if err := s.repo.Enqueue(ctx, subscriberID, itemID, s.now()); err != nil {
				return fmt.Errorf("enqueueing item %d for subscriber %d: %w", itemID, subscriberID, err)
			}
		}

		stats.record(entry.FeedURL, created, len(entry.SubscriberIDs))
	}

	return nil
}

// selectCandidates keeps items published within the recency window,
// newest first, capped at MaxCandidates.
func (s *Scheduler) selectCandidates(items []feed.Item) []feed.Item {
	now := s.now()
	recent := lo.Filter(items, func(it feed.Item, _ int) bool {
		return it.Published != nil && now.Sub(*it.Published) <= s.RecencyWindow
	})

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Published.After(*recent[j].Published)
	})

	if len(recent) > s.MaxCandidates {
		recent = recent[:s.MaxCandidates]
	}
	return recent
}
