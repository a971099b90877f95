package data

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type int32Seq struct {
	current int32
	mutex   sync.Mutex
}

func (s *int32Seq) next() int32 {
	s.mutex.Lock()
	s.current++
	n := s.current
	s.mutex.Unlock()
	return n
}

type queueKey struct {
	subscriberID int32
	itemID       int32
}

// MemoryRepository is an in-process Repository used by tests. It enforces
// the same uniqueness rules as the SQL schema so the conformance suite
// exercises both implementations identically.
type MemoryRepository struct {
	mutex              sync.Mutex
	subscriberIDSeq    int32Seq
	subscribersByID    map[int32]*Subscriber
	subscribersByToken map[string]*Subscriber
	subscriptionIDSeq  int32Seq
	subscriptionsByID  map[int32]*Subscription
	itemIDSeq          int32Seq
	itemsByID          map[int32]*Item
	itemsByURL         map[string]*Item
	queue              map[queueKey]time.Time
	decisions          map[queueKey]*Decision
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		subscribersByID:    make(map[int32]*Subscriber),
		subscribersByToken: make(map[string]*Subscriber),
		subscriptionsByID:  make(map[int32]*Subscription),
		itemsByID:          make(map[int32]*Item),
		itemsByURL:         make(map[string]*Item),
		queue:              make(map[queueKey]time.Time),
		decisions:          make(map[queueKey]*Decision),
	}
}

func (repo *MemoryRepository) CreateSubscriber(ctx context.Context, name string) (*Subscriber, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	token, err := GenToken()
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		ID:           repo.subscriberIDSeq.next(),
		Name:         name,
		Token:        token,
		CreationTime: time.Now(),
	}
	repo.subscribersByID[sub.ID] = sub
	repo.subscribersByToken[sub.Token] = sub

	s := *sub
	return &s, nil
}

func (repo *MemoryRepository) SubscriberByToken(ctx context.Context, token string) (*Subscriber, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	sub, ok := repo.subscribersByToken[token]
	if !ok {
		return nil, ErrNotFound
	}

	s := *sub
	return &s, nil
}

func (repo *MemoryRepository) RegenerateToken(ctx context.Context, subscriberID int32) (string, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	sub, ok := repo.subscribersByID[subscriberID]
	if !ok {
		return "", ErrNotFound
	}

	token, err := GenToken()
	if err != nil {
		return "", err
	}

	delete(repo.subscribersByToken, sub.Token)
	sub.Token = token
	repo.subscribersByToken[token] = sub

	return token, nil
}

func (repo *MemoryRepository) CreateSubscription(ctx context.Context, src *Subscription) (int32, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if _, ok := repo.subscribersByID[src.SubscriberID]; !ok {
		return 0, ErrNotFound
	}
	for _, s := range repo.subscriptionsByID {
		if s.SubscriberID == src.SubscriberID && s.FeedURL == src.FeedURL {
			return 0, ErrDuplicateSubscription
		}
	}

	sub := *src
	sub.ID = repo.subscriptionIDSeq.next()
	repo.subscriptionsByID[sub.ID] = &sub

	return sub.ID, nil
}

func (repo *MemoryRepository) SetSubscriptionEnabled(ctx context.Context, subscriberID, subscriptionID int32, enabled bool) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	sub, ok := repo.subscriptionsByID[subscriptionID]
	if !ok || sub.SubscriberID != subscriberID {
		return ErrNotFound
	}
	sub.Enabled = enabled

	return nil
}

func (repo *MemoryRepository) DeleteSubscription(ctx context.Context, subscriberID, subscriptionID int32) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	sub, ok := repo.subscriptionsByID[subscriptionID]
	if !ok || sub.SubscriberID != subscriberID {
		return ErrNotFound
	}
	delete(repo.subscriptionsByID, subscriptionID)

	return nil
}

func (repo *MemoryRepository) Subscriptions(ctx context.Context, subscriberID int32) ([]Subscription, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	return repo.selectSubscriptions(func(s *Subscription) bool {
		return s.SubscriberID == subscriberID
	}), nil
}

func (repo *MemoryRepository) EnabledSubscriptions(ctx context.Context) ([]Subscription, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	return repo.selectSubscriptions(func(s *Subscription) bool {
		return s.Enabled
	}), nil
}

func (repo *MemoryRepository) EnabledSubscriptionsFor(ctx context.Context, subscriberID int32) ([]Subscription, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	return repo.selectSubscriptions(func(s *Subscription) bool {
		return s.Enabled && s.SubscriberID == subscriberID
	}), nil
}

// selectSubscriptions returns copies in id order. Map iteration order is
// random; the pgx implementation orders by id, so match it.
func (repo *MemoryRepository) selectSubscriptions(keep func(*Subscription) bool) []Subscription {
	subs := make([]Subscription, 0, len(repo.subscriptionsByID))
	for _, s := range repo.subscriptionsByID {
		if keep(s) {
			subs = append(subs, *s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

func (repo *MemoryRepository) RecordFetchAttempt(ctx context.Context, feedURL string, subscriberIDs []int32, at time.Time, fetchErr string) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	ids := make(map[int32]bool, len(subscriberIDs))
	for _, id := range subscriberIDs {
		ids[id] = true
	}

	for _, s := range repo.subscriptionsByID {
		if s.FeedURL == feedURL && ids[s.SubscriberID] {
			t := at
			s.LastFetchTime = &t
			s.LastError = fetchErr
		}
	}

	return nil
}

func (repo *MemoryRepository) ItemByURL(ctx context.Context, url string) (*Item, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	item, ok := repo.itemsByURL[url]
	if !ok {
		return nil, ErrNotFound
	}

	i := *item
	return &i, nil
}

func (repo *MemoryRepository) ItemByID(ctx context.Context, itemID int32) (*Item, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	item, ok := repo.itemsByID[itemID]
	if !ok {
		return nil, ErrNotFound
	}

	i := *item
	return &i, nil
}

func (repo *MemoryRepository) InsertItem(ctx context.Context, src *Item) (int32, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if src.URL != "" {
		if _, ok := repo.itemsByURL[src.URL]; ok {
			return 0, ErrDuplicateURL
		}
	}

	item := *src
	item.ID = repo.itemIDSeq.next()
	repo.itemsByID[item.ID] = &item
	if item.URL != "" {
		repo.itemsByURL[item.URL] = &item
	}

	return item.ID, nil
}

func (repo *MemoryRepository) Enqueue(ctx context.Context, subscriberID, itemID int32, at time.Time) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if _, ok := repo.subscribersByID[subscriberID]; !ok {
		return ErrNotFound
	}
	if _, ok := repo.itemsByID[itemID]; !ok {
		return ErrNotFound
	}

	key := queueKey{subscriberID, itemID}
	if _, ok := repo.queue[key]; ok {
		return nil
	}
	repo.queue[key] = at

	return nil
}

func (repo *MemoryRepository) QueueEntries(ctx context.Context, subscriberID int32) ([]QueueEntry, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	entries := make([]QueueEntry, 0, 16)
	for key, at := range repo.queue {
		if key.subscriberID == subscriberID {
			entries = append(entries, QueueEntry{
				SubscriberID: key.subscriberID,
				ItemID:       key.itemID,
				AddedTime:    at,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemID < entries[j].ItemID })

	return entries, nil
}

func (repo *MemoryRepository) PruneStaleQueueEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	var removed int64
	for key, at := range repo.queue {
		if !at.Before(cutoff) {
			continue
		}
		if _, decided := repo.decisions[key]; decided {
			continue
		}
		delete(repo.queue, key)
		removed++
	}

	return removed, nil
}

func (repo *MemoryRepository) RecordDecision(ctx context.Context, src *Decision) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if _, ok := repo.subscribersByID[src.SubscriberID]; !ok {
		return ErrNotFound
	}
	if _, ok := repo.itemsByID[src.ItemID]; !ok {
		return ErrNotFound
	}

	d := *src
	if d.DecisionTime.IsZero() {
		d.DecisionTime = time.Now()
	}
	key := queueKey{d.SubscriberID, d.ItemID}
	repo.decisions[key] = &d
	delete(repo.queue, key)

	return nil
}

func (repo *MemoryRepository) SavedItems(ctx context.Context, subscriberID int32, limit int, category string) ([]DecidedItem, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	saved := repo.decidedItems(subscriberID, func(item *Item, d *Decision) bool {
		if !d.Accepted {
			return false
		}
		return category == "" || item.Category == category
	})
	if limit > 0 && len(saved) > limit {
		saved = saved[:limit]
	}

	return saved, nil
}

func (repo *MemoryRepository) SearchItems(ctx context.Context, subscriberID int32, query string, limit int) ([]DecidedItem, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	q := strings.ToLower(query)
	matched := repo.decidedItems(subscriberID, func(item *Item, d *Decision) bool {
		return strings.Contains(strings.ToLower(item.Title), q) ||
			strings.Contains(strings.ToLower(item.Summary), q) ||
			strings.Contains(strings.ToLower(d.Note), q)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// decidedItems returns the subscriber's decided items passing keep,
// newest decision first.
func (repo *MemoryRepository) decidedItems(subscriberID int32, keep func(*Item, *Decision) bool) []DecidedItem {
	results := make([]DecidedItem, 0, 16)
	for key, d := range repo.decisions {
		if key.subscriberID != subscriberID {
			continue
		}
		item, ok := repo.itemsByID[key.itemID]
		if !ok || !keep(item, d) {
			continue
		}
		results = append(results, DecidedItem{
			Item:         *item,
			Accepted:     d.Accepted,
			Note:         d.Note,
			DecisionTime: d.DecisionTime,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DecisionTime.After(results[j].DecisionTime)
	})
	return results
}

func (repo *MemoryRepository) DecisionStats(ctx context.Context, subscriberID int32) (*DecisionStats, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	stats := &DecisionStats{AcceptedByCategory: make(map[string]int)}
	for key, d := range repo.decisions {
		if key.subscriberID != subscriberID {
			continue
		}
		stats.Total++
		if d.Accepted {
			stats.Accepted++
			if item, ok := repo.itemsByID[key.itemID]; ok {
				stats.AcceptedByCategory[item.Category]++
			}
		} else {
			stats.Rejected++
		}
	}

	return stats, nil
}
