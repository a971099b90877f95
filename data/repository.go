package data

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Repository is the store collaborator. Two implementations exist:
// PgxRepository for production and MemoryRepository for tests. Both
// enforce the same integrity rules: at most one item per canonical URL,
// and queue entries unique per (subscriber, item) and only for rows that
// exist.
type Repository interface {
	CreateSubscriber(ctx context.Context, name string) (*Subscriber, error)
	SubscriberByToken(ctx context.Context, token string) (*Subscriber, error)
	// RegenerateToken replaces the subscriber's token, returning the new
	// one. The previous token stops authenticating immediately.
	RegenerateToken(ctx context.Context, subscriberID int32) (string, error)

	CreateSubscription(ctx context.Context, sub *Subscription) (int32, error)
	SetSubscriptionEnabled(ctx context.Context, subscriberID, subscriptionID int32, enabled bool) error
	DeleteSubscription(ctx context.Context, subscriberID, subscriptionID int32) error
	Subscriptions(ctx context.Context, subscriberID int32) ([]Subscription, error)

	// EnabledSubscriptions returns every enabled subscription across all
	// subscribers, in creation order. The registry groups them by URL.
	EnabledSubscriptions(ctx context.Context) ([]Subscription, error)
	EnabledSubscriptionsFor(ctx context.Context, subscriberID int32) ([]Subscription, error)
	// RecordFetchAttempt stamps last_fetch_time (and last_error, which an
	// empty fetchErr clears) on every listed subscriber's subscription to
	// feedURL. Recorded even for empty fetches so a stalled feed is
	// visible.
	RecordFetchAttempt(ctx context.Context, feedURL string, subscriberIDs []int32, at time.Time, fetchErr string) error

	ItemByURL(ctx context.Context, url string) (*Item, error)
	ItemByID(ctx context.Context, itemID int32) (*Item, error)
	// InsertItem persists a new item and returns its id. Returns
	// ErrDuplicateURL when item.URL is non-empty and already present;
	// the uniqueness check and the insert are atomic.
	InsertItem(ctx context.Context, item *Item) (int32, error)

	// Enqueue is an idempotent insert: a duplicate (subscriber, item)
	// pair is a no-op, not an error.
	Enqueue(ctx context.Context, subscriberID, itemID int32, at time.Time) error
	QueueEntries(ctx context.Context, subscriberID int32) ([]QueueEntry, error)
	// PruneStaleQueueEntries deletes queue entries added before cutoff
	// for which no decision exists, returning the number removed.
	PruneStaleQueueEntries(ctx context.Context, cutoff time.Time) (int64, error)

	RecordDecision(ctx context.Context, d *Decision) error
	// SavedItems returns the subscriber's accepted items, newest decision
	// first, optionally filtered by category.
	SavedItems(ctx context.Context, subscriberID int32, limit int, category string) ([]DecidedItem, error)
	// SearchItems matches query case-insensitively against title, summary
	// and decision note of the subscriber's decided items, newest decision
	// first, capped at limit.
	SearchItems(ctx context.Context, subscriberID int32, query string, limit int) ([]DecidedItem, error)
	DecisionStats(ctx context.Context, subscriberID int32) (*DecisionStats, error)
}

// GenToken returns a random 128-bit capability token as hex.
func GenToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
