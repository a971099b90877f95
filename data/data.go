// Package data defines the persisted entities of skim and the Repository
// through which the rest of the system reads and writes them.
package data

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateURL is returned by InsertItem when an item with the same
	// canonical URL already exists. Callers resolve it by re-reading the
	// existing row.
	ErrDuplicateURL = errors.New("duplicate item url")

	// ErrDuplicateSubscription is returned by CreateSubscription when the
	// subscriber already has a subscription to the feed URL.
	ErrDuplicateSubscription = errors.New("duplicate subscription")
)

// Subscriber owns subscriptions, queue entries and decisions. Token is the
// capability credential for the streaming protocol; regenerating it
// invalidates the previous token immediately.
type Subscriber struct {
	ID           int32
	Name         string
	Token        string
	CreationTime time.Time
}

// Subscription is one subscriber's registration of a feed URL. Many
// subscribers may register the same URL; the feed itself is fetched once
// per pass regardless.
type Subscription struct {
	ID            int32
	SubscriberID  int32
	FeedURL       string
	Name          string
	Category      string
	Enabled       bool
	LastFetchTime *time.Time
	LastError     string
}

// Item is a globally deduplicated feed item. URL is the deduplication key.
// PublishedTime is nil when the source document did not carry a usable
// date; it is never defaulted to the ingestion time.
type Item struct {
	ID            int32
	Title         string
	URL           string
	Summary       string
	SourceName    string
	Category      string
	FeedURL       string
	Kind          ContentKind
	PublishedTime *time.Time
	IngestedTime  time.Time
}

// QueueEntry records that a subscriber has not yet decided on an item.
type QueueEntry struct {
	SubscriberID int32
	ItemID       int32
	AddedTime    time.Time
}

// Decision records a subscriber's accept/reject of an item, with an
// optional note. Its presence excludes the pair from queue pruning.
type Decision struct {
	SubscriberID int32
	ItemID       int32
	Accepted     bool
	Note         string
	DecisionTime time.Time
}

// DecidedItem is an item joined with the subscriber's decision on it.
type DecidedItem struct {
	Item
	Accepted     bool
	Note         string
	DecisionTime time.Time
}

// FetchSetEntry is one unique feed URL with every subscriber that wants
// it. SourceName and Category come from the first subscription seen for
// the URL and seed the corresponding item attributes at creation.
type FetchSetEntry struct {
	FeedURL       string
	SourceName    string
	Category      string
	SubscriberIDs []int32
}

// DecisionStats aggregates a subscriber's decision history.
type DecisionStats struct {
	Total              int
	Accepted           int
	Rejected           int
	AcceptedByCategory map[string]int
}
