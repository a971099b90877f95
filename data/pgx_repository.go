package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxRepository is the PostgreSQL-backed Repository. Item URL uniqueness
// and queue entry idempotence are enforced by the schema, not by
// application locks, so concurrent passes racing on the same URL are safe.
type PgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) *PgxRepository {
	return &PgxRepository{pool: pool}
}

func (repo *PgxRepository) CreateSubscriber(ctx context.Context, name string) (*Subscriber, error) {
	token, err := GenToken()
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{Name: name, Token: token}
	err = repo.pool.QueryRow(ctx,
		`insert into subscribers(name, token) values($1, $2) returning id, creation_time`,
		name, token,
	).Scan(&sub.ID, &sub.CreationTime)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (repo *PgxRepository) SubscriberByToken(ctx context.Context, token string) (*Subscriber, error) {
	sub := &Subscriber{}
	err := repo.pool.QueryRow(ctx,
		`select id, name, token, creation_time from subscribers where token=$1`,
		token,
	).Scan(&sub.ID, &sub.Name, &sub.Token, &sub.CreationTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (repo *PgxRepository) RegenerateToken(ctx context.Context, subscriberID int32) (string, error) {
	token, err := GenToken()
	if err != nil {
		return "", err
	}

	commandTag, err := repo.pool.Exec(ctx,
		`update subscribers set token=$1 where id=$2`,
		token, subscriberID,
	)
	if err != nil {
		return "", err
	}
	if commandTag.RowsAffected() != 1 {
		return "", ErrNotFound
	}

	return token, nil
}

func (repo *PgxRepository) CreateSubscription(ctx context.Context, sub *Subscription) (int32, error) {
	var id int32
	err := repo.pool.QueryRow(ctx,
		`insert into subscriptions(subscriber_id, feed_url, name, category, enabled)
		values($1, $2, $3, $4, $5)
		returning id`,
		sub.SubscriberID, sub.FeedURL, sub.Name, sub.Category, sub.Enabled,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateSubscription
		}
		return 0, err
	}

	return id, nil
}

func (repo *PgxRepository) SetSubscriptionEnabled(ctx context.Context, subscriberID, subscriptionID int32, enabled bool) error {
	commandTag, err := repo.pool.Exec(ctx,
		`update subscriptions set enabled=$1 where id=$2 and subscriber_id=$3`,
		enabled, subscriptionID, subscriberID,
	)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (repo *PgxRepository) DeleteSubscription(ctx context.Context, subscriberID, subscriptionID int32) error {
	commandTag, err := repo.pool.Exec(ctx,
		`delete from subscriptions where id=$1 and subscriber_id=$2`,
		subscriptionID, subscriberID,
	)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

const subscriptionColumns = `id, subscriber_id, feed_url, name, category, enabled, last_fetch_time, coalesce(last_error, '')`

func (repo *PgxRepository) selectSubscriptions(ctx context.Context, sql string, args ...any) ([]Subscription, error) {
	rows, err := repo.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		var s Subscription
		err := row.Scan(&s.ID, &s.SubscriberID, &s.FeedURL, &s.Name, &s.Category, &s.Enabled, &s.LastFetchTime, &s.LastError)
		return s, err
	})
}

func (repo *PgxRepository) Subscriptions(ctx context.Context, subscriberID int32) ([]Subscription, error) {
	return repo.selectSubscriptions(ctx,
		`select `+subscriptionColumns+` from subscriptions where subscriber_id=$1 order by id`,
		subscriberID,
	)
}

func (repo *PgxRepository) EnabledSubscriptions(ctx context.Context) ([]Subscription, error) {
	return repo.selectSubscriptions(ctx,
		`select `+subscriptionColumns+` from subscriptions where enabled order by id`,
	)
}

func (repo *PgxRepository) EnabledSubscriptionsFor(ctx context.Context, subscriberID int32) ([]Subscription, error) {
	return repo.selectSubscriptions(ctx,
		`select `+subscriptionColumns+` from subscriptions where enabled and subscriber_id=$1 order by id`,
		subscriberID,
	)
}

func (repo *PgxRepository) RecordFetchAttempt(ctx context.Context, feedURL string, subscriberIDs []int32, at time.Time, fetchErr string) error {
	_, err := repo.pool.Exec(ctx,
		`update subscriptions set last_fetch_time=$1, last_error=nullif($2, '')
		where feed_url=$3 and subscriber_id=any($4)`,
		at, fetchErr, feedURL, subscriberIDs,
	)
	return err
}

const itemColumns = `id, title, url, summary, source_name, category, feed_url, kind, published_time, ingested_time`

func (repo *PgxRepository) selectItem(ctx context.Context, sql string, args ...any) (*Item, error) {
	item := &Item{}
	err := repo.pool.QueryRow(ctx, sql, args...).Scan(
		&item.ID, &item.Title, &item.URL, &item.Summary, &item.SourceName,
		&item.Category, &item.FeedURL, &item.Kind, &item.PublishedTime, &item.IngestedTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (repo *PgxRepository) ItemByURL(ctx context.Context, url string) (*Item, error) {
	return repo.selectItem(ctx, `select `+itemColumns+` from items where url=$1`, url)
}

func (repo *PgxRepository) ItemByID(ctx context.Context, itemID int32) (*Item, error) {
	return repo.selectItem(ctx, `select `+itemColumns+` from items where id=$1`, itemID)
}

func (repo *PgxRepository) InsertItem(ctx context.Context, item *Item) (int32, error) {
	var id int32
	err := repo.pool.QueryRow(ctx,
		`insert into items(title, url, summary, source_name, category, feed_url, kind, published_time, ingested_time)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id`,
		item.Title, item.URL, item.Summary, item.SourceName, item.Category,
		item.FeedURL, item.Kind, item.PublishedTime, item.IngestedTime,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateURL
		}
		return 0, err
	}

	return id, nil
}

func (repo *PgxRepository) Enqueue(ctx context.Context, subscriberID, itemID int32, at time.Time) error {
	_, err := repo.pool.Exec(ctx,
		`insert into queue_entries(subscriber_id, item_id, added_time)
		values($1, $2, $3)
		on conflict (subscriber_id, item_id) do nothing`,
		subscriberID, itemID, at,
	)
	return err
}

func (repo *PgxRepository) QueueEntries(ctx context.Context, subscriberID int32) ([]QueueEntry, error) {
	rows, err := repo.pool.Query(ctx,
		`select subscriber_id, item_id, added_time from queue_entries where subscriber_id=$1 order by item_id`,
		subscriberID,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (QueueEntry, error) {
		var e QueueEntry
		err := row.Scan(&e.SubscriberID, &e.ItemID, &e.AddedTime)
		return e, err
	})
}

func (repo *PgxRepository) PruneStaleQueueEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	commandTag, err := repo.pool.Exec(ctx,
		`delete from queue_entries qe
		where qe.added_time < $1
			and not exists (
				select 1 from decisions d
				where d.subscriber_id=qe.subscriber_id and d.item_id=qe.item_id
			)`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	return commandTag.RowsAffected(), nil
}

func (repo *PgxRepository) RecordDecision(ctx context.Context, d *Decision) error {
	decisionTime := d.DecisionTime
	if decisionTime.IsZero() {
		decisionTime = time.Now()
	}

	tx, err := repo.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`insert into decisions(subscriber_id, item_id, accepted, note, decision_time)
		values($1, $2, $3, nullif($4, ''), $5)
		on conflict (subscriber_id, item_id) do update
			set accepted=excluded.accepted, note=excluded.note, decision_time=excluded.decision_time`,
		d.SubscriberID, d.ItemID, d.Accepted, d.Note, decisionTime,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`delete from queue_entries where subscriber_id=$1 and item_id=$2`,
		d.SubscriberID, d.ItemID,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const decidedItemColumns = `i.id, i.title, i.url, i.summary, i.source_name, i.category, i.feed_url, i.kind,
	i.published_time, i.ingested_time, d.accepted, coalesce(d.note, ''), d.decision_time`

func (repo *PgxRepository) selectDecidedItems(ctx context.Context, sql string, args ...any) ([]DecidedItem, error) {
	rows, err := repo.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DecidedItem, error) {
		var di DecidedItem
		err := row.Scan(&di.ID, &di.Title, &di.URL, &di.Summary, &di.SourceName, &di.Category,
			&di.FeedURL, &di.Kind, &di.PublishedTime, &di.IngestedTime,
			&di.Accepted, &di.Note, &di.DecisionTime)
		return di, err
	})
}

func (repo *PgxRepository) SavedItems(ctx context.Context, subscriberID int32, limit int, category string) ([]DecidedItem, error) {
	return repo.selectDecidedItems(ctx,
		`select `+decidedItemColumns+`
		from decisions d join items i on i.id=d.item_id
		where d.subscriber_id=$1 and d.accepted and ($2='' or i.category=$2)
		order by d.decision_time desc
		limit $3`,
		subscriberID, category, limit,
	)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds an ilike substring pattern with the query's own
// `%`, `_` and `\` escaped so it matches literally, the same way the
// memory implementation matches with strings.Contains.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

func (repo *PgxRepository) SearchItems(ctx context.Context, subscriberID int32, query string, limit int) ([]DecidedItem, error) {
	return repo.selectDecidedItems(ctx,
		`select `+decidedItemColumns+`
		from decisions d join items i on i.id=d.item_id
		where d.subscriber_id=$1
			and (i.title ilike $2
				or i.summary ilike $2
				or coalesce(d.note, '') ilike $2)
		order by d.decision_time desc
		limit $3`,
		subscriberID, likePattern(query), limit,
	)
}

func (repo *PgxRepository) DecisionStats(ctx context.Context, subscriberID int32) (*DecisionStats, error) {
	stats := &DecisionStats{AcceptedByCategory: make(map[string]int)}

	err := repo.pool.QueryRow(ctx,
		`select count(*), count(*) filter (where accepted), count(*) filter (where not accepted)
		from decisions where subscriber_id=$1`,
		subscriberID,
	).Scan(&stats.Total, &stats.Accepted, &stats.Rejected)
	if err != nil {
		return nil, err
	}

	rows, err := repo.pool.Query(ctx,
		`select i.category, count(*)
		from decisions d join items i on i.id=d.item_id
		where d.subscriber_id=$1 and d.accepted
		group by i.category`,
		subscriberID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		stats.AcceptedByCategory[category] = n
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return stats, nil
}
