package ingest

import (
	"context"
	"errors"
	"time"

	"skim/data"
)

// ResolveOrCreate returns the id of the item identified by candidate's
// canonical URL, creating it if absent. The check-then-insert is safe
// under concurrent passes: the store's uniqueness constraint decides the
// race, and a losing insert is resolved by re-reading the winner's row.
// The second return value reports whether this call created the item.
// Content kind and ingestion time are stamped only at creation.
func ResolveOrCreate(ctx context.Context, repo data.Repository, candidate *data.Item, now time.Time) (int32, bool, error) {
	if candidate.URL != "" {
		existing, err := repo.ItemByURL(ctx, candidate.URL)
		if err == nil {
			return existing.ID, false, nil
		}
		if !errors.Is(err, data.ErrNotFound) {
			return 0, false, err
		}
	}

	candidate.Kind = data.InferKind(candidate.URL, candidate.SourceName)
	candidate.IngestedTime = now

	id, err := repo.InsertItem(ctx, candidate)
	if errors.Is(err, data.ErrDuplicateURL) {
		existing, err := repo.ItemByURL(ctx, candidate.URL)
		if err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}
