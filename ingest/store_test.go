package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skim/data"
)

func TestResolveOrCreate(t *testing.T) {
	repo := data.NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	id, created, err := ResolveOrCreate(ctx, repo, &data.Item{
		Title:      "Talk",
		URL:        "https://youtube.com/watch?v=abc",
		SourceName: "Conference",
	}, now)
	require.NoError(t, err)
	assert.True(t, created)

	stored, err := repo.ItemByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data.KindVideo, stored.Kind)
	assert.True(t, stored.IngestedTime.Equal(now))

	// The same URL resolves to the existing row. Kind and ingestion
	// time are stamped at creation only.
	later := now.Add(time.Hour)
	id2, created, err := ResolveOrCreate(ctx, repo, &data.Item{
		Title:      "Talk again",
		URL:        "https://youtube.com/watch?v=abc",
		SourceName: "Other Source",
	}, later)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, id2)

	stored, err = repo.ItemByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Talk", stored.Title)
	assert.True(t, stored.IngestedTime.Equal(now))
}

func TestResolveOrCreateWithoutURL(t *testing.T) {
	repo := data.NewMemoryRepository()
	ctx := context.Background()

	// URL-less items never deduplicate against each other.
	id1, created, err := ResolveOrCreate(ctx, repo, &data.Item{Title: "Note one"}, time.Now())
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := ResolveOrCreate(ctx, repo, &data.Item{Title: "Note two"}, time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id1, id2)
}

func TestSweeperPrune(t *testing.T) {
	repo := data.NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	sub, err := repo.CreateSubscriber(ctx, "joe")
	require.NoError(t, err)

	staleID, err := repo.InsertItem(ctx, &data.Item{Title: "Stale", URL: "http://example.org/stale"})
	require.NoError(t, err)
	freshID, err := repo.InsertItem(ctx, &data.Item{Title: "Fresh", URL: "http://example.org/fresh"})
	require.NoError(t, err)

	require.NoError(t, repo.Enqueue(ctx, sub.ID, staleID, now.Add(-8*24*time.Hour)))
	require.NoError(t, repo.Enqueue(ctx, sub.ID, freshID, now.Add(-time.Hour)))

	removed, err := NewSweeper(repo, discardLogger()).Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := repo.QueueEntries(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, freshID, entries[0].ItemID)
}
