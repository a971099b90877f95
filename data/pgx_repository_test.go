package data

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// TestPgxRepository runs the conformance suite against a real database.
// Set SKIM_TEST_DATABASE to a connection string, e.g.
// "host=127.0.0.1 database=skim_test". The schema from schema.sql must
// already be loaded.
func TestPgxRepository(t *testing.T) {
	connString := os.Getenv("SKIM_TEST_DATABASE")
	if connString == "" {
		t.Skip("SKIM_TEST_DATABASE not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	defer pool.Close()

	empty := func(t *testing.T) *PgxRepository {
		_, err := pool.Exec(ctx, "truncate subscribers, subscriptions, items, queue_entries, decisions")
		require.NoError(t, err)
		return NewPgxRepository(pool)
	}

	tests := []struct {
		name string
		run  func(*testing.T, Repository)
	}{
		{"SubscriberLifeCycle", testSubscriberLifeCycle},
		{"RegenerateToken", testRegenerateToken},
		{"SubscriptionLifeCycle", testSubscriptionLifeCycle},
		{"DuplicateSubscription", testDuplicateSubscription},
		{"RecordFetchAttempt", testRecordFetchAttempt},
		{"ItemURLUniqueness", testItemURLUniqueness},
		{"ItemURLUniquenessConcurrent", testItemURLUniquenessConcurrent},
		{"Enqueue", testEnqueue},
		{"PruneStaleQueueEntries", testPruneStaleQueueEntries},
		{"DecisionsAndSavedItems", testDecisionsAndSavedItems},
		{"SearchItems", testSearchItems},
		{"SearchItemsMatchesLiterally", testSearchItemsMatchesLiterally},
		{"DecisionStats", testDecisionStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, empty(t))
		})
	}
}
