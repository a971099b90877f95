package ingest

import (
	"context"
	"time"

	log "gopkg.in/inconshreveable/log15.v2"

	"skim/data"
)

// DefaultRetentionHorizon is how long an undecided queue entry survives
// before the sweeper removes it.
const DefaultRetentionHorizon = 7 * 24 * time.Hour

// Sweeper prunes queue entries past the staleness horizon. Entries with
// a recorded decision are never pruned through this path; recording the
// decision already removed them from the queue.
type Sweeper struct {
	repo   data.Repository
	logger log.Logger
	now    func() time.Time

	Horizon time.Duration
}

func NewSweeper(repo data.Repository, logger log.Logger) *Sweeper {
	return &Sweeper{
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		Horizon: DefaultRetentionHorizon,
	}
}

// Prune removes stale undecided queue entries, returning how many.
func (s *Sweeper) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.Horizon)

	removed, err := s.repo.PruneStaleQueueEntries(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.Info("pruned stale queue entries", "removed", removed)
	}
	return removed, nil
}
