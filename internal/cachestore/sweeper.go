package cachestore

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// MirrorSweeper periodically deletes mirror rows that have aged past
// their stale-fallback window. The in-memory map evicts lazily on read;
// without the sweeper, rows that are never read again would accumulate
// in the mirror forever.
type MirrorSweeper struct {
	repo *MirrorRepo
	cron *cron.Cron
}

// NewMirrorSweeper creates a sweeper on the given cron schedule
// (standard five-field expressions, e.g. "30 */6 * * *").
func NewMirrorSweeper(repo *MirrorRepo, schedule string) (*MirrorSweeper, error) {
	if repo == nil {
		panic("cachestore: NewMirrorSweeper requires non-nil repo")
	}

	c := cron.New()
	s := &MirrorSweeper{repo: repo, cron: c}

	if _, err := c.AddFunc(schedule, s.sweepOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the cron scheduler.
func (s *MirrorSweeper) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. Blocks until a sweep in progress finishes.
func (s *MirrorSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *MirrorSweeper) sweepOnce() {
	n, err := s.repo.SweepExpiredBefore(time.Now())
	if err != nil {
		log.Printf("[cachestore] mirror sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[cachestore] mirror sweep removed %d expired entries", n)
	}
}
