// The sweeper exists because a detached job whose process dies mid-execution
// would otherwise sit in "running" forever with no recovery path.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const staleJobDetail = "job exceeded maximum runtime"

// SweeperStore is the subset of the data store the sweeper needs.
type SweeperStore interface {
	FailStaleScrapeJobs(ctx context.Context, olderThan time.Duration, detail string) (int, error)
}

// Sweeper periodically marks jobs stuck in the running state as errored.
type Sweeper struct {
	cron       *cron.Cron
	store      SweeperStore
	staleAfter time.Duration
	spec       string
}

// NewSweeper creates a Sweeper that fires every interval and sweeps jobs
// running longer than staleAfter.
func NewSweeper(s SweeperStore, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		cron:       cron.New(),
		store:      s,
		staleAfter: staleAfter,
		spec:       fmt.Sprintf("@every %s", interval),
	}
}

// Start registers the sweep and starts the scheduler. Also runs one sweep
// immediately so jobs orphaned by a previous process are cleaned up on boot.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	slog.Info("stale job sweeper started", "spec", s.spec, "stale_after", s.staleAfter)

	go s.sweep(ctx)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep(ctx context.Context) {
	swept, err := s.store.FailStaleScrapeJobs(ctx, s.staleAfter, staleJobDetail)
	if err != nil {
		slog.Error("stale job sweep failed", "error", err)
		return
	}
	if swept > 0 {
		slog.Warn("swept stale scrape jobs", "count", swept)
	}
}
