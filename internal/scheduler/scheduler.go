package scheduler

import (
	"context"
	"time"

	"github.com/nexevent/participation-backend/internal/data/repos/activity"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/catalog"
	"github.com/nexevent/participation-backend/internal/projection/counters"
	"github.com/nexevent/participation-backend/internal/projection/leaderboard"
)

const defaultInterval = 15 * time.Minute

// Scheduler is the periodic backstop: it re-derives the catalogs, the
// leaderboard and the aggregate counters from the primary store so that a
// missed change event heals within one interval instead of persisting
// forever.
type Scheduler struct {
	activities  activity.ActivityRepo
	catalogs    *catalog.Writer
	leaderboard *leaderboard.Maintainer
	counters    *counters.Maintainer
	log         *logger.Logger
	interval    time.Duration
}

func New(activities activity.ActivityRepo, catalogs *catalog.Writer, lb *leaderboard.Maintainer, cnt *counters.Maintainer, baseLog *logger.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		activities:  activities,
		catalogs:    catalogs,
		leaderboard: lb,
		counters:    cnt,
		log:         baseLog.With("component", "Scheduler"),
		interval:    interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce executes one maintenance pass. Each step runs even when an
// earlier one fails; a partial pass still heals what it can.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := s.RebuildCatalogs(ctx); err != nil {
		s.log.Warn("catalog rebuild failed", "error", err)
	}
	// unforced refreshes respect the freshness windows, so a pass that
	// follows recent event-driven work is close to free
	if ran, err := s.leaderboard.Refresh(ctx, false); err != nil {
		s.log.Warn("leaderboard refresh failed", "error", err)
	} else if !ran {
		s.log.Debug("leaderboard refresh skipped", "reason", "fresh or locked")
	}
	if err := s.counters.Recompute(ctx, false); err != nil {
		s.log.Warn("counter recompute failed", "error", err)
	}
	s.log.Info("maintenance pass finished", "elapsed", time.Since(start))
}

// RebuildCatalogs replaces every activity catalog wholesale from the
// primary store.
func (s *Scheduler) RebuildCatalogs(ctx context.Context) error {
	for _, t := range domain.ActivityTypes {
		recs, err := s.activities.ListRecords(ctx, nil, t)
		if err != nil {
			return err
		}
		if err := s.catalogs.Rebuild(ctx, t, recs); err != nil {
			return err
		}
	}
	return nil
}
