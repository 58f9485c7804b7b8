package admin

import (
	"context"
	"errors"
	"time"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/projection/catalog"
	"github.com/nexevent/participation-backend/internal/projection/leaderboard"
	"github.com/nexevent/participation-backend/internal/projection/subindex"
)

const (
	catalogStaleAfter     = 15 * time.Minute
	leaderboardStaleAfter = 10 * time.Minute
	countersStaleAfter    = 15 * time.Minute
)

// PathHealth describes one cached document family.
type PathHealth struct {
	Present     bool          `json:"present"`
	Version     int64         `json:"version,omitempty"`
	Count       int           `json:"count,omitempty"`
	LastUpdated time.Time     `json:"last_updated,omitempty"`
	Age         time.Duration `json:"age,omitempty"`
	Stale       bool          `json:"stale"`
}

// Health reports freshness of every maintained cache path.
func (s *Service) Health(ctx context.Context, caller domain.Principal) (map[string]PathHealth, error) {
	const op = "admin.health"
	if err := s.requireAdmin(op, caller); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := map[string]PathHealth{}

	for _, t := range domain.ActivityTypes {
		var md catalog.Metadata
		ph, err := pathHealth(ctx, s.store, cache.ActivityMetadata(t), &md, now, catalogStaleAfter, func() (int64, int, time.Time) {
			return md.Version, md.Count, md.LastUpdated
		})
		if err != nil {
			return nil, err
		}
		out["activities/"+string(t)] = ph
	}

	var lm leaderboard.Metadata
	ph, err := pathHealth(ctx, s.store, cache.LeaderboardMetadata(), &lm, now, leaderboardStaleAfter, func() (int64, int, time.Time) {
		return lm.Version, lm.UserCount, lm.LastUpdated
	})
	if err != nil {
		return nil, err
	}
	out["leaderboard"] = ph

	cnt, found, err := s.counters.Read(ctx)
	if err != nil {
		return nil, err
	}
	// A present document that never finished its seeding scan is not healthy.
	stats := PathHealth{Present: found}
	if found && cnt.Initialized {
		stats.Version = cnt.Version
		stats.LastUpdated = cnt.LastUpdated
		stats.Age = now.Sub(cnt.LastUpdated)
		stats.Stale = stats.Age > countersStaleAfter
	} else {
		stats.Stale = true
	}
	out["admin/stats"] = stats

	var members map[string]subindex.Meta
	subs := PathHealth{}
	switch err := cache.GetJSON(ctx, s.store, cache.SubmissionsMetadata(), &members); {
	case errors.Is(err, cache.ErrMiss):
		subs.Stale = true
	case err != nil:
		return nil, projection.Wrap(projection.CodeRetryable, op, err)
	default:
		subs.Present = true
		subs.Count = len(members)
	}
	out["admin/submissions"] = subs

	return out, nil
}

func pathHealth(ctx context.Context, store cache.Store, key string, doc any, now time.Time, staleAfter time.Duration, fields func() (int64, int, time.Time)) (PathHealth, error) {
	switch err := cache.GetJSON(ctx, store, key, doc); {
	case errors.Is(err, cache.ErrMiss):
		return PathHealth{Stale: true}, nil
	case err != nil:
		return PathHealth{}, projection.Wrap(projection.CodeRetryable, "admin.health", err)
	}
	version, count, updated := fields()
	ph := PathHealth{
		Present:     true,
		Version:     version,
		Count:       count,
		LastUpdated: updated,
	}
	if !updated.IsZero() {
		ph.Age = now.Sub(updated)
		ph.Stale = ph.Age > staleAfter
	}
	return ph, nil
}
