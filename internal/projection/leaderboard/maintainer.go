// Package leaderboard recomputes the ranked top-N and every eligible user's
// individual rank, so per-user rank lookups never need a scan. The advisory
// refresh lock only avoids redundant recomputation; concurrent refreshes
// would still be correct, just wasteful.
package leaderboard

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

// RankedUser is the scan row a refresh consumes.
type RankedUser struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Points      int       `json:"points"`
}

// Entry is one leaderboard row with its assigned rank.
type Entry struct {
	RankedUser
	Rank int `json:"rank"`
}

// Metadata stamps the leaderboard documents.
type Metadata struct {
	Version     int64     `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	UserCount   int       `json:"user_count"`
}

// UserSource supplies the eligible users from the primary store.
type UserSource interface {
	ListRankedUsers(ctx context.Context) ([]RankedUser, error)
}

const (
	TopN = 50

	lockTTL           = 5 * time.Minute
	freshnessWindow   = 10 * time.Minute
	releaseAttempts   = 3
	releaseRetryDelay = 100 * time.Millisecond
)

// Maintainer refreshes leaderboard/top50, leaderboard/ranks/{id} and
// leaderboard/metadata under the advisory refresh lock.
type Maintainer struct {
	store cache.Store
	users UserSource
	log   *logger.Logger
	hooks projection.Hooks
}

func NewMaintainer(store cache.Store, users UserSource, baseLog *logger.Logger, hooks projection.Hooks) *Maintainer {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Maintainer{
		store: store,
		users: users,
		log:   baseLog.With("component", "LeaderboardMaintainer"),
		hooks: hooks,
	}
}

// Refresh recomputes the leaderboard. Unforced refreshes return immediately
// when the snapshot is fresh enough or another owner holds the lock, so the
// primary store is not touched at all on those paths.
func (m *Maintainer) Refresh(ctx context.Context, force bool) (bool, error) {
	const op = "leaderboard.refresh"
	start := time.Now()
	ran, err := m.refresh(ctx, op, force)
	m.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return ran, err
}

func (m *Maintainer) refresh(ctx context.Context, op string, force bool) (bool, error) {
	if !force {
		meta, found, err := cache.Snapshot[Metadata](ctx, m.store, cache.LeaderboardMetadata())
		if err != nil {
			return false, projection.Wrap(projection.CodeRetryable, op, err)
		}
		if found && time.Since(meta.LastUpdated) < freshnessWindow {
			return false, nil
		}
	}

	owner := uuid.NewString()
	acquired, err := m.store.AcquireLock(ctx, cache.LeaderboardLock(), owner, lockTTL)
	if err != nil {
		return false, projection.Wrap(projection.CodeRetryable, op, err)
	}
	if !acquired {
		return false, nil
	}
	defer m.release(owner)

	users, err := m.users.ListRankedUsers(ctx)
	if err != nil {
		return false, projection.Wrap(projection.CodeRetryable, op, err)
	}

	// Equal points keep scan order; stable sort makes that explicit.
	sort.SliceStable(users, func(i, j int) bool { return users[i].Points > users[j].Points })

	entries := make([]Entry, len(users))
	for i, u := range users {
		entries[i] = Entry{RankedUser: u, Rank: i + 1}
	}

	top := entries
	if len(top) > TopN {
		top = top[:TopN]
	}
	if err := cache.SetJSON(ctx, m.store, cache.LeaderboardTop(), top); err != nil {
		return false, projection.Wrap(projection.CodeRetryable, op, err)
	}

	current := map[string]struct{}{}
	for _, e := range entries {
		current[e.UserID.String()] = struct{}{}
		if err := cache.SetJSON(ctx, m.store, cache.LeaderboardRank(e.UserID), e); err != nil {
			return false, projection.Wrap(projection.CodeRetryable, op, err)
		}
	}
	if err := m.dropStaleRanks(ctx, current); err != nil {
		m.log.Warn("failed to drop stale rank entries", "error", err)
	}

	err = cache.UpdateJSON(ctx, m.store, cache.LeaderboardMetadata(), func(meta Metadata, _ bool) (Metadata, error) {
		meta.Version++
		meta.LastUpdated = time.Now().UTC()
		meta.UserCount = len(entries)
		return meta, nil
	})
	if err != nil {
		return false, projection.Wrap(projection.CodeRetryable, op, err)
	}
	return true, nil
}

// dropStaleRanks removes rank documents of users no longer eligible.
func (m *Maintainer) dropStaleRanks(ctx context.Context, current map[string]struct{}) error {
	keys, err := m.store.Keys(ctx, cache.LeaderboardRankPrefix())
	if err != nil {
		return err
	}
	var stale []string
	prefix := cache.LeaderboardRankPrefix()
	for _, k := range keys {
		id := k[len(prefix):]
		if _, ok := current[id]; !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return m.store.Delete(ctx, stale...)
}

// release gives back the advisory lock with its own bounded retry. The lock
// TTL is the safety net when release keeps failing, so errors end here.
func (m *Maintainer) release(owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	for attempt := 0; attempt < releaseAttempts; attempt++ {
		if err = m.store.ReleaseLock(ctx, cache.LeaderboardLock(), owner); err == nil {
			return
		}
		time.Sleep(releaseRetryDelay)
	}
	m.log.Warn("leaderboard lock release failed, expiry will reclaim it", "error", err)
}

// Top reads the cached top-N, trimmed to limit when limit > 0.
func (m *Maintainer) Top(ctx context.Context, limit int) ([]Entry, error) {
	var top []Entry
	if err := cache.GetJSON(ctx, m.store, cache.LeaderboardTop(), &top); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, projection.Wrap(projection.CodeUnavailable, "leaderboard.top", err)
		}
		return nil, projection.Wrap(projection.CodeRetryable, "leaderboard.top", err)
	}
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

// Rank reads one user's cached rank entry.
func (m *Maintainer) Rank(ctx context.Context, userID uuid.UUID) (Entry, error) {
	var e Entry
	if err := cache.GetJSON(ctx, m.store, cache.LeaderboardRank(userID), &e); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return e, projection.Wrap(projection.CodeNotFound, "leaderboard.rank", err)
		}
		return e, projection.Wrap(projection.CodeRetryable, "leaderboard.rank", err)
	}
	return e, nil
}
