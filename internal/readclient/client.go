package readclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/leaderboard"
	"github.com/nexevent/participation-backend/internal/projection/userview"
)

// ErrCacheUnavailable is returned to non-admin callers when a document is
// missing from every cache layer. Only admins may fall through to the
// primary store.
var ErrCacheUnavailable = projection.NewError(projection.CodeUnavailable, "readclient", "cache unavailable", nil)

const defaultLocalTTL = 30 * time.Second

// Principal aliases the shared caller identity; reads are gated on its role
// only when they have to fall through to the primary store.
type Principal = domain.Principal

// Rebuilder regenerates a single user's view from the primary store. It is
// the admin-only fallback when the cache has no document for the user.
type Rebuilder interface {
	PropagateUser(ctx context.Context, userID uuid.UUID) error
}

// Client serves consumer reads through three layers: a process-local TTL
// cache, the shared hierarchical cache, and (for admins only) the primary
// store by way of a rebuild.
type Client struct {
	store       cache.Store
	leaderboard *leaderboard.Maintainer
	rebuilder   Rebuilder
	local       *xsync.MapOf[string, localEntry]
	ttl         time.Duration
	log         *logger.Logger
	hooks       projection.Hooks
}

type localEntry struct {
	raw     []byte
	expires time.Time
}

func New(store cache.Store, lb *leaderboard.Maintainer, rebuilder Rebuilder, baseLog *logger.Logger, hooks projection.Hooks, localTTL time.Duration) *Client {
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Client{
		store:       store,
		leaderboard: lb,
		rebuilder:   rebuilder,
		local:       xsync.NewMapOf[string, localEntry](),
		ttl:         localTTL,
		log:         baseLog.With("component", "ReadClient"),
		hooks:       hooks,
	}
}

// GetPendingActivities returns the caller-visible pending lists for userID.
func (c *Client) GetPendingActivities(ctx context.Context, caller Principal, userID uuid.UUID) (userview.Lists, error) {
	return c.userLists(ctx, "readclient.pending", caller, userID, cache.UserPending(userID))
}

// GetCompletedActivities returns the completed lists for userID.
func (c *Client) GetCompletedActivities(ctx context.Context, caller Principal, userID uuid.UUID) (userview.Lists, error) {
	return c.userLists(ctx, "readclient.completed", caller, userID, cache.UserCompleted(userID))
}

// GetUserStats returns the points/counts snapshot for userID.
func (c *Client) GetUserStats(ctx context.Context, caller Principal, userID uuid.UUID) (userview.Stats, error) {
	const op = "readclient.stats"
	start := time.Now()
	st, err := getThrough[userview.Stats](ctx, c, caller, cache.UserStats(userID), func(ctx context.Context) error {
		return c.rebuilder.PropagateUser(ctx, userID)
	})
	c.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return st, err
}

// GetLeaderboard returns the top entries, truncated to limit when limit is
// below the stored top-N.
func (c *Client) GetLeaderboard(ctx context.Context, caller Principal, limit int) ([]leaderboard.Entry, error) {
	const op = "readclient.leaderboard"
	start := time.Now()
	doc, err := getThrough[[]leaderboard.Entry](ctx, c, caller, cache.LeaderboardTop(), func(ctx context.Context) error {
		_, err := c.leaderboard.Refresh(ctx, true)
		return err
	})
	c.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(doc) {
		doc = doc[:limit]
	}
	return doc, nil
}

// GetUserRank returns the caller-visible rank document for userID.
func (c *Client) GetUserRank(ctx context.Context, caller Principal, userID uuid.UUID) (leaderboard.Entry, error) {
	const op = "readclient.rank"
	start := time.Now()
	e, err := getThrough[leaderboard.Entry](ctx, c, caller, cache.LeaderboardRank(userID), func(ctx context.Context) error {
		_, err := c.leaderboard.Refresh(ctx, true)
		return err
	})
	c.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return e, err
}

// Invalidate drops keys from the local layer; the shared cache is untouched.
func (c *Client) Invalidate(keys ...string) {
	for _, k := range keys {
		c.local.Delete(k)
	}
}

func (c *Client) userLists(ctx context.Context, op string, caller Principal, userID uuid.UUID, key string) (userview.Lists, error) {
	start := time.Now()
	lists, err := getThrough[userview.Lists](ctx, c, caller, key, func(ctx context.Context) error {
		return c.rebuilder.PropagateUser(ctx, userID)
	})
	c.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return lists, err
}

// getThrough reads key through the local layer, then the shared cache. On a
// shared-cache miss, admins run refill against the primary store and retry
// once; everyone else gets ErrCacheUnavailable.
func getThrough[T any](ctx context.Context, c *Client, caller Principal, key string, refill func(context.Context) error) (T, error) {
	var out T
	if raw, ok := c.localGet(key); ok {
		if err := decode(raw, &out); err == nil {
			return out, nil
		}
		c.local.Delete(key)
	}

	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		if !caller.IsAdmin() {
			return out, ErrCacheUnavailable
		}
		if err := refill(ctx); err != nil {
			return out, err
		}
		raw, err = c.store.Get(ctx, key)
		if errors.Is(err, cache.ErrMiss) {
			return out, ErrCacheUnavailable
		}
	}
	if err != nil {
		return out, projection.Wrap(projection.CodeRetryable, "readclient.get", err)
	}

	if err := decode(raw, &out); err != nil {
		return out, projection.Wrap(projection.CodeInternal, "readclient.decode", err)
	}
	c.localPut(key, raw)
	return out, nil
}

func decode(raw []byte, dst any) error { return json.Unmarshal(raw, dst) }

func (c *Client) localGet(key string) ([]byte, bool) {
	e, ok := c.local.Load(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.local.Delete(key)
		return nil, false
	}
	return e.raw, true
}

func (c *Client) localPut(key string, raw []byte) {
	c.local.Store(key, localEntry{raw: raw, expires: time.Now().Add(c.ttl)})
}
