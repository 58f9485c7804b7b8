package userview

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
)

// PointsSource resolves a user's current point total from the primary store.
type PointsSource interface {
	PointsFor(ctx context.Context, userID uuid.UUID) (int, error)
}

// Stats is the per-user snapshot at users/{id}/stats.
type Stats struct {
	UserID         uuid.UUID      `json:"user_id"`
	Points         int            `json:"points"`
	Pending        map[string]int `json:"pending"`
	Completed      map[string]int `json:"completed"`
	TotalPending   int            `json:"total_pending"`
	TotalCompleted int            `json:"total_completed"`
	Version        int64          `json:"version"`
	LastUpdated    time.Time      `json:"last_updated"`
}

// SetPointsSource enables the stats snapshot; without one the point total
// carried in stats stays at its previous value.
func (b *Builder) SetPointsSource(src PointsSource) { b.points = src }

func (b *Builder) writeStats(ctx context.Context, userID uuid.UUID, view View) error {
	pending := view.Pending.counts()
	completed := view.Completed.counts()
	return cache.UpdateJSONRetry(ctx, b.store, cache.UserStats(userID), b.sleep, b.onConflict("userview.stats"), func(old Stats, _ bool) (Stats, error) {
		st := Stats{
			UserID:         userID,
			Points:         old.Points,
			Pending:        pending,
			Completed:      completed,
			TotalPending:   len(view.Pending.Combined),
			TotalCompleted: len(view.Completed.Combined),
			Version:        old.Version + 1,
			LastUpdated:    time.Now().UTC(),
		}
		if b.points != nil {
			if pts, err := b.points.PointsFor(ctx, userID); err == nil {
				st.Points = pts
			} else {
				b.log.Debug("points lookup failed, keeping previous total", "user_id", userID, "error", err)
			}
		}
		return st, nil
	})
}
