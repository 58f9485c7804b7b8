package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

// Writer projects primary-store activity documents into the catalog keys.
// All operations are idempotent: re-applying the same input changes only the
// metadata version counter.
type Writer struct {
	store cache.Store
	log   *logger.Logger
	hooks projection.Hooks
}

func NewWriter(store cache.Store, baseLog *logger.Logger, hooks projection.Hooks) *Writer {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Writer{
		store: store,
		log:   baseLog.With("component", "CatalogWriter"),
		hooks: hooks,
	}
}

// Upsert writes the full snapshot for one activity. Records that are not
// active are removed instead, so a deactivation flows through the same path
// as a delete.
func (w *Writer) Upsert(ctx context.Context, rec domain.ActivityRecord) error {
	const op = "catalog.upsert"
	start := time.Now()
	err := w.upsert(ctx, op, rec)
	w.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

func (w *Writer) upsert(ctx context.Context, op string, rec domain.ActivityRecord) error {
	if err := rec.Validate(); err != nil {
		return projection.Wrap(projection.CodeValidation, op, err)
	}
	if !rec.Active() {
		return w.remove(ctx, op, rec.Type, rec.ID)
	}

	id := rec.ID.String()

	var old *domain.ActivityRecord
	var count int
	err := cache.UpdateJSON(ctx, w.store, cache.ActivityByID(rec.Type), func(byID ByID, _ bool) (ByID, error) {
		if byID == nil {
			byID = ByID{}
		}
		if prev, ok := byID[id]; ok {
			cp := prev
			old = &cp
		}
		byID[id] = rec
		count = len(byID)
		return byID, nil
	})
	if err != nil {
		return w.storeErr(op, err)
	}

	if err := w.moveIndices(ctx, op, rec.Type, id, old, &rec); err != nil {
		return err
	}

	err = cache.UpdateJSON(ctx, w.store, cache.ActivityList(rec.Type), func(list List, _ bool) (List, error) {
		if !contains(list, id) {
			list = append(list, id)
		}
		return list, nil
	})
	if err != nil {
		return w.storeErr(op, err)
	}

	return w.bumpMetadata(ctx, op, rec.Type, count)
}

// Remove deletes one activity from the catalog. Unknown ids are a no-op
// apart from the version bump, which keeps redelivered deletes harmless.
func (w *Writer) Remove(ctx context.Context, t domain.ActivityType, id uuid.UUID) error {
	const op = "catalog.remove"
	start := time.Now()
	err := w.remove(ctx, op, t, id)
	w.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

func (w *Writer) remove(ctx context.Context, op string, t domain.ActivityType, id uuid.UUID) error {
	if !t.Valid() {
		return projection.NewError(projection.CodeValidation, op, "unknown activity type "+string(t), nil)
	}
	key := id.String()

	var old *domain.ActivityRecord
	var count int
	err := cache.UpdateJSON(ctx, w.store, cache.ActivityByID(t), func(byID ByID, _ bool) (ByID, error) {
		if byID == nil {
			byID = ByID{}
		}
		if prev, ok := byID[key]; ok {
			cp := prev
			old = &cp
			delete(byID, key)
		}
		count = len(byID)
		return byID, nil
	})
	if err != nil {
		return w.storeErr(op, err)
	}

	if err := w.moveIndices(ctx, op, t, key, old, nil); err != nil {
		return err
	}

	err = cache.UpdateJSON(ctx, w.store, cache.ActivityList(t), func(list List, _ bool) (List, error) {
		return without(list, key), nil
	})
	if err != nil {
		return w.storeErr(op, err)
	}

	return w.bumpMetadata(ctx, op, t, count)
}

// moveIndices keeps byPoints/byDate aligned with byId after an upsert or
// removal. old==nil means fresh insert, next==nil means removal. When the
// old record is unknown (removal after a partial earlier failure) the id is
// swept out of every bucket instead, so redelivery converges.
func (w *Writer) moveIndices(ctx context.Context, op string, t domain.ActivityType, id string, old, next *domain.ActivityRecord) error {
	err := cache.UpdateJSON(ctx, w.store, cache.ActivityByPoints(t), func(b Buckets, _ bool) (Buckets, error) {
		if b == nil {
			b = Buckets{}
		}
		switch {
		case old != nil:
			b.remove(PointBucket(old.PointValue), id)
		case next == nil:
			for bucket := range b {
				b.remove(bucket, id)
			}
		}
		if next != nil {
			b.add(PointBucket(next.PointValue), id)
		}
		return b, nil
	})
	if err != nil {
		return w.storeErr(op, err)
	}

	err = cache.UpdateJSON(ctx, w.store, cache.ActivityByDate(t), func(b Buckets, _ bool) (Buckets, error) {
		if b == nil {
			b = Buckets{}
		}
		switch {
		case old != nil:
			if bucket, ok := DateBucket(old.CreatedAt); ok {
				b.remove(bucket, id)
			} else {
				w.log.Debug("skipping date bucket removal for unparsable date", "type", t, "id", id)
			}
		case next == nil:
			for bucket := range b {
				b.remove(bucket, id)
			}
		}
		if next != nil {
			if bucket, ok := DateBucket(next.CreatedAt); ok {
				b.add(bucket, id)
			}
		}
		return b, nil
	})
	if err != nil {
		return w.storeErr(op, err)
	}
	return nil
}

func (w *Writer) bumpMetadata(ctx context.Context, op string, t domain.ActivityType, count int) error {
	err := cache.UpdateJSON(ctx, w.store, cache.ActivityMetadata(t), func(m Metadata, _ bool) (Metadata, error) {
		m.Version++
		m.Count = count
		m.LastUpdated = time.Now().UTC()
		return m, nil
	})
	if err != nil {
		return w.storeErr(op, err)
	}
	return nil
}

// Rebuild replaces the whole catalog for one type from authoritative rows.
// Used by the scheduler backstop and admin initialization.
func (w *Writer) Rebuild(ctx context.Context, t domain.ActivityType, records []domain.ActivityRecord) error {
	const op = "catalog.rebuild"
	start := time.Now()
	err := w.rebuild(ctx, op, t, records)
	w.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

func (w *Writer) rebuild(ctx context.Context, op string, t domain.ActivityType, records []domain.ActivityRecord) error {
	if !t.Valid() {
		return projection.NewError(projection.CodeValidation, op, "unknown activity type "+string(t), nil)
	}
	byID := ByID{}
	byPoints := Buckets{}
	byDate := Buckets{}
	list := List{}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			w.log.Warn("skipping invalid record during rebuild", "type", t, "error", err)
			continue
		}
		if rec.Type != t || !rec.Active() {
			continue
		}
		id := rec.ID.String()
		byID[id] = rec
		byPoints.add(PointBucket(rec.PointValue), id)
		if bucket, ok := DateBucket(rec.CreatedAt); ok {
			byDate.add(bucket, id)
		}
		list = append(list, id)
	}

	if err := cache.SetJSON(ctx, w.store, cache.ActivityByID(t), byID); err != nil {
		return w.storeErr(op, err)
	}
	if err := cache.SetJSON(ctx, w.store, cache.ActivityByPoints(t), byPoints); err != nil {
		return w.storeErr(op, err)
	}
	if err := cache.SetJSON(ctx, w.store, cache.ActivityByDate(t), byDate); err != nil {
		return w.storeErr(op, err)
	}
	if err := cache.SetJSON(ctx, w.store, cache.ActivityList(t), list); err != nil {
		return w.storeErr(op, err)
	}
	return w.bumpMetadata(ctx, op, t, len(byID))
}

// ReadSnapshot loads one catalog for sharing across a fan-out pass.
func (w *Writer) ReadSnapshot(ctx context.Context, t domain.ActivityType) (Snapshot, error) {
	const op = "catalog.read"
	snap := Snapshot{Type: t, ByID: ByID{}}
	if err := cache.GetJSON(ctx, w.store, cache.ActivityByID(t), &snap.ByID); err != nil && !errors.Is(err, cache.ErrMiss) {
		return snap, w.storeErr(op, err)
	}
	if err := cache.GetJSON(ctx, w.store, cache.ActivityList(t), &snap.Ordered); err != nil && !errors.Is(err, cache.ErrMiss) {
		return snap, w.storeErr(op, err)
	}
	if err := cache.GetJSON(ctx, w.store, cache.ActivityMetadata(t), &snap.Metadata); err != nil && !errors.Is(err, cache.ErrMiss) {
		return snap, w.storeErr(op, err)
	}
	return snap, nil
}

func (w *Writer) storeErr(op string, err error) error {
	if errors.Is(err, cache.ErrConflict) {
		return projection.Wrap(projection.CodeConflict, op, err)
	}
	return projection.Wrap(projection.CodeRetryable, op, err)
}
