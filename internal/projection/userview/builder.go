package userview

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/completion"
)

// Builder recomputes one user's pending/completed lists from catalog
// snapshots and completion facts. A failed build is scoped to its user and
// never aborts sibling builds.
type Builder struct {
	store  cache.Store
	facts  *completion.Tracker
	log    *logger.Logger
	hooks  projection.Hooks
	points PointsSource

	// sleep is swappable in tests
	sleep cache.SleepFunc
}

func NewBuilder(store cache.Store, facts *completion.Tracker, baseLog *logger.Logger, hooks projection.Hooks) *Builder {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Builder{
		store: store,
		facts: facts,
		log:   baseLog.With("component", "UserViewBuilder"),
		hooks: hooks,
		sleep: cache.Sleep,
	}
}

// Rebuild derives both halves of the user's view and writes each as one
// whole document. excludeIDs are subtracted from every candidate set so a
// just-deleted activity disappears even before the catalog write is visible.
func (b *Builder) Rebuild(ctx context.Context, userID uuid.UUID, cats Catalogs, excludeIDs []uuid.UUID) (View, error) {
	const op = "userview.rebuild"
	start := time.Now()
	view, err := b.rebuild(ctx, op, userID, cats, excludeIDs)
	b.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	if err != nil {
		b.log.Warn("user view rebuild failed", "user_id", userID, "error", err)
	}
	return view, err
}

func (b *Builder) rebuild(ctx context.Context, op string, userID uuid.UUID, cats Catalogs, excludeIDs []uuid.UUID) (View, error) {
	if userID == uuid.Nil {
		return View{}, projection.NewError(projection.CodeValidation, op, "user id required", nil)
	}

	facts, err := b.facts.Facts(ctx, userID)
	if err != nil {
		return View{}, err
	}

	exclude := map[string]struct{}{}
	for _, id := range excludeIDs {
		exclude[id.String()] = struct{}{}
	}

	view := View{UserID: userID}
	for _, t := range domain.ActivityTypes {
		snap, ok := cats[t]
		if !ok {
			continue
		}
		pending := view.Pending.byType(t)
		completed := view.Completed.byType(t)
		for _, rec := range snap.OrderedRecords() {
			id := rec.ID.String()
			if _, skip := exclude[id]; skip {
				continue
			}
			fact := facts.Lookup(t, id)
			switch {
			case completion.PendingForAction(t, fact):
				*pending = append(*pending, pendingEntry(rec))
			case completion.Completed(t, fact):
				*completed = append(*completed, completedEntry(rec, fact))
			}
			// a task awaiting review lands in neither list
		}
	}

	view.Pending.Combined = concatPending(view.Pending)
	view.Completed.Combined = concatCompleted(view.Completed)

	if err := b.writeLists(ctx, cache.UserPending(userID), &view.Pending); err != nil {
		return View{}, b.storeErr(op, err)
	}
	if err := b.writeLists(ctx, cache.UserCompleted(userID), &view.Completed); err != nil {
		return View{}, b.storeErr(op, err)
	}
	if err := b.writeStats(ctx, userID, view); err != nil {
		return View{}, b.storeErr(op, err)
	}
	return view, nil
}

// writeLists overwrites the whole document, carrying the previous version
// forward by one. Conflicts are retried: a concurrent writer of the same
// user's document is always another rebuild of the same inputs.
func (b *Builder) writeLists(ctx context.Context, key string, lists *Lists) error {
	return cache.UpdateJSONRetry(ctx, b.store, key, b.sleep, b.onConflict("userview.rebuild"), func(old Lists, _ bool) (Lists, error) {
		lists.Metadata = Metadata{
			Version:     old.Metadata.Version + 1,
			LastUpdated: time.Now().UTC(),
			Counts:      lists.counts(),
		}
		return *lists, nil
	})
}

func pendingEntry(rec domain.ActivityRecord) Entry {
	return Entry{
		ActivityID: rec.ID,
		Type:       rec.Type,
		Title:      rec.Title,
		PointValue: rec.PointValue,
	}
}

func completedEntry(rec domain.ActivityRecord, fact *completion.Fact) Entry {
	e := pendingEntry(rec)
	if fact == nil {
		return e
	}
	e.Score = fact.Score
	e.Status = fact.Status
	if !fact.SubmittedAt.IsZero() {
		at := fact.SubmittedAt
		e.CompletedAt = &at
	}
	return e
}

// concatPending keeps catalog order: quizzes, then tasks, then forms.
func concatPending(l Lists) []Entry {
	out := make([]Entry, 0, len(l.Quizzes)+len(l.Tasks)+len(l.Forms))
	out = append(out, l.Quizzes...)
	out = append(out, l.Tasks...)
	out = append(out, l.Forms...)
	return out
}

// concatCompleted orders by submission time, most recent first.
func concatCompleted(l Lists) []Entry {
	out := concatPending(l)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := entryTime(out[i]), entryTime(out[j])
		return ti.After(tj)
	})
	return out
}

func entryTime(e Entry) time.Time {
	if e.CompletedAt != nil {
		return *e.CompletedAt
	}
	return time.Time{}
}

func (b *Builder) onConflict(op string) func() {
	return func() {
		b.hooks.IncConflict(op)
		b.hooks.IncRetry(op)
	}
}

func (b *Builder) storeErr(op string, err error) error {
	if errors.Is(err, cache.ErrConflict) {
		return projection.Wrap(projection.CodeConflict, op, err)
	}
	if _, ok := err.(*projection.Error); ok {
		return err
	}
	return projection.Wrap(projection.CodeRetryable, op, err)
}
