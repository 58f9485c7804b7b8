// Package completion records, per (user, activity), the completion facts
// derived from submission documents. One fact per pair; facts are mutated on
// status change and never duplicated.
package completion

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

// Fact is the cached completion state of one (user, activity) pair. Status
// is only meaningful for tasks; Score only for quizzes.
type Fact struct {
	UserID       uuid.UUID           `json:"user_id"`
	ActivityID   uuid.UUID           `json:"activity_id"`
	ActivityType domain.ActivityType `json:"activity_type"`
	SubmissionID uuid.UUID           `json:"submission_id,omitempty"`
	Status       string              `json:"status,omitempty"`
	Score        *int                `json:"score,omitempty"`
	SubmittedAt  time.Time           `json:"submitted_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// FactSet holds all facts of one user, keyed by type then activity id.
type FactSet map[domain.ActivityType]map[string]Fact

// Lookup returns the fact for an activity, or nil when none exists.
func (fs FactSet) Lookup(t domain.ActivityType, activityID string) *Fact {
	byID, ok := fs[t]
	if !ok {
		return nil
	}
	f, ok := byID[activityID]
	if !ok {
		return nil
	}
	return &f
}

// Put stores fact under its type and activity id, replacing any earlier
// fact for the same activity.
func (fs FactSet) Put(fact Fact) {
	byID, ok := fs[fact.ActivityType]
	if !ok {
		byID = map[string]Fact{}
		fs[fact.ActivityType] = byID
	}
	byID[fact.ActivityID.String()] = fact
}

// Tracker upserts completion facts into the per-user completions document.
type Tracker struct {
	store cache.Store
	log   *logger.Logger
	hooks projection.Hooks

	// sleep is swappable in tests
	sleep cache.SleepFunc
}

func NewTracker(store cache.Store, baseLog *logger.Logger, hooks projection.Hooks) *Tracker {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Tracker{
		store: store,
		log:   baseLog.With("component", "CompletionTracker"),
		hooks: hooks,
		sleep: cache.Sleep,
	}
}

// Record merge-upserts a fact: fields set on the incoming fact overwrite the
// stored ones, everything else is preserved. Idempotent under redelivery.
func (t *Tracker) Record(ctx context.Context, userID uuid.UUID, fact Fact) error {
	const op = "completion.record"
	start := time.Now()
	err := t.record(ctx, op, userID, fact)
	t.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

func (t *Tracker) record(ctx context.Context, op string, userID uuid.UUID, fact Fact) error {
	if userID == uuid.Nil || fact.ActivityID == uuid.Nil {
		return projection.NewError(projection.CodeValidation, op, "user id and activity id are required", nil)
	}
	if !fact.ActivityType.Valid() {
		return projection.NewError(projection.CodeValidation, op, "unknown activity type "+string(fact.ActivityType), nil)
	}
	fact.UserID = userID

	err := cache.UpdateJSONRetry(ctx, t.store, cache.UserCompletions(userID), t.sleep, t.onConflict(op), func(fs FactSet, _ bool) (FactSet, error) {
		if fs == nil {
			fs = FactSet{}
		}
		byID := fs[fact.ActivityType]
		if byID == nil {
			byID = map[string]Fact{}
			fs[fact.ActivityType] = byID
		}
		id := fact.ActivityID.String()
		merged := merge(byID[id], fact)
		merged.UpdatedAt = time.Now().UTC()
		byID[id] = merged
		return fs, nil
	})
	if err != nil {
		return t.storeErr(op, err)
	}
	return nil
}

// Remove deletes the fact for one (user, activity) pair, used when the
// underlying submission is deleted. Missing facts are a no-op.
func (t *Tracker) Remove(ctx context.Context, userID uuid.UUID, activityType domain.ActivityType, activityID uuid.UUID) error {
	const op = "completion.remove"
	start := time.Now()
	err := cache.UpdateJSONRetry(ctx, t.store, cache.UserCompletions(userID), t.sleep, t.onConflict(op), func(fs FactSet, _ bool) (FactSet, error) {
		if byID, ok := fs[activityType]; ok {
			delete(byID, activityID.String())
			if len(byID) == 0 {
				delete(fs, activityType)
			}
		}
		if fs == nil {
			fs = FactSet{}
		}
		return fs, nil
	})
	if err != nil {
		err = t.storeErr(op, err)
	}
	t.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

// Facts reads the full fact set of one user. A missing document is an empty
// set, not an error.
func (t *Tracker) Facts(ctx context.Context, userID uuid.UUID) (FactSet, error) {
	const op = "completion.facts"
	fs := FactSet{}
	if err := cache.GetJSON(ctx, t.store, cache.UserCompletions(userID), &fs); err != nil && !errors.Is(err, cache.ErrMiss) {
		return nil, t.storeErr(op, err)
	}
	return fs, nil
}

// Replace overwrites the whole fact set for a user, used by backfill.
func (t *Tracker) Replace(ctx context.Context, userID uuid.UUID, fs FactSet) error {
	const op = "completion.replace"
	if err := cache.SetJSON(ctx, t.store, cache.UserCompletions(userID), fs); err != nil {
		return t.storeErr(op, err)
	}
	return nil
}

func merge(old, in Fact) Fact {
	out := old
	out.UserID = in.UserID
	out.ActivityID = in.ActivityID
	out.ActivityType = in.ActivityType
	if in.SubmissionID != uuid.Nil {
		out.SubmissionID = in.SubmissionID
	}
	if in.Status != "" {
		out.Status = in.Status
	}
	if in.Score != nil {
		out.Score = in.Score
	}
	if !in.SubmittedAt.IsZero() {
		out.SubmittedAt = in.SubmittedAt
	}
	return out
}

func (t *Tracker) onConflict(op string) func() {
	return func() {
		t.hooks.IncConflict(op)
		t.hooks.IncRetry(op)
	}
}

func (t *Tracker) storeErr(op string, err error) error {
	if errors.Is(err, cache.ErrConflict) {
		return projection.Wrap(projection.CodeConflict, op, err)
	}
	return projection.Wrap(projection.CodeRetryable, op, err)
}
