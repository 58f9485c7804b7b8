// Package subindex maintains the admin-facing submission indices: per
// task/form/quiz/user membership sets, per-status buckets, and a
// denormalized metadata record per submission. Write order matters: on a
// status change the old-status membership is removed and the metadata
// updated before the new-status membership appears, so no reader ever sees
// a submission in two buckets with disagreeing metadata.
package subindex

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

// Meta is the denormalized display record for one submission.
type Meta struct {
	SubmissionID uuid.UUID           `json:"submission_id"`
	Kind         domain.EntityKind   `json:"kind"`
	UserID       uuid.UUID           `json:"user_id"`
	UserName     string              `json:"user_name,omitempty"`
	ActivityID   uuid.UUID           `json:"activity_id"`
	ActivityType domain.ActivityType `json:"activity_type"`
	Title        string              `json:"title,omitempty"`
	Status       string              `json:"status,omitempty"`
	SubmittedAt  time.Time           `json:"submitted_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Members maps a bucket key (activity id, user id, or status) to submission
// ids.
type Members map[string][]string

func (m Members) add(bucket, id string) {
	for _, v := range m[bucket] {
		if v == id {
			return
		}
	}
	m[bucket] = append(m[bucket], id)
}

func (m Members) remove(bucket, id string) {
	ids := m[bucket]
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		delete(m, bucket)
		return
	}
	m[bucket] = out
}

func (m Members) removeEverywhere(id string) {
	for bucket := range m {
		m.remove(bucket, id)
	}
}

// Maintainer applies submission changes to the index documents. The index
// documents are shared by every concurrent submission handler, so each write
// goes through bounded conflict retry.
type Maintainer struct {
	store cache.Store
	log   *logger.Logger
	hooks projection.Hooks

	// sleep is swappable in tests
	sleep cache.SleepFunc
}

func NewMaintainer(store cache.Store, baseLog *logger.Logger, hooks projection.Hooks) *Maintainer {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Maintainer{
		store: store,
		log:   baseLog.With("component", "SubmissionIndex"),
		hooks: hooks,
		sleep: cache.Sleep,
	}
}

// Index applies one submission change. Idempotent: reapplying the same
// change converges on the same membership.
func (m *Maintainer) Index(ctx context.Context, meta Meta, change domain.ChangeType) error {
	const op = "subindex.index"
	start := time.Now()
	err := m.index(ctx, op, meta, change)
	m.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

func (m *Maintainer) index(ctx context.Context, op string, meta Meta, change domain.ChangeType) error {
	if meta.SubmissionID == uuid.Nil {
		return projection.NewError(projection.CodeValidation, op, "submission id required", nil)
	}
	if change == domain.ChangeDelete {
		return m.removeAll(ctx, op, meta.SubmissionID)
	}
	if meta.UserID == uuid.Nil || meta.ActivityID == uuid.Nil {
		return projection.NewError(projection.CodeValidation, op, "user id and activity id required", nil)
	}
	if !meta.ActivityType.Valid() {
		return projection.NewError(projection.CodeValidation, op, "unknown activity type "+string(meta.ActivityType), nil)
	}

	id := meta.SubmissionID.String()

	var oldStatus string
	err := cache.UpdateJSONRetry(ctx, m.store, cache.SubmissionsMetadata(), m.sleep, m.onConflict(op), func(all map[string]Meta, _ bool) (map[string]Meta, error) {
		if all == nil {
			all = map[string]Meta{}
		}
		oldStatus = ""
		if prev, ok := all[id]; ok {
			oldStatus = prev.Status
		}
		meta.UpdatedAt = time.Now().UTC()
		all[id] = meta
		return all, nil
	})
	if err != nil {
		return m.storeErr(op, err)
	}

	// Metadata carries the new status before any bucket changes, and the
	// bucket swap below is one atomic document update, so a submission can
	// never sit in two status buckets at once.
	if meta.Status != "" || oldStatus != "" {
		err = m.updateMembers(ctx, op, cache.SubmissionsByStatus(), func(members Members) {
			if oldStatus != "" && oldStatus != meta.Status {
				members.remove(oldStatus, id)
			}
			if meta.Status != "" {
				members.add(meta.Status, id)
			}
		})
		if err != nil {
			return m.storeErr(op, err)
		}
	}

	err = m.updateMembers(ctx, op, activityKey(meta.ActivityType), func(members Members) {
		members.add(meta.ActivityID.String(), id)
	})
	if err != nil {
		return m.storeErr(op, err)
	}

	err = m.updateMembers(ctx, op, cache.SubmissionsByUser(), func(members Members) {
		members.add(meta.UserID.String(), id)
	})
	if err != nil {
		return m.storeErr(op, err)
	}
	return nil
}

// removeAll unlinks a deleted submission from every index document.
// Memberships are dropped first, metadata last, so readers that resolve a
// membership hit against metadata still find it during the window.
func (m *Maintainer) removeAll(ctx context.Context, op string, submissionID uuid.UUID) error {
	id := submissionID.String()
	keys := []string{
		cache.SubmissionsByStatus(),
		cache.SubmissionsByTask(),
		cache.SubmissionsByForm(),
		cache.SubmissionsByQuiz(),
		cache.SubmissionsByUser(),
	}
	for _, key := range keys {
		if err := m.updateMembers(ctx, op, key, func(members Members) {
			members.removeEverywhere(id)
		}); err != nil {
			return m.storeErr(op, err)
		}
	}
	err := cache.UpdateJSONRetry(ctx, m.store, cache.SubmissionsMetadata(), m.sleep, m.onConflict(op), func(all map[string]Meta, _ bool) (map[string]Meta, error) {
		if all == nil {
			all = map[string]Meta{}
		}
		delete(all, id)
		return all, nil
	})
	if err != nil {
		return m.storeErr(op, err)
	}
	return nil
}

// Lookup resolves submission ids for one bucket of one index document.
func (m *Maintainer) Lookup(ctx context.Context, key, bucket string) ([]string, error) {
	members := Members{}
	if err := cache.GetJSON(ctx, m.store, key, &members); err != nil && !errors.Is(err, cache.ErrMiss) {
		return nil, m.storeErr("subindex.lookup", err)
	}
	return members[bucket], nil
}

func (m *Maintainer) updateMembers(ctx context.Context, op, key string, mutate func(Members)) error {
	return cache.UpdateJSONRetry(ctx, m.store, key, m.sleep, m.onConflict(op), func(members Members, _ bool) (Members, error) {
		if members == nil {
			members = Members{}
		}
		mutate(members)
		return members, nil
	})
}

func (m *Maintainer) onConflict(op string) func() {
	return func() {
		m.hooks.IncConflict(op)
		m.hooks.IncRetry(op)
	}
}

func activityKey(t domain.ActivityType) string {
	switch t {
	case domain.ActivityQuiz:
		return cache.SubmissionsByQuiz()
	case domain.ActivityForm:
		return cache.SubmissionsByForm()
	default:
		return cache.SubmissionsByTask()
	}
}

func (m *Maintainer) storeErr(op string, err error) error {
	if errors.Is(err, cache.ErrConflict) {
		return projection.Wrap(projection.CodeConflict, op, err)
	}
	return projection.Wrap(projection.CodeRetryable, op, err)
}
