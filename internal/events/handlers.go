package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/data/repos/user"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/catalog"
	"github.com/nexevent/participation-backend/internal/projection/completion"
	"github.com/nexevent/participation-backend/internal/projection/counters"
	"github.com/nexevent/participation-backend/internal/projection/fanout"
	"github.com/nexevent/participation-backend/internal/projection/leaderboard"
	"github.com/nexevent/participation-backend/internal/projection/subindex"
)

// Deps bundles everything the change handlers touch.
type Deps struct {
	Log          *logger.Logger
	Store        cache.Store
	Catalog      *catalog.Writer
	Tracker      *completion.Tracker
	SubIndex     *subindex.Maintainer
	Counters     *counters.Maintainer
	Leaderboard  *leaderboard.Maintainer
	Orchestrator *fanout.Orchestrator
	Users        user.UserRepo
}

// RegisterAll wires the full handler set for the nine entity kinds.
func RegisterAll(d *Dispatcher, deps Deps) {
	d.Register(&activityHandler{kind: domain.KindQuiz, activityType: domain.ActivityQuiz, deps: deps})
	d.Register(&activityHandler{kind: domain.KindTask, activityType: domain.ActivityTask, deps: deps})
	d.Register(&activityHandler{kind: domain.KindForm, activityType: domain.ActivityForm, deps: deps})
	d.Register(&taskSubmissionHandler{deps: deps})
	d.Register(&quizSubmissionHandler{deps: deps})
	d.Register(&formSubmissionHandler{deps: deps})
	d.Register(&userHandler{deps: deps})
	d.Register(&pendingUserHandler{deps: deps})
	d.Register(&adminHandler{log: deps.Log.With("handler", "admin")})
}

// ---- activities ----

type activityHandler struct {
	kind         domain.EntityKind
	activityType domain.ActivityType
	deps         Deps
}

func (h *activityHandler) Kind() domain.EntityKind { return h.kind }

func (h *activityHandler) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.Change == domain.ChangeDelete {
		if err := h.deps.Catalog.Remove(ctx, h.activityType, ev.EntityID); err != nil {
			return err
		}
		// exclusion guarantees the deleted activity is gone from every
		// view even if a stale catalog read races the removal
		_, err := h.deps.Orchestrator.Propagate(ctx, fanout.Options{ExcludeID: ev.EntityID})
		return err
	}

	rec, err := h.decode(ev)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.activity", err)
	}
	if err := h.deps.Catalog.Upsert(ctx, rec); err != nil {
		return err
	}

	opts := fanout.Options{}
	if !rec.Active() {
		opts.ExcludeID = rec.ID
	}
	_, err = h.deps.Orchestrator.Propagate(ctx, opts)
	return err
}

func (h *activityHandler) decode(ev domain.ChangeEvent) (domain.ActivityRecord, error) {
	switch h.activityType {
	case domain.ActivityQuiz:
		var q domain.Quiz
		if _, err := ev.DecodeAfter(&q); err != nil {
			return domain.ActivityRecord{}, err
		}
		return domain.RecordFromQuiz(&q, jsonArrayLen(q.Questions), q.PointValue), nil
	case domain.ActivityForm:
		var f domain.Form
		if _, err := ev.DecodeAfter(&f); err != nil {
			return domain.ActivityRecord{}, err
		}
		return domain.RecordFromForm(&f, jsonArrayLen(f.Fields)), nil
	default:
		var t domain.Task
		if _, err := ev.DecodeAfter(&t); err != nil {
			return domain.ActivityRecord{}, err
		}
		return domain.RecordFromTask(&t), nil
	}
}

func jsonArrayLen(raw []byte) int {
	if len(raw) == 0 {
		return 0
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return 0
	}
	return len(arr)
}

// ---- task submissions ----

type taskSubmissionHandler struct {
	deps Deps
}

func (h *taskSubmissionHandler) Kind() domain.EntityKind { return domain.KindSubmission }

func (h *taskSubmissionHandler) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	var before, after domain.Submission
	hasBefore, err := ev.DecodeBefore(&before)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.submission", err)
	}
	hasAfter, err := ev.DecodeAfter(&after)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.submission", err)
	}

	if ev.Change == domain.ChangeDelete || !hasAfter {
		if !hasBefore {
			return nil
		}
		if err := h.deps.Tracker.Remove(ctx, before.UserID, domain.ActivityTask, before.TaskID); err != nil {
			return err
		}
		if err := h.deps.SubIndex.Index(ctx, subindex.Meta{SubmissionID: before.ID}, domain.ChangeDelete); err != nil {
			return err
		}
		if before.Status != "" {
			if err := h.deps.Counters.Apply(ctx, counters.Deltas{Submissions: map[string]int64{before.Status: -1}}); err != nil {
				return err
			}
		}
		h.deps.Orchestrator.ScheduleUser(ctx, before.UserID)
		return nil
	}

	fact := completion.Fact{
		ActivityID:   after.TaskID,
		ActivityType: domain.ActivityTask,
		SubmissionID: after.ID,
		Status:       after.Status,
		SubmittedAt:  after.SubmittedAt,
	}
	if err := h.deps.Tracker.Record(ctx, after.UserID, fact); err != nil {
		return err
	}

	meta := subindex.Meta{
		SubmissionID: after.ID,
		Kind:         domain.KindSubmission,
		UserID:       after.UserID,
		UserName:     h.displayName(ctx, after.UserID),
		ActivityID:   after.TaskID,
		ActivityType: domain.ActivityTask,
		Title:        h.activityTitle(ctx, domain.ActivityTask, after.TaskID),
		Status:       after.Status,
		SubmittedAt:  after.SubmittedAt,
	}
	if err := h.deps.SubIndex.Index(ctx, meta, ev.Change); err != nil {
		return err
	}

	deltas := counters.Deltas{Submissions: map[string]int64{}}
	switch {
	case ev.Change == domain.ChangeCreate || !hasBefore:
		deltas.Submissions[after.Status] = 1
	case before.Status != after.Status:
		deltas.Submissions[before.Status]--
		deltas.Submissions[after.Status]++
	}
	if err := h.deps.Counters.Apply(ctx, deltas); err != nil {
		return err
	}

	h.deps.Orchestrator.ScheduleUser(ctx, after.UserID)
	return nil
}

// displayName denormalizes the submitter's name; a failed lookup degrades
// to an empty name rather than failing the whole projection.
func (h *taskSubmissionHandler) displayName(ctx context.Context, userID uuid.UUID) string {
	return lookupDisplayName(ctx, h.deps, userID)
}

func (h *taskSubmissionHandler) activityTitle(ctx context.Context, t domain.ActivityType, id uuid.UUID) string {
	return lookupActivityTitle(ctx, h.deps, t, id)
}

func lookupDisplayName(ctx context.Context, deps Deps, userID uuid.UUID) string {
	u, err := deps.Users.GetByID(ctx, nil, userID)
	if err != nil {
		deps.Log.Debug("display name lookup failed", "user_id", userID, "error", err)
		return ""
	}
	return u.DisplayName
}

func lookupActivityTitle(ctx context.Context, deps Deps, t domain.ActivityType, id uuid.UUID) string {
	snap, err := deps.Catalog.ReadSnapshot(ctx, t)
	if err != nil {
		deps.Log.Debug("activity title lookup failed", "type", t, "id", id, "error", err)
		return ""
	}
	if rec, ok := snap.ByID[id.String()]; ok {
		return rec.Title
	}
	return ""
}

// ---- quiz submissions ----

type quizSubmissionHandler struct {
	deps Deps
}

func (h *quizSubmissionHandler) Kind() domain.EntityKind { return domain.KindQuizSubmission }

func (h *quizSubmissionHandler) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	var before, after domain.QuizSubmission
	hasBefore, err := ev.DecodeBefore(&before)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.quiz_submission", err)
	}
	hasAfter, err := ev.DecodeAfter(&after)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.quiz_submission", err)
	}

	if ev.Change == domain.ChangeDelete || !hasAfter {
		if !hasBefore {
			return nil
		}
		if err := h.deps.Tracker.Remove(ctx, before.UserID, domain.ActivityQuiz, before.QuizID); err != nil {
			return err
		}
		if err := h.deps.SubIndex.Index(ctx, subindex.Meta{SubmissionID: before.ID}, domain.ChangeDelete); err != nil {
			return err
		}
		if err := h.deps.Counters.Apply(ctx, counters.Deltas{QuizSubmissions: -1}); err != nil {
			return err
		}
		h.deps.Orchestrator.ScheduleUser(ctx, before.UserID)
		return nil
	}

	score := after.Score
	fact := completion.Fact{
		ActivityID:   after.QuizID,
		ActivityType: domain.ActivityQuiz,
		SubmissionID: after.ID,
		Score:        &score,
		SubmittedAt:  after.SubmittedAt,
	}
	if err := h.deps.Tracker.Record(ctx, after.UserID, fact); err != nil {
		return err
	}

	meta := subindex.Meta{
		SubmissionID: after.ID,
		Kind:         domain.KindQuizSubmission,
		UserID:       after.UserID,
		UserName:     lookupDisplayName(ctx, h.deps, after.UserID),
		ActivityID:   after.QuizID,
		ActivityType: domain.ActivityQuiz,
		Title:        lookupActivityTitle(ctx, h.deps, domain.ActivityQuiz, after.QuizID),
		SubmittedAt:  after.SubmittedAt,
	}
	if err := h.deps.SubIndex.Index(ctx, meta, ev.Change); err != nil {
		return err
	}

	if ev.Change == domain.ChangeCreate || !hasBefore {
		if err := h.deps.Counters.Apply(ctx, counters.Deltas{QuizSubmissions: 1}); err != nil {
			return err
		}
	}

	h.deps.Orchestrator.ScheduleUser(ctx, after.UserID)
	return nil
}

// ---- form submissions ----

type formSubmissionHandler struct {
	deps Deps
}

func (h *formSubmissionHandler) Kind() domain.EntityKind { return domain.KindFormSubmission }

func (h *formSubmissionHandler) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	var before, after domain.FormSubmission
	hasBefore, err := ev.DecodeBefore(&before)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.form_submission", err)
	}
	hasAfter, err := ev.DecodeAfter(&after)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.form_submission", err)
	}

	if ev.Change == domain.ChangeDelete || !hasAfter {
		if !hasBefore {
			return nil
		}
		if err := h.deps.Tracker.Remove(ctx, before.UserID, domain.ActivityForm, before.FormID); err != nil {
			return err
		}
		if err := h.deps.SubIndex.Index(ctx, subindex.Meta{SubmissionID: before.ID}, domain.ChangeDelete); err != nil {
			return err
		}
		if err := h.deps.Counters.Apply(ctx, counters.Deltas{FormSubmissions: -1}); err != nil {
			return err
		}
		h.deps.Orchestrator.ScheduleUser(ctx, before.UserID)
		return nil
	}

	fact := completion.Fact{
		ActivityID:   after.FormID,
		ActivityType: domain.ActivityForm,
		SubmissionID: after.ID,
		SubmittedAt:  after.SubmittedAt,
	}
	if err := h.deps.Tracker.Record(ctx, after.UserID, fact); err != nil {
		return err
	}

	meta := subindex.Meta{
		SubmissionID: after.ID,
		Kind:         domain.KindFormSubmission,
		UserID:       after.UserID,
		UserName:     lookupDisplayName(ctx, h.deps, after.UserID),
		ActivityID:   after.FormID,
		ActivityType: domain.ActivityForm,
		Title:        lookupActivityTitle(ctx, h.deps, domain.ActivityForm, after.FormID),
		SubmittedAt:  after.SubmittedAt,
	}
	if err := h.deps.SubIndex.Index(ctx, meta, ev.Change); err != nil {
		return err
	}

	if ev.Change == domain.ChangeCreate || !hasBefore {
		if err := h.deps.Counters.Apply(ctx, counters.Deltas{FormSubmissions: 1}); err != nil {
			return err
		}
	}

	h.deps.Orchestrator.ScheduleUser(ctx, after.UserID)
	return nil
}

// ---- users ----

type userHandler struct {
	deps Deps
}

func (h *userHandler) Kind() domain.EntityKind { return domain.KindUser }

func (h *userHandler) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	var before, after domain.User
	hasBefore, err := ev.DecodeBefore(&before)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.user", err)
	}
	hasAfter, err := ev.DecodeAfter(&after)
	if err != nil {
		return projection.Wrap(projection.CodeValidation, "handler.user", err)
	}

	var deltas counters.Deltas
	pointsChanged := false
	switch {
	case ev.Change == domain.ChangeDelete || !hasAfter:
		if !hasBefore {
			return nil
		}
		deltas.Users = -1
		deltas.Points = -int64(before.Points)
		pointsChanged = before.Points != 0
		if err := h.dropUserKeys(ctx, before.ID); err != nil {
			h.deps.Log.Warn("failed to drop cache keys for deleted user", "user_id", before.ID, "error", err)
		}
	case ev.Change == domain.ChangeCreate || !hasBefore:
		deltas.Users = 1
		deltas.Points = int64(after.Points)
		pointsChanged = after.Points != 0
		h.deps.Orchestrator.ScheduleUser(ctx, after.ID)
	default:
		deltas.Points = int64(after.Points - before.Points)
		pointsChanged = after.Points != before.Points
	}

	if err := h.deps.Counters.Apply(ctx, deltas); err != nil {
		return err
	}
	if pointsChanged {
		// unforced: the freshness window coalesces bursts of point changes
		if _, err := h.deps.Leaderboard.Refresh(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

func (h *userHandler) dropUserKeys(ctx context.Context, userID uuid.UUID) error {
	return h.deps.Store.Delete(ctx,
		cache.UserPending(userID),
		cache.UserCompleted(userID),
		cache.UserCompletions(userID),
		cache.UserStats(userID),
		cache.LeaderboardRank(userID),
	)
}

// ---- pending users ----

type pendingUserHandler struct {
	deps Deps
}

func (h *pendingUserHandler) Kind() domain.EntityKind { return domain.KindPendingUser }

func (h *pendingUserHandler) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	var deltas counters.Deltas
	switch ev.Change {
	case domain.ChangeCreate:
		deltas.PendingUsers = 1
	case domain.ChangeDelete:
		deltas.PendingUsers = -1
	default:
		return nil
	}
	return h.deps.Counters.Apply(ctx, deltas)
}

// ---- admins ----

// adminHandler only audits admin document changes; no projection depends on
// them.
type adminHandler struct {
	log *logger.Logger
}

func (h *adminHandler) Kind() domain.EntityKind { return domain.KindAdmin }

func (h *adminHandler) Handle(_ context.Context, ev domain.ChangeEvent) error {
	h.log.Info("admin document changed", "change", ev.Change, "entity_id", ev.EntityID)
	return nil
}
