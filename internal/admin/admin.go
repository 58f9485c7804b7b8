package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/data/repos/activity"
	"github.com/nexevent/participation-backend/internal/data/repos/submission"
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

// Service exposes the privileged maintenance operations. Every method
// checks the caller's role before touching the cache or the primary store.
type Service struct {
	store       cache.Store
	users       user.UserRepo
	activities  activity.ActivityRepo
	submissions submission.SubmissionRepo
	catalogs    *catalog.Writer
	tracker     *completion.Tracker
	subidx      *subindex.Maintainer
	counters    *counters.Maintainer
	leaderboard *leaderboard.Maintainer
	orch        *fanout.Orchestrator
	log         *logger.Logger
	hooks       projection.Hooks
}

type Deps struct {
	Store       cache.Store
	Users       user.UserRepo
	Activities  activity.ActivityRepo
	Submissions submission.SubmissionRepo
	Catalogs    *catalog.Writer
	Tracker     *completion.Tracker
	SubIndex    *subindex.Maintainer
	Counters    *counters.Maintainer
	Leaderboard *leaderboard.Maintainer
	Orch        *fanout.Orchestrator
	Hooks       projection.Hooks
}

func New(d Deps, baseLog *logger.Logger) *Service {
	hooks := d.Hooks
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Service{
		store:       d.Store,
		users:       d.Users,
		activities:  d.Activities,
		submissions: d.Submissions,
		catalogs:    d.Catalogs,
		tracker:     d.Tracker,
		subidx:      d.SubIndex,
		counters:    d.Counters,
		leaderboard: d.Leaderboard,
		orch:        d.Orch,
		log:         baseLog.With("component", "AdminService"),
		hooks:       hooks,
	}
}

func (s *Service) requireAdmin(op string, caller domain.Principal) error {
	if !caller.IsAdmin() {
		return projection.NewError(projection.CodeUnauthorized, op, "caller is not an admin", nil)
	}
	return nil
}

// StepOutcome records one initialization step. A failed step never stops
// the steps after it.
type StepOutcome struct {
	Name    string        `json:"name"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

type InitReport struct {
	Steps  []StepOutcome `json:"steps"`
	Failed int           `json:"failed"`
}

// InitializeCache rebuilds every cached document family from the primary
// store. Steps are independent so a rerun only has to succeed where the
// previous run did not.
func (s *Service) InitializeCache(ctx context.Context, caller domain.Principal) (InitReport, error) {
	const op = "admin.initialize_cache"
	if err := s.requireAdmin(op, caller); err != nil {
		return InitReport{}, err
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"catalogs", s.initCatalogs},
		{"completions", s.initCompletions},
		{"subindexes", s.initSubindexes},
		{"userViews", func(ctx context.Context) error {
			_, err := s.orch.Propagate(ctx, fanout.Options{})
			return err
		}},
		{"counters", func(ctx context.Context) error {
			return s.counters.Recompute(ctx, true)
		}},
		{"leaderboard", func(ctx context.Context) error {
			_, err := s.leaderboard.Refresh(ctx, true)
			return err
		}},
	}

	var report InitReport
	for _, step := range steps {
		start := time.Now()
		err := step.run(ctx)
		outcome := StepOutcome{Name: step.name, Elapsed: time.Since(start)}
		if err != nil {
			outcome.Error = err.Error()
			report.Failed++
			s.log.Warn("initialization step failed", "step", step.name, "error", err)
		} else {
			s.log.Info("initialization step finished", "step", step.name, "elapsed", outcome.Elapsed)
		}
		s.hooks.ObserveOperation(op+"."+step.name, projection.StatusOf(err), outcome.Elapsed)
		report.Steps = append(report.Steps, outcome)
	}
	return report, nil
}

func (s *Service) initCatalogs(ctx context.Context) error {
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

func (s *Service) initCompletions(ctx context.Context) error {
	sets, err := s.collectFactSets(ctx)
	if err != nil {
		return err
	}
	for userID, fs := range sets {
		if err := s.tracker.Replace(ctx, userID, fs); err != nil {
			return err
		}
	}
	return nil
}

// collectFactSets folds every submission in the primary store into per-user
// fact sets, newest submission winning per activity.
func (s *Service) collectFactSets(ctx context.Context) (map[uuid.UUID]completion.FactSet, error) {
	sets := map[uuid.UUID]completion.FactSet{}
	put := func(userID uuid.UUID, fact completion.Fact) {
		fs, ok := sets[userID]
		if !ok {
			fs = completion.FactSet{}
			sets[userID] = fs
		}
		fs.Put(fact)
	}

	tasks, err := s.submissions.ListTaskSubmissions(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, sub := range tasks {
		put(sub.UserID, completion.Fact{
			UserID:       sub.UserID,
			ActivityID:   sub.TaskID,
			ActivityType: domain.ActivityTask,
			SubmissionID: sub.ID,
			Status:       sub.Status,
			SubmittedAt:  sub.SubmittedAt,
		})
	}

	quizzes, err := s.submissions.ListQuizSubmissions(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, sub := range quizzes {
		score := sub.Score
		put(sub.UserID, completion.Fact{
			UserID:       sub.UserID,
			ActivityID:   sub.QuizID,
			ActivityType: domain.ActivityQuiz,
			SubmissionID: sub.ID,
			Score:        &score,
			SubmittedAt:  sub.SubmittedAt,
		})
	}

	forms, err := s.submissions.ListFormSubmissions(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, sub := range forms {
		put(sub.UserID, completion.Fact{
			UserID:       sub.UserID,
			ActivityID:   sub.FormID,
			ActivityType: domain.ActivityForm,
			SubmissionID: sub.ID,
			SubmittedAt:  sub.SubmittedAt,
		})
	}
	return sets, nil
}

func (s *Service) initSubindexes(ctx context.Context) error {
	titles := map[string]string{}
	for _, t := range domain.ActivityTypes {
		recs, err := s.activities.ListRecords(ctx, nil, t)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			titles[rec.ID.String()] = rec.Title
		}
	}
	names := map[uuid.UUID]string{}
	eligible, err := s.users.ListEligible(ctx, nil)
	if err != nil {
		return err
	}
	for _, u := range eligible {
		names[u.ID] = u.DisplayName
	}

	tasks, err := s.submissions.ListTaskSubmissions(ctx, nil)
	if err != nil {
		return err
	}
	for _, sub := range tasks {
		meta := subindex.Meta{
			SubmissionID: sub.ID,
			Kind:         domain.KindSubmission,
			UserID:       sub.UserID,
			UserName:     names[sub.UserID],
			ActivityID:   sub.TaskID,
			ActivityType: domain.ActivityTask,
			Title:        titles[sub.TaskID.String()],
			Status:       sub.Status,
			SubmittedAt:  sub.SubmittedAt,
		}
		if err := s.subidx.Index(ctx, meta, domain.ChangeUpdate); err != nil {
			return err
		}
	}

	quizzes, err := s.submissions.ListQuizSubmissions(ctx, nil)
	if err != nil {
		return err
	}
	for _, sub := range quizzes {
		meta := subindex.Meta{
			SubmissionID: sub.ID,
			Kind:         domain.KindQuizSubmission,
			UserID:       sub.UserID,
			UserName:     names[sub.UserID],
			ActivityID:   sub.QuizID,
			ActivityType: domain.ActivityQuiz,
			Title:        titles[sub.QuizID.String()],
			SubmittedAt:  sub.SubmittedAt,
		}
		if err := s.subidx.Index(ctx, meta, domain.ChangeUpdate); err != nil {
			return err
		}
	}

	forms, err := s.submissions.ListFormSubmissions(ctx, nil)
	if err != nil {
		return err
	}
	for _, sub := range forms {
		meta := subindex.Meta{
			SubmissionID: sub.ID,
			Kind:         domain.KindFormSubmission,
			UserID:       sub.UserID,
			UserName:     names[sub.UserID],
			ActivityID:   sub.FormID,
			ActivityType: domain.ActivityForm,
			Title:        titles[sub.FormID.String()],
			SubmittedAt:  sub.SubmittedAt,
		}
		if err := s.subidx.Index(ctx, meta, domain.ChangeUpdate); err != nil {
			return err
		}
	}
	return nil
}

// SeedStats forces a full recompute of the aggregate counters.
func (s *Service) SeedStats(ctx context.Context, caller domain.Principal) error {
	const op = "admin.seed_stats"
	if err := s.requireAdmin(op, caller); err != nil {
		return err
	}
	return s.counters.Recompute(ctx, true)
}

// BackfillActivityField writes value into Extra[field] of every cached
// record of type t that lacks the field. Reruns touch nothing.
func (s *Service) BackfillActivityField(ctx context.Context, caller domain.Principal, t domain.ActivityType, field string, value any) (int, error) {
	const op = "admin.backfill_activity_field"
	if err := s.requireAdmin(op, caller); err != nil {
		return 0, err
	}
	if field == "" {
		return 0, projection.NewError(projection.CodeValidation, op, "field name required", nil)
	}

	changed := 0
	err := cache.UpdateJSON(ctx, s.store, cache.ActivityByID(t), func(byID catalog.ByID, exists bool) (catalog.ByID, error) {
		changed = 0
		if !exists {
			return byID, nil
		}
		for id, rec := range byID {
			if rec.Extra == nil {
				rec.Extra = map[string]any{}
			}
			if _, ok := rec.Extra[field]; ok {
				continue
			}
			rec.Extra[field] = value
			byID[id] = rec
			changed++
		}
		return byID, nil
	})
	if err != nil {
		return 0, projection.Wrap(projection.CodeRetryable, op, err)
	}
	if changed > 0 {
		s.log.Info("backfilled activity field", "type", t, "field", field, "changed", changed)
	}
	return changed, nil
}

// RefreshUserView rebuilds one user's cached views immediately.
func (s *Service) RefreshUserView(ctx context.Context, caller domain.Principal, userID uuid.UUID) error {
	const op = "admin.refresh_user_view"
	if err := s.requireAdmin(op, caller); err != nil {
		return err
	}
	return s.orch.PropagateUser(ctx, userID)
}
