// Package repos aggregates the primary-store repositories and the scan
// adapters the projection maintainers consume.
package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexevent/participation-backend/internal/data/repos/activity"
	"github.com/nexevent/participation-backend/internal/data/repos/submission"
	"github.com/nexevent/participation-backend/internal/data/repos/user"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/counters"
	"github.com/nexevent/participation-backend/internal/projection/leaderboard"
)

type Repos struct {
	Users        user.UserRepo
	PendingUsers user.PendingUserRepo
	Activities   activity.ActivityRepo
	Submissions  submission.SubmissionRepo
}

func New(db *gorm.DB, baseLog *logger.Logger) Repos {
	return Repos{
		Users:        user.NewUserRepo(db, baseLog),
		PendingUsers: user.NewPendingUserRepo(db, baseLog),
		Activities:   activity.NewActivityRepo(db, baseLog),
		Submissions:  submission.NewSubmissionRepo(db, baseLog),
	}
}

// ListEligibleUserIDs implements the fan-out user set read.
func (r Repos) ListEligibleUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	return r.Users.ListEligibleIDs(ctx, nil)
}

// ListRankedUsers implements the leaderboard scan. Row order is whatever
// the store returns; ties keep that order.
func (r Repos) ListRankedUsers(ctx context.Context) ([]leaderboard.RankedUser, error) {
	users, err := r.Users.ListEligible(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]leaderboard.RankedUser, 0, len(users))
	for _, u := range users {
		out = append(out, leaderboard.RankedUser{
			UserID:      u.ID,
			DisplayName: u.DisplayName,
			Points:      u.Points,
		})
	}
	return out, nil
}

// PointsFor implements the per-user stats point lookup.
func (r Repos) PointsFor(ctx context.Context, userID uuid.UUID) (int, error) {
	u, err := r.Users.GetByID(ctx, nil, userID)
	if err != nil {
		return 0, err
	}
	return u.Points, nil
}

// ScanTotals implements the counters full-scan seed/recompute.
func (r Repos) ScanTotals(ctx context.Context) (counters.Counters, error) {
	var c counters.Counters

	users, err := r.Users.Count(ctx, nil)
	if err != nil {
		return c, err
	}
	pending, err := r.PendingUsers.Count(ctx, nil)
	if err != nil {
		return c, err
	}
	points, err := r.Users.SumPoints(ctx, nil)
	if err != nil {
		return c, err
	}
	byStatus, err := r.Submissions.CountTaskSubmissionsByStatus(ctx, nil)
	if err != nil {
		return c, err
	}
	quizzes, err := r.Submissions.CountQuizSubmissions(ctx, nil)
	if err != nil {
		return c, err
	}
	forms, err := r.Submissions.CountFormSubmissions(ctx, nil)
	if err != nil {
		return c, err
	}

	c.UsersTotal = users
	c.PendingUsersTotal = pending
	c.PointsTotal = points
	c.SubmissionsByStatus = byStatus
	c.QuizSubmissions = quizzes
	c.FormSubmissions = forms
	return c, nil
}
