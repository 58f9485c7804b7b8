package cache

import (
	"strings"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/domain"
)

// Key space:
//
//	activities/{type}/byId|byPoints|byDate|list|metadata
//	users/{id}/pendingActivities|completedActivities|completions|stats
//	leaderboard/top50|ranks/{id}|metadata|refreshLock
//	admin/submissions/byTask|byForm|byQuiz|byStatus|byUser|metadata
//	admin/stats
const sep = "/"

func join(parts ...string) string { return strings.Join(parts, sep) }

func ActivityByID(t domain.ActivityType) string { return join("activities", string(t), "byId") }
func ActivityByPoints(t domain.ActivityType) string { return join("activities", string(t), "byPoints") }
func ActivityByDate(t domain.ActivityType) string { return join("activities", string(t), "byDate") }
func ActivityList(t domain.ActivityType) string { return join("activities", string(t), "list") }
func ActivityMetadata(t domain.ActivityType) string { return join("activities", string(t), "metadata") }

func UserPending(id uuid.UUID) string { return join("users", id.String(), "pendingActivities") }
func UserCompleted(id uuid.UUID) string { return join("users", id.String(), "completedActivities") }
func UserCompletions(id uuid.UUID) string { return join("users", id.String(), "completions") }
func UserStats(id uuid.UUID) string { return join("users", id.String(), "stats") }

func LeaderboardTop() string { return join("leaderboard", "top50") }
func LeaderboardRank(id uuid.UUID) string { return join("leaderboard", "ranks", id.String()) }
func LeaderboardRankPrefix() string { return join("leaderboard", "ranks") + sep }
func LeaderboardMetadata() string { return join("leaderboard", "metadata") }
func LeaderboardLock() string { return join("leaderboard", "refreshLock") }

func SubmissionsByTask() string { return join("admin", "submissions", "byTask") }
func SubmissionsByForm() string { return join("admin", "submissions", "byForm") }
func SubmissionsByQuiz() string { return join("admin", "submissions", "byQuiz") }
func SubmissionsByStatus() string { return join("admin", "submissions", "byStatus") }
func SubmissionsByUser() string { return join("admin", "submissions", "byUser") }
func SubmissionsMetadata() string { return join("admin", "submissions", "metadata") }

func AdminStats() string { return join("admin", "stats") }
