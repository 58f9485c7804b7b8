package submission

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/data/repos/testutil"
	types "github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

func TestTaskSubmissionLifecycle(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSubmissionRepo(db, logger.Nop())
	ctx := context.Background()
	userID := uuid.New()
	taskID := uuid.New()

	sub, err := repo.CreateTaskSubmission(ctx, nil, &types.Submission{
		UserID:  userID,
		TaskID:  taskID,
		Status:  types.SubmissionStatusPending,
		Content: "done, photos attached",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateTaskSubmissionStatus(ctx, nil, sub.ID, types.SubmissionStatusApproved); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := repo.GetTaskSubmission(ctx, nil, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.SubmissionStatusApproved {
		t.Fatalf("status: %+v", got)
	}

	byUser, err := repo.ListTaskSubmissionsByUser(ctx, nil, userID)
	if err != nil || len(byUser) != 1 {
		t.Fatalf("list by user: %v (%d rows)", err, len(byUser))
	}
	counts, err := repo.CountTaskSubmissionsByStatus(ctx, nil)
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	if counts[types.SubmissionStatusApproved] != 1 {
		t.Fatalf("status counts: %v", counts)
	}
}

func TestQuizAndFormSubmissionScans(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSubmissionRepo(db, logger.Nop())
	ctx := context.Background()
	userID := uuid.New()

	early := time.Now().Add(-time.Hour).UTC()
	late := time.Now().UTC()

	if _, err := repo.CreateQuizSubmission(ctx, nil, &types.QuizSubmission{
		UserID: userID, QuizID: uuid.New(), Score: 7, SubmittedAt: late,
	}); err != nil {
		t.Fatalf("create quiz submission: %v", err)
	}
	if _, err := repo.CreateQuizSubmission(ctx, nil, &types.QuizSubmission{
		UserID: userID, QuizID: uuid.New(), Score: 5, SubmittedAt: early,
	}); err != nil {
		t.Fatalf("create quiz submission: %v", err)
	}
	if _, err := repo.CreateFormSubmission(ctx, nil, &types.FormSubmission{
		UserID: userID, FormID: uuid.New(), Answers: []byte(`{"rating":4}`),
	}); err != nil {
		t.Fatalf("create form submission: %v", err)
	}

	quizzes, err := repo.ListQuizSubmissions(ctx, nil)
	if err != nil {
		t.Fatalf("list quiz submissions: %v", err)
	}
	if len(quizzes) != 2 || !quizzes[0].SubmittedAt.Before(quizzes[1].SubmittedAt) {
		t.Fatalf("scan order: %+v", quizzes)
	}

	n, err := repo.CountQuizSubmissions(ctx, nil)
	if err != nil || n != 2 {
		t.Fatalf("quiz count: %d err=%v", n, err)
	}
	n, err = repo.CountFormSubmissions(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("form count: %d err=%v", n, err)
	}

	byUser, err := repo.ListFormSubmissionsByUser(ctx, nil, userID)
	if err != nil || len(byUser) != 1 {
		t.Fatalf("form list by user: %v (%d rows)", err, len(byUser))
	}
}
