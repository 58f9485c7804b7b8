package submission

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexevent/participation-backend/internal/data/dberr"
	types "github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

// SubmissionRepo covers the three submission collections.
type SubmissionRepo interface {
	CreateTaskSubmission(ctx context.Context, tx *gorm.DB, sub *types.Submission) (*types.Submission, error)
	UpdateTaskSubmissionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
	GetTaskSubmission(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Submission, error)

	CreateQuizSubmission(ctx context.Context, tx *gorm.DB, sub *types.QuizSubmission) (*types.QuizSubmission, error)
	CreateFormSubmission(ctx context.Context, tx *gorm.DB, sub *types.FormSubmission) (*types.FormSubmission, error)

	ListTaskSubmissionsByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Submission, error)
	ListQuizSubmissionsByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.QuizSubmission, error)
	ListFormSubmissionsByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.FormSubmission, error)

	ListTaskSubmissions(ctx context.Context, tx *gorm.DB) ([]*types.Submission, error)
	ListQuizSubmissions(ctx context.Context, tx *gorm.DB) ([]*types.QuizSubmission, error)
	ListFormSubmissions(ctx context.Context, tx *gorm.DB) ([]*types.FormSubmission, error)

	CountTaskSubmissionsByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
	CountQuizSubmissions(ctx context.Context, tx *gorm.DB) (int64, error)
	CountFormSubmissions(ctx context.Context, tx *gorm.DB) (int64, error)
}

type submissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionRepo {
	repoLog := baseLog.With("repo", "SubmissionRepo")
	return &submissionRepo{db: db, log: repoLog}
}

func (sr *submissionRepo) CreateTaskSubmission(ctx context.Context, tx *gorm.DB, sub *types.Submission) (*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	if err := transaction.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, dberr.Map("submission.create_task", err)
	}
	return sub, nil
}

func (sr *submissionRepo) UpdateTaskSubmissionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	return dberr.Map("submission.update_status", transaction.WithContext(ctx).
		Model(&types.Submission{}).
		Where("id = ?", id).
		Update("status", status).Error)
}

func (sr *submissionRepo) GetTaskSubmission(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var result types.Submission
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, dberr.Map("submission.get_task", err)
	}
	return &result, nil
}

func (sr *submissionRepo) CreateQuizSubmission(ctx context.Context, tx *gorm.DB, sub *types.QuizSubmission) (*types.QuizSubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	if err := transaction.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, dberr.Map("submission.create_quiz", err)
	}
	return sub, nil
}

func (sr *submissionRepo) CreateFormSubmission(ctx context.Context, tx *gorm.DB, sub *types.FormSubmission) (*types.FormSubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}
	if err := transaction.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, dberr.Map("submission.create_form", err)
	}
	return sub, nil
}

func (sr *submissionRepo) ListTaskSubmissionsByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var results []*types.Submission
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("submitted_at ASC").
		Find(&results).Error; err != nil {
		return nil, dberr.Map("submission.list_tasks_by_user", err)
	}
	return results, nil
}

func (sr *submissionRepo) ListQuizSubmissionsByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.QuizSubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var results []*types.QuizSubmission
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("submitted_at ASC").
		Find(&results).Error; err != nil {
		return nil, dberr.Map("submission.list_quizzes_by_user", err)
	}
	return results, nil
}

func (sr *submissionRepo) ListFormSubmissionsByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.FormSubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var results []*types.FormSubmission
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("submitted_at ASC").
		Find(&results).Error; err != nil {
		return nil, dberr.Map("submission.list_forms_by_user", err)
	}
	return results, nil
}

func (sr *submissionRepo) ListTaskSubmissions(ctx context.Context, tx *gorm.DB) ([]*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var results []*types.Submission
	if err := transaction.WithContext(ctx).
		Order("submitted_at ASC").
		Find(&results).Error; err != nil {
		return nil, dberr.Map("submission.list_tasks", err)
	}
	return results, nil
}

func (sr *submissionRepo) ListQuizSubmissions(ctx context.Context, tx *gorm.DB) ([]*types.QuizSubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var results []*types.QuizSubmission
	if err := transaction.WithContext(ctx).
		Order("submitted_at ASC").
		Find(&results).Error; err != nil {
		return nil, dberr.Map("submission.list_quizzes", err)
	}
	return results, nil
}

func (sr *submissionRepo) ListFormSubmissions(ctx context.Context, tx *gorm.DB) ([]*types.FormSubmission, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var results []*types.FormSubmission
	if err := transaction.WithContext(ctx).
		Order("submitted_at ASC").
		Find(&results).Error; err != nil {
		return nil, dberr.Map("submission.list_forms", err)
	}
	return results, nil
}

func (sr *submissionRepo) CountTaskSubmissionsByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var rows []struct {
		Status string
		Count  int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Submission{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, dberr.Map("submission.count_by_status", err)
	}
	out := map[string]int64{}
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (sr *submissionRepo) CountQuizSubmissions(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.QuizSubmission{}).
		Count(&count).Error; err != nil {
		return 0, dberr.Map("submission.count_quizzes", err)
	}
	return count, nil
}

func (sr *submissionRepo) CountFormSubmissions(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = sr.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.FormSubmission{}).
		Count(&count).Error; err != nil {
		return 0, dberr.Map("submission.count_forms", err)
	}
	return count, nil
}
