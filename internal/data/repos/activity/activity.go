package activity

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexevent/participation-backend/internal/data/dberr"
	types "github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

// ActivityRepo reads and writes the three activity collections and projects
// rows into cache snapshots.
type ActivityRepo interface {
	CreateQuiz(ctx context.Context, tx *gorm.DB, quiz *types.Quiz) (*types.Quiz, error)
	CreateTask(ctx context.Context, tx *gorm.DB, task *types.Task) (*types.Task, error)
	CreateForm(ctx context.Context, tx *gorm.DB, form *types.Form) (*types.Form, error)

	GetRecord(ctx context.Context, tx *gorm.DB, t types.ActivityType, id uuid.UUID) (types.ActivityRecord, error)
	ListRecords(ctx context.Context, tx *gorm.DB, t types.ActivityType) ([]types.ActivityRecord, error)

	UpdateStatus(ctx context.Context, tx *gorm.DB, t types.ActivityType, id uuid.UUID, status string) error
}

type activityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActivityRepo(db *gorm.DB, baseLog *logger.Logger) ActivityRepo {
	repoLog := baseLog.With("repo", "ActivityRepo")
	return &activityRepo{db: db, log: repoLog}
}

func (ar *activityRepo) CreateQuiz(ctx context.Context, tx *gorm.DB, quiz *types.Quiz) (*types.Quiz, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if err := transaction.WithContext(ctx).Create(quiz).Error; err != nil {
		return nil, dberr.Map("activity.create_quiz", err)
	}
	return quiz, nil
}

func (ar *activityRepo) CreateTask(ctx context.Context, tx *gorm.DB, task *types.Task) (*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if err := transaction.WithContext(ctx).Create(task).Error; err != nil {
		return nil, dberr.Map("activity.create_task", err)
	}
	return task, nil
}

func (ar *activityRepo) CreateForm(ctx context.Context, tx *gorm.DB, form *types.Form) (*types.Form, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if err := transaction.WithContext(ctx).Create(form).Error; err != nil {
		return nil, dberr.Map("activity.create_form", err)
	}
	return form, nil
}

func (ar *activityRepo) GetRecord(ctx context.Context, tx *gorm.DB, t types.ActivityType, id uuid.UUID) (types.ActivityRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}

	switch t {
	case types.ActivityQuiz:
		var quiz types.Quiz
		if err := transaction.WithContext(ctx).Where("id = ?", id).First(&quiz).Error; err != nil {
			return types.ActivityRecord{}, dberr.Map("activity.get_record", err)
		}
		return quizRecord(&quiz), nil
	case types.ActivityForm:
		var form types.Form
		if err := transaction.WithContext(ctx).Where("id = ?", id).First(&form).Error; err != nil {
			return types.ActivityRecord{}, dberr.Map("activity.get_record", err)
		}
		return formRecord(&form), nil
	default:
		var task types.Task
		if err := transaction.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
			return types.ActivityRecord{}, dberr.Map("activity.get_record", err)
		}
		return types.RecordFromTask(&task), nil
	}
}

func (ar *activityRepo) ListRecords(ctx context.Context, tx *gorm.DB, t types.ActivityType) ([]types.ActivityRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}

	var records []types.ActivityRecord
	switch t {
	case types.ActivityQuiz:
		var quizzes []*types.Quiz
		if err := transaction.WithContext(ctx).Find(&quizzes).Error; err != nil {
			return nil, dberr.Map("activity.list_records", err)
		}
		for _, q := range quizzes {
			records = append(records, quizRecord(q))
		}
	case types.ActivityForm:
		var forms []*types.Form
		if err := transaction.WithContext(ctx).Find(&forms).Error; err != nil {
			return nil, dberr.Map("activity.list_records", err)
		}
		for _, f := range forms {
			records = append(records, formRecord(f))
		}
	default:
		var tasks []*types.Task
		if err := transaction.WithContext(ctx).Find(&tasks).Error; err != nil {
			return nil, dberr.Map("activity.list_records", err)
		}
		for _, task := range tasks {
			records = append(records, types.RecordFromTask(task))
		}
	}
	return records, nil
}

func (ar *activityRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, t types.ActivityType, id uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}

	var model any
	switch t {
	case types.ActivityQuiz:
		model = &types.Quiz{}
	case types.ActivityForm:
		model = &types.Form{}
	default:
		model = &types.Task{}
	}
	return dberr.Map("activity.update_status", transaction.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Update("status", status).Error)
}

func quizRecord(q *types.Quiz) types.ActivityRecord {
	count := jsonArrayLen(q.Questions)
	return types.RecordFromQuiz(q, count, q.PointValue)
}

func formRecord(f *types.Form) types.ActivityRecord {
	return types.RecordFromForm(f, jsonArrayLen(f.Fields))
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
