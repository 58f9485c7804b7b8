package user

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexevent/participation-backend/internal/data/dberr"
	types "github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error)
	GetByID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error)
	ListEligibleIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error)
	ListEligible(ctx context.Context, tx *gorm.DB) ([]*types.User, error)
	AddPoints(ctx context.Context, tx *gorm.DB, userID uuid.UUID, delta int) error
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
	SumPoints(ctx context.Context, tx *gorm.DB) (int64, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	repoLog := baseLog.With("repo", "UserRepo")
	return &userRepo{db: db, log: repoLog}
}

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	if len(users) == 0 {
		return []*types.User{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&users).Error; err != nil {
		return nil, dberr.Map("user.create", err)
	}

	return users, nil
}

func (ur *userRepo) GetByID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var result types.User
	if err := transaction.WithContext(ctx).
		Where("id = ?", userID).
		First(&result).Error; err != nil {
		return nil, dberr.Map("user.get", err)
	}
	return &result, nil
}

func (ur *userRepo) ListEligibleIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var ids []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("eligible = ?", true).
		Pluck("id", &ids).Error; err != nil {
		return nil, dberr.Map("user.list_eligible_ids", err)
	}
	return ids, nil
}

func (ur *userRepo) ListEligible(ctx context.Context, tx *gorm.DB) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var results []*types.User
	if err := transaction.WithContext(ctx).
		Where("eligible = ?", true).
		Find(&results).Error; err != nil {
		return nil, dberr.Map("user.list_eligible", err)
	}
	return results, nil
}

func (ur *userRepo) AddPoints(ctx context.Context, tx *gorm.DB, userID uuid.UUID, delta int) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	return dberr.Map("user.add_points", transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Update("points", gorm.Expr("points + ?", delta)).Error)
}

func (ur *userRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Count(&count).Error; err != nil {
		return 0, dberr.Map("user.count", err)
	}
	return count, nil
}

func (ur *userRepo) SumPoints(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var sum *int64
	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Select("SUM(points)").
		Scan(&sum).Error; err != nil {
		return 0, dberr.Map("user.sum_points", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
