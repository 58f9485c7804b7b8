package user

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexevent/participation-backend/internal/data/dberr"
	types "github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

type PendingUserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, pending []*types.PendingUser) ([]*types.PendingUser, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type pendingUserRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPendingUserRepo(db *gorm.DB, baseLog *logger.Logger) PendingUserRepo {
	repoLog := baseLog.With("repo", "PendingUserRepo")
	return &pendingUserRepo{db: db, log: repoLog}
}

func (pr *pendingUserRepo) Create(ctx context.Context, tx *gorm.DB, pending []*types.PendingUser) ([]*types.PendingUser, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	if len(pending) == 0 {
		return []*types.PendingUser{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&pending).Error; err != nil {
		return nil, dberr.Map("pending_user.create", err)
	}
	return pending, nil
}

func (pr *pendingUserRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	return dberr.Map("pending_user.delete", transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.PendingUser{}).Error)
}

func (pr *pendingUserRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.PendingUser{}).
		Count(&count).Error; err != nil {
		return 0, dberr.Map("pending_user.count", err)
	}
	return count, nil
}
