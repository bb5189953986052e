package repository

import (
	"context"
	"errors"
	"time"

	"modkeeper/internal/models"

	"gorm.io/gorm"
)

// AdminSessionRepository persists dashboard login sessions.
type AdminSessionRepository interface {
	Create(ctx context.Context, session *models.AdminSession) error
	GetByToken(ctx context.Context, token string) (*models.AdminSession, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type adminSessionRepository struct {
	db *gorm.DB
}

// NewAdminSessionRepository returns a new AdminSessionRepository implementation.
func NewAdminSessionRepository(db *gorm.DB) AdminSessionRepository {
	return &adminSessionRepository{db: db}
}

func (r *adminSessionRepository) Create(ctx context.Context, session *models.AdminSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *adminSessionRepository) GetByToken(ctx context.Context, token string) (*models.AdminSession, error) {
	var session models.AdminSession
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewUnauthorizedError("Unknown session")
		}
		return nil, models.NewInternalError(err)
	}
	return &session, nil
}

func (r *adminSessionRepository) DeleteByToken(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&models.AdminSession{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *adminSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.AdminSession{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
